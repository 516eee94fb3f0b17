package models

import (
	"encoding/json"
	"time"
)

// Draft statuses for the context-classification gate. Rejected is terminal;
// analyzing hands the draft to script generation.
const (
	DraftStatusScanning  = "scanning"
	DraftStatusRejected  = "rejected"
	DraftStatusAnalyzing = "analyzing"
)

// Classification verdicts emitted by the gate.
const (
	VerdictApproved = "approved"
	VerdictRejected = "rejected"
)

// Draft is the staging record for location-triggered content. It exists
// before any job: the gate decides admissibility first, and rejected drafts
// never produce a creation job.
type Draft struct {
	ID              string          `json:"id"`
	UserID          string          `json:"user_id"`
	IntentText      string          `json:"intent_text"`
	PlaceID         string          `json:"place_id"`
	Weather         json.RawMessage `json:"weather,omitempty"`
	SceneImage      []byte          `json:"scene_image,omitempty"`
	Status          string          `json:"status"`
	ContentType     *string         `json:"content_type,omitempty"`
	RejectionReason *string         `json:"rejection_reason,omitempty"`
	TraceID         string          `json:"trace_id"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Decision is the gate's ephemeral verdict, written back onto the draft.
type Decision struct {
	Verdict     string `json:"verdict"`
	ContentType string `json:"content_type"`
	Reason      string `json:"reason"`
}
