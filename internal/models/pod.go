package models

import (
	"time"
)

// Pod statuses for the editorial lifecycle.
const (
	PodStatusPendingApproval = "pending_approval"
	PodStatusPublished       = "published"
	PodStatusRejected        = "rejected"
)

// Processing statuses for the pod as observed by viewers. Distinct from the
// job status: a job can complete while the pod is still rendering assets.
const (
	ProcessingPending    = "pending"
	ProcessingInProgress = "processing"
	ProcessingCompleted  = "completed"
	ProcessingFailed     = "failed"
)

// Pod is the content record being incrementally completed. It is inserted
// exactly once by the orchestrator; afterwards each fan-out worker writes
// its own disjoint set of columns.
type Pod struct {
	ID               string     `json:"id"`
	UserID           string     `json:"user_id"`
	Title            string     `json:"title"`
	ScriptDisplay    string     `json:"script_display"`
	ScriptPlain      string     `json:"script_plain"`
	Status           string     `json:"status"`
	AudioReady       bool       `json:"audio_ready"`
	ImageReady       bool       `json:"image_ready"`
	ProcessingStatus string     `json:"processing_status"`
	AudioURL         *string    `json:"audio_url,omitempty"`
	ImageURL         *string    `json:"image_url,omitempty"`
	DurationSeconds  float64    `json:"duration_seconds"`
	Sources          []Source   `json:"sources,omitempty"`
	ParentPodID      *string    `json:"parent_pod_id,omitempty"`
	Settings         JobPayload `json:"settings"`
	Embedding        []float32  `json:"embedding,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Source is one citation carried from the dossier onto the pod.
type Source struct {
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

// Dossier is the ephemeral curator output handed to the writer. It is never
// persisted on its own; its sources are folded into the pod.
type Dossier struct {
	Thesis  string   `json:"thesis"`
	Facts   []string `json:"facts"`
	Sources []Source `json:"sources"`
}

// Empty reports whether the dossier carries no usable research at all.
func (d Dossier) Empty() bool {
	return d.Thesis == "" && len(d.Facts) == 0
}

// Script is the writer output: a titled script in both display form and the
// plain form fed to speech synthesis.
type Script struct {
	Title       string `json:"title"`
	BodyDisplay string `json:"body_display"`
	BodyPlain   string `json:"body_plain"`
}
