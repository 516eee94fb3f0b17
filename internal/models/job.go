package models

import (
	"time"
)

// Job statuses persisted in Postgres. Completed and failed are terminal.
const (
	JobStatusPending    = "pending"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
)

// Job represents one creation request: a user intent that the pipeline
// expands into a pod. The queue carries only the job ID; everything else is
// persisted here before the orchestrator is invoked.
type Job struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Type      string     `json:"type"`
	Payload   JobPayload `json:"payload"`
	Status    string     `json:"status"`
	PodID     *string    `json:"pod_id,omitempty"`
	LastError *string    `json:"last_error,omitempty"`
	TraceID   string     `json:"trace_id"`
	Attempts  int        `json:"attempts"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// JobPayload carries the creative parameters for one generation run.
type JobPayload struct {
	Purpose     string   `json:"purpose"`
	Style       string   `json:"style"`
	Mode        string   `json:"mode"`
	Topic       string   `json:"topic"`
	Inputs      []string `json:"inputs,omitempty"`
	ParentPodID string   `json:"parent_pod_id,omitempty"`
	Duration    string   `json:"duration"`
	Depth       string   `json:"depth"`
	Tone        string   `json:"tone"`
	Archetype   string   `json:"archetype,omitempty"`
	VoiceGender string   `json:"voice_gender,omitempty"`
	VoiceStyle  string   `json:"voice_style,omitempty"`
	Pace        string   `json:"pace,omitempty"`
}

// IsTerminalJobStatus reports whether a status permits no further transitions.
func IsTerminalJobStatus(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// CanTransition reports whether a job status change is legal. Terminal states
// are immutable; a job never moves backwards.
func CanTransition(from, to string) bool {
	if IsTerminalJobStatus(from) {
		return false
	}
	switch from {
	case JobStatusPending:
		return to == JobStatusProcessing || to == JobStatusFailed
	case JobStatusProcessing:
		return to == JobStatusCompleted || to == JobStatusFailed
	}
	return false
}
