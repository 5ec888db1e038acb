package entity

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// StatusRecord is what a poller sees for a job. Only terminal records are
// ever stored; Processing is synthesized when nothing is found.
type StatusRecord struct {
	JobID  string `json:"job_id"`
	Status Status `json:"status"`
	URL    string `json:"url,omitempty"`
	Error  string `json:"error,omitempty"`
}

func (r StatusRecord) IsTerminal() bool {
	return r.Status == StatusCompleted || r.Status == StatusError
}

func Processing(id string) StatusRecord {
	return StatusRecord{JobID: id, Status: StatusProcessing}
}

func Completed(id uuid.UUID, url string) StatusRecord {
	return StatusRecord{JobID: id.String(), Status: StatusCompleted, URL: url}
}

func Failed(id uuid.UUID, detail string) StatusRecord {
	if detail == "" {
		detail = "unknown error"
	}
	return StatusRecord{JobID: id.String(), Status: StatusError, Error: detail}
}

// JobState is the ledger view of a job, kept alongside the mailbox.
type JobState string

const (
	StateSubmitted JobState = "submitted"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateError     JobState = "error"
)

type JobRecord struct {
	ID        uuid.UUID `json:"job_id"`
	Kind      JobKind   `json:"kind"`
	VideoURL  string    `json:"video_url"`
	AudioURL  string    `json:"audio_url,omitempty"`
	State     JobState  `json:"state"`
	ResultURL *string   `json:"url,omitempty"`
	Error     *string   `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
