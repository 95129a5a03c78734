package store

import (
	"errors"
	"time"
)

// ErrTransition is returned when a job update does not match the job's current status.
var ErrTransition = errors.New("invalid job status transition")

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCanceled   Status = "canceled"
)

// Terminal reports whether no further transition is allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCanceled
}

// CanTransition reports whether a job may move from s to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusCanceled || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed || next == StatusCanceled
	default:
		return false
	}
}

// sourcesOf lists the statuses a job may leave for next.
func sourcesOf(next Status) []Status {
	var from []Status
	for _, s := range []Status{StatusPending, StatusProcessing} {
		if s.CanTransition(next) {
			from = append(from, s)
		}
	}
	return from
}

// Job is one processing request.
type Job struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId,omitempty"`
	Script         string    `json:"script"`
	Mode           string    `json:"mode"`
	Status         Status    `json:"status"`
	Progress       int       `json:"progress"`
	Error          string    `json:"error,omitempty"`
	Args           []string  `json:"args"`
	DefaultCommand bool      `json:"defaultCommand"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `json:"updatedAt"`
	StartedAt      time.Time `json:"startedAt,omitempty"`
	CompletedAt    time.Time `json:"completedAt,omitempty"`
	Results        []Result  `json:"results,omitempty"`
}

// Result is the published output of a completed job.
type Result struct {
	ID          string    `json:"id"`
	JobID       string    `json:"jobId"`
	StoragePath string    `json:"storagePath"`
	FileName    string    `json:"fileName"`
	FileSize    int64     `json:"fileSize"`
	CreatedAt   time.Time `json:"createdAt"`
}
