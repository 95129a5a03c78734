package task

import (
	"context"
	"errors"
	"io"
	"sync"

	"ffscript/ffmpeg"
	"ffscript/store"
)

var (
	ErrNotFound        = errors.New("job not found")
	ErrInvalidState    = errors.New("invalid job state")
	ErrNoInputs        = errors.New("at least one input file is required")
	ErrInputTooLarge   = errors.New("input file too large")
	ErrUnsupportedMode = errors.New("unsupported processing mode")
)

// Upload is one input file as the caller provided it.
type Upload struct {
	Name        string
	ContentType string
	Reader      io.Reader
}

type SubmitRequest struct {
	UserID string
	Script string
	Mode   ffmpeg.Mode
	Files  []Upload
}

// StagedFile is an upload copied to the staging area, waiting for a worker.
type StagedFile struct {
	Name        string
	ContentType string
	Path        string
	Size        int64
}

// Task is the in-memory side of a queued or running job.
type Task struct {
	Job    *store.Job
	Files  []StagedFile
	Output string

	mu         sync.Mutex
	status     store.Status
	cancelFunc context.CancelFunc
}

func (t *Task) Status() store.Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// start moves a pending task to processing. It reports false when the task
// was canceled while queued.
func (t *Task) start(cancel context.CancelFunc) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status != store.StatusPending {
		return false
	}
	t.status = store.StatusProcessing
	t.cancelFunc = cancel
	return true
}

func (t *Task) finish(status store.Status) {
	t.mu.Lock()
	t.status = status
	t.cancelFunc = nil
	t.mu.Unlock()
}
