package ffmpeg

import (
	"context"
	"fmt"
	"io"
)

// Mode selects where a job's inputs and results live.
type Mode string

const (
	ModeLocal Mode = "local"
	ModeCloud Mode = "cloud"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeLocal, ModeCloud:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown processing mode %q", s)
	}
}

// ProgressFunc receives engine progress as a percentage in [0, 99].
type ProgressFunc func(percent int)

// Engine hands out per-job workspaces.
type Engine interface {
	Mode() Mode
	Open(ctx context.Context, jobID, userID string) (Workspace, error)
}

// Workspace is the engine's view of one job. Inputs must be prepared under
// the synthetic names the argument list refers to.
type Workspace interface {
	PrepareInput(ctx context.Context, name string, r io.Reader) error
	Execute(ctx context.Context, args []string, onProgress ProgressFunc) (logOutput string, err error)
	ReadOutput(ctx context.Context, name string) (io.ReadSeekCloser, error)
	Close() error
}
