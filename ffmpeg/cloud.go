package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"os"

	"ffscript/logger"
	"ffscript/storage"
)

// CloudEngine keeps a job's inputs in object storage. Inputs are uploaded
// when prepared and staged back into a local workspace right before the
// engine runs, so the worker that executes a job only needs the store.
type CloudEngine struct {
	store storage.ObjectStore
	local *LocalEngine
}

func NewCloudEngine(store storage.ObjectStore, local *LocalEngine) *CloudEngine {
	return &CloudEngine{store: store, local: local}
}

func (e *CloudEngine) Mode() Mode { return ModeCloud }

func (e *CloudEngine) Open(ctx context.Context, jobID, userID string) (Workspace, error) {
	ws, err := e.local.open(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return &cloudWorkspace{
		store:  e.store,
		local:  ws,
		prefix: storage.UploadPrefix(userID, jobID),
	}, nil
}

type cloudWorkspace struct {
	store  storage.ObjectStore
	local  *localWorkspace
	prefix string
	inputs []string
}

func (w *cloudWorkspace) PrepareInput(ctx context.Context, name string, r io.Reader) error {
	if !isBaseName(name) {
		return fmt.Errorf("invalid input name %q", name)
	}

	rs, ok := r.(io.ReadSeeker)
	if !ok {
		spool, err := w.spool(r)
		if err != nil {
			return err
		}
		defer func() {
			spool.Close()
			os.Remove(spool.Name())
		}()
		rs = spool
	}

	key := w.prefix + name
	if err := w.store.PutObject(ctx, key, rs, ""); err != nil {
		return fmt.Errorf("failed to upload input %s: %w", name, err)
	}
	w.inputs = append(w.inputs, name)
	logger.Debug("input uploaded", "engine", map[string]interface{}{"key": key})
	return nil
}

// spool copies a stream into the workspace so it can be uploaded with a known length.
func (w *cloudWorkspace) spool(r io.Reader) (*os.File, error) {
	f, err := os.CreateTemp(w.local.dir, ".spool-*")
	if err != nil {
		return nil, fmt.Errorf("failed to spool input: %w", err)
	}
	limit := w.local.engine.maxInputSize
	src := r
	if limit > 0 {
		src = &io.LimitedReader{R: r, N: limit + 1}
	}
	written, err := io.Copy(f, src)
	if err == nil && limit > 0 && written > limit {
		err = fmt.Errorf("input file size exceeds limit of %d bytes", limit)
	}
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("failed to spool input: %w", err)
	}
	return f, nil
}

func (w *cloudWorkspace) Execute(ctx context.Context, args []string, onProgress ProgressFunc) (string, error) {
	for _, name := range w.inputs {
		if err := w.stage(ctx, name); err != nil {
			return "", err
		}
	}
	return w.local.Execute(ctx, args, onProgress)
}

func (w *cloudWorkspace) stage(ctx context.Context, name string) error {
	rc, err := w.store.GetObject(ctx, w.prefix+name)
	if err != nil {
		return fmt.Errorf("failed to fetch input %s: %w", name, err)
	}
	defer rc.Close()
	return w.local.PrepareInput(ctx, name, rc)
}

func (w *cloudWorkspace) ReadOutput(ctx context.Context, name string) (io.ReadSeekCloser, error) {
	return w.local.ReadOutput(ctx, name)
}

func (w *cloudWorkspace) Close() error {
	return w.local.Close()
}
