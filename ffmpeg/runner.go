package ffmpeg

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"ffscript/config"
	"ffscript/logger"
)

// LocalEngine runs the ffmpeg binary against per-job directories on this host.
type LocalEngine struct {
	bin          string
	workRoot     string
	maxInputSize int64
	thresholds   Thresholds
	loader       *Loader

	mu      sync.RWMutex
	dir     string
	ownsDir bool
}

func NewLocalEngine(cfg *config.Config) *LocalEngine {
	e := &LocalEngine{
		bin:          cfg.FFBin,
		workRoot:     cfg.WorkDir,
		maxInputSize: cfg.MaxInputSize,
		thresholds: Thresholds{
			IdleCPU:  cfg.ThrottleCPU,
			FreeMem:  cfg.ThrottleFreeMem,
			FreeDisk: cfg.ThrottleFreeDisk,
		},
	}
	e.loader = NewLoader(e.load)
	return e
}

func (e *LocalEngine) Mode() Mode { return ModeLocal }

func (e *LocalEngine) Loader() *Loader { return e.loader }

// Dir is the engine work directory. It is empty until the engine has loaded.
func (e *LocalEngine) Dir() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dir
}

func (e *LocalEngine) load(ctx context.Context) error {
	path, err := exec.LookPath(e.bin)
	if err != nil {
		return fmt.Errorf("ffmpeg binary not found or not in PATH: %s", e.bin)
	}

	probeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if out, err := exec.CommandContext(probeCtx, path, "-version").CombinedOutput(); err != nil {
		return fmt.Errorf("ffmpeg probe failed: %w: %s", err, strings.TrimSpace(string(out)))
	}

	dir, owned := e.workRoot, false
	if dir == "" {
		if dir, err = os.MkdirTemp("", "ffscript_"); err != nil {
			return fmt.Errorf("could not create work directory: %w", err)
		}
		owned = true
	} else if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("could not create work directory: %w", err)
	}

	e.mu.Lock()
	e.bin = path
	e.dir = dir
	e.ownsDir = owned
	e.mu.Unlock()

	logger.Info("ffmpeg engine loaded", "engine", map[string]interface{}{"bin": path, "work_dir": dir})
	return nil
}

// Close removes the work directory when the engine created it. A configured
// WorkDir is left in place. The engine must not be used after Close.
func (e *LocalEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.ownsDir {
		return nil
	}
	e.ownsDir = false
	return os.RemoveAll(e.dir)
}

// Open loads the engine if needed and creates the job's private directory.
func (e *LocalEngine) Open(ctx context.Context, jobID, userID string) (Workspace, error) {
	ws, err := e.open(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return ws, nil
}

func (e *LocalEngine) open(ctx context.Context, jobID string) (*localWorkspace, error) {
	if err := e.loader.Load(ctx); err != nil {
		return nil, fmt.Errorf("engine not ready: %w", err)
	}
	if !isBaseName(jobID) {
		return nil, fmt.Errorf("invalid job id %q", jobID)
	}

	e.mu.RLock()
	bin, root := e.bin, e.dir
	e.mu.RUnlock()

	dir := filepath.Join(root, "jobs", jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create workspace: %w", err)
	}
	return &localWorkspace{engine: e, bin: bin, dir: dir, jobID: jobID}, nil
}

func isBaseName(name string) bool {
	return name != "" && name != "." && name != ".." &&
		!strings.ContainsAny(name, `/\`) && filepath.Base(name) == name
}

type localWorkspace struct {
	engine *LocalEngine
	bin    string
	dir    string
	jobID  string
}

func (w *localWorkspace) PrepareInput(ctx context.Context, name string, r io.Reader) error {
	if !isBaseName(name) {
		return fmt.Errorf("invalid input name %q", name)
	}
	f, err := os.Create(filepath.Join(w.dir, name))
	if err != nil {
		return fmt.Errorf("failed to create input %s: %w", name, err)
	}
	defer f.Close()

	limit := w.engine.maxInputSize
	src := r
	if limit > 0 {
		src = &io.LimitedReader{R: r, N: limit + 1}
	}
	written, err := io.Copy(f, src)
	if err != nil {
		return fmt.Errorf("failed to write input %s: %w", name, err)
	}
	if limit > 0 && written > limit {
		return fmt.Errorf("input file size exceeds limit of %d bytes", limit)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	// Close here so the data is flushed before ffmpeg reads it.
	return f.Close()
}

func (w *localWorkspace) Execute(ctx context.Context, args []string, onProgress ProgressFunc) (string, error) {
	if err := ValidateArgs(args); err != nil {
		return "", fmt.Errorf("invalid command: %w", err)
	}
	if err := checkResources(w.engine.thresholds, w.dir); err != nil {
		return "", fmt.Errorf("insufficient system resources: %w", err)
	}

	cmd := exec.CommandContext(ctx, w.bin, args...)
	cmd.Dir = w.dir
	cmd.WaitDelay = 5 * time.Second
	out := newLogWriter(onProgress)
	cmd.Stdout = out
	cmd.Stderr = out

	logger.Info("executing ffmpeg", "engine", map[string]interface{}{
		"job_id": w.jobID,
		"args":   strings.Join(args, " "),
	})

	err := cmd.Run()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out.String(), ctxErr
		}
		return out.String(), fmt.Errorf("ffmpeg execution failed: %w", err)
	}
	return out.String(), nil
}

func (w *localWorkspace) ReadOutput(ctx context.Context, name string) (io.ReadSeekCloser, error) {
	p := filepath.Join(w.dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(w.dir, p)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return nil, fmt.Errorf("output %q is outside the workspace", name)
	}
	f, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("failed to open output %s: %w", name, err)
	}
	return f, nil
}

func (w *localWorkspace) Close() error {
	return os.RemoveAll(w.dir)
}
