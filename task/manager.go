package task

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"ffscript/config"
	"ffscript/ffmpeg"
	"ffscript/logger"
	"ffscript/script"
	"ffscript/storage"
	"ffscript/store"

	"github.com/lithammer/shortuuid/v4"
)

const component = "task"

type Manager struct {
	cfg            *config.Config
	repo           store.Repository
	engines        map[ffmpeg.Mode]ffmpeg.Engine
	results        map[ffmpeg.Mode]storage.ObjectStore
	stageDir       string
	tasks          sync.Map
	taskQueue      chan *Task
	concurrencySem chan struct{}
	wg             sync.WaitGroup
}

// NewManager wires the job store to one engine and one result store per mode.
func NewManager(
	cfg *config.Config,
	repo store.Repository,
	engines map[ffmpeg.Mode]ffmpeg.Engine,
	results map[ffmpeg.Mode]storage.ObjectStore,
) (*Manager, error) {
	for mode := range engines {
		if results[mode] == nil {
			return nil, fmt.Errorf("no result store for mode %s", mode)
		}
	}

	stageDir := filepath.Join(os.TempDir(), "ffscript_staging")
	if cfg.WorkDir != "" {
		stageDir = filepath.Join(cfg.WorkDir, "staging")
	}
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create staging directory: %w", err)
	}

	concurrency := cfg.MaxConcurrency
	if concurrency < 1 {
		concurrency = 1
	}
	return &Manager{
		cfg:            cfg,
		repo:           repo,
		engines:        engines,
		results:        results,
		stageDir:       stageDir,
		taskQueue:      make(chan *Task, 100),
		concurrencySem: make(chan struct{}, concurrency),
	}, nil
}

func (m *Manager) Start(ctx context.Context) {
	logger.Info("task manager started", component, map[string]interface{}{
		"concurrency": cap(m.concurrencySem),
	})
	go m.cleanupLoop(ctx)
	go m.workerLoop(ctx)
}

// Wait blocks until every running job has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// workerLoop pulls tasks from the queue and processes them
func (m *Manager) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("worker loop shutting down", component, nil)
			return
		case t := <-m.taskQueue:
			// Wait for a free processing slot
			select {
			case m.concurrencySem <- struct{}{}:
			case <-ctx.Done():
				m.abandon(t)
				return
			}
			m.wg.Add(1)
			go func(t *Task) {
				defer m.wg.Done()
				defer func() { <-m.concurrencySem }()
				m.processTask(ctx, t)
			}(t)
		}
	}
}

// abandon fails a dequeued task that will never get a worker.
func (m *Manager) abandon(t *Task) {
	defer m.release(t)
	if !t.start(func() {}) {
		return
	}
	t.finish(store.StatusFailed)
	if err := m.repo.FinishJob(context.Background(), t.Job.ID, store.StatusFailed, "server shutting down", time.Now()); err != nil {
		logger.Error("failed to persist job state", component, map[string]interface{}{"job_id": t.Job.ID, "error": err.Error()})
	}
}

func (m *Manager) processTask(parentCtx context.Context, t *Task) {
	defer m.release(t)

	var (
		taskCtx context.Context
		cancel  context.CancelFunc
	)
	if m.cfg.FFTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(parentCtx, m.cfg.FFTimeout)
	} else {
		taskCtx, cancel = context.WithCancel(parentCtx)
	}
	defer cancel()

	job := t.Job
	if !t.start(cancel) {
		logger.Info("job was canceled before processing", component, map[string]interface{}{"job_id": job.ID})
		return
	}

	// State changes are persisted even when the job context is done.
	dbCtx := context.WithoutCancel(parentCtx)

	if err := m.repo.MarkJobStarted(dbCtx, job.ID, time.Now()); err != nil {
		logger.Error("failed to mark job started", component, map[string]interface{}{"job_id": job.ID, "error": err.Error()})
	}
	logger.Info("processing job", component, map[string]interface{}{"job_id": job.ID, "mode": job.Mode})

	engineLog, err := m.run(taskCtx, dbCtx, t)

	status, errMsg := store.StatusCompleted, ""
	switch {
	case err == nil:
		logger.Info("job completed", component, map[string]interface{}{"job_id": job.ID})
	case taskCtx.Err() != nil:
		status = store.StatusCanceled
		errMsg = "job was canceled"
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			errMsg = fmt.Sprintf("job timed out after %s", m.cfg.FFTimeout)
		}
		logger.Warn(errMsg, component, map[string]interface{}{"job_id": job.ID})
	default:
		status = store.StatusFailed
		errMsg = err.Error()
		logger.Error("job failed", component, map[string]interface{}{
			"job_id": job.ID,
			"error":  errMsg,
			"log":    tail(engineLog, 2048),
		})
	}

	t.finish(status)
	if err := m.repo.FinishJob(dbCtx, job.ID, status, errMsg, time.Now()); err != nil {
		logger.Error("failed to persist job state", component, map[string]interface{}{"job_id": job.ID, "error": err.Error()})
	}
}

// run executes the job in a fresh workspace and publishes its output.
func (m *Manager) run(ctx, dbCtx context.Context, t *Task) (string, error) {
	job := t.Job
	mode := ffmpeg.Mode(job.Mode)
	engine, ok := m.engines[mode]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedMode, job.Mode)
	}

	ws, err := engine.Open(ctx, job.ID, job.UserID)
	if err != nil {
		return "", err
	}
	defer func() {
		if err := ws.Close(); err != nil {
			logger.Warn("failed to remove workspace", component, map[string]interface{}{"job_id": job.ID, "error": err.Error()})
		}
	}()

	for i, f := range t.Files {
		if err := prepare(ctx, ws, script.SyntheticName(i, f.Name), f.Path); err != nil {
			return "", err
		}
	}

	last := -1
	engineLog, err := ws.Execute(ctx, job.Args, func(percent int) {
		if percent == last {
			return
		}
		last = percent
		if err := m.repo.UpdateJobProgress(dbCtx, job.ID, percent); err != nil {
			logger.Warn("failed to persist progress", component, map[string]interface{}{"job_id": job.ID, "error": err.Error()})
		}
	})
	if err != nil {
		return engineLog, err
	}

	out, err := ws.ReadOutput(ctx, t.Output)
	if err != nil {
		return engineLog, err
	}
	defer out.Close()

	return engineLog, m.publish(ctx, dbCtx, t, out)
}

func prepare(ctx context.Context, ws ffmpeg.Workspace, name, stagedPath string) error {
	f, err := os.Open(stagedPath)
	if err != nil {
		return fmt.Errorf("failed to open staged input: %w", err)
	}
	defer f.Close()
	return ws.PrepareInput(ctx, name, f)
}

func (m *Manager) publish(ctx, dbCtx context.Context, t *Task, out io.ReadSeeker) error {
	job := t.Job
	size, err := out.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("failed to size output: %w", err)
	}
	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("failed to rewind output: %w", err)
	}

	now := time.Now()
	key := storage.ResultKey(job.UserID, job.ID, t.Files[0].Name, t.Output, now)
	contentType := mime.TypeByExtension(path.Ext(key))
	if err := m.results[ffmpeg.Mode(job.Mode)].PutObject(ctx, key, out, contentType); err != nil {
		return fmt.Errorf("failed to publish result: %w", err)
	}

	res := &store.Result{
		ID:          shortuuid.New(),
		JobID:       job.ID,
		StoragePath: key,
		FileName:    path.Base(key),
		FileSize:    size,
		CreatedAt:   now,
	}
	if err := m.repo.CreateResult(dbCtx, res); err != nil {
		return fmt.Errorf("failed to record result: %w", err)
	}
	logger.Info("result published", component, map[string]interface{}{"job_id": job.ID, "key": key, "size": size})
	return nil
}

// release forgets a finished task and removes its staged uploads.
func (m *Manager) release(t *Task) {
	m.tasks.Delete(t.Job.ID)
	if err := os.RemoveAll(filepath.Join(m.stageDir, t.Job.ID)); err != nil {
		logger.Warn("failed to remove staged inputs", component, map[string]interface{}{"job_id": t.Job.ID, "error": err.Error()})
	}
}

// cleanupLoop periodically removes expired local results.
func (m *Manager) cleanupLoop(ctx context.Context) {
	if m.cfg.OutputLocalLifetime <= 0 {
		return
	}
	ticker := time.NewTicker(m.cfg.OutputLocalLifetime / 4) // Check 4 times per lifetime
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup loop shutting down", component, nil)
			return
		case <-ticker.C:
			m.cleanupExpired(ctx, time.Now().Add(-m.cfg.OutputLocalLifetime))
		}
	}
}

func (m *Manager) cleanupExpired(ctx context.Context, before time.Time) {
	results, ok := m.results[ffmpeg.ModeLocal]
	if !ok {
		return
	}
	expired, err := m.repo.ListExpiredResults(ctx, string(ffmpeg.ModeLocal), before)
	if err != nil {
		logger.Error("failed to list expired results", component, map[string]interface{}{"error": err.Error()})
		return
	}
	for _, res := range expired {
		logger.Info("cleaning up old result", component, map[string]interface{}{"job_id": res.JobID, "key": res.StoragePath})
		if err := results.DeleteObject(ctx, res.StoragePath); err != nil {
			logger.Warn("failed to delete result object", component, map[string]interface{}{"key": res.StoragePath, "error": err.Error()})
			continue
		}
		if err := m.repo.DeleteResult(ctx, res.ID); err != nil {
			logger.Warn("failed to delete result record", component, map[string]interface{}{"id": res.ID, "error": err.Error()})
		}
	}
}

// Submit translates the script, stages the uploads and queues a pending job.
func (m *Manager) Submit(ctx context.Context, req SubmitRequest) (*store.Job, script.Translation, error) {
	if len(req.Files) == 0 {
		return nil, script.Translation{}, ErrNoInputs
	}
	mode := req.Mode
	if mode == "" {
		mode = ffmpeg.Mode(m.cfg.DefaultMode)
	}
	if _, ok := m.engines[mode]; !ok {
		return nil, script.Translation{}, fmt.Errorf("%w: %s", ErrUnsupportedMode, mode)
	}

	inputs := make([]script.InputFile, len(req.Files))
	for i, f := range req.Files {
		inputs[i] = script.InputFile{Name: f.Name, ContentType: f.ContentType}
	}
	tr := script.TranslateScript(req.Script, inputs)

	now := time.Now()
	job := &store.Job{
		ID:             fmt.Sprintf("%s_%d", shortuuid.New(), now.Unix()),
		UserID:         req.UserID,
		Script:         req.Script,
		Mode:           string(mode),
		Status:         store.StatusPending,
		Args:           tr.Args,
		DefaultCommand: tr.Fallback,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if tr.Fallback {
		logger.Warn("script has no usable input directive, using the default command", component, map[string]interface{}{"job_id": job.ID})
	}

	files, err := m.stage(job.ID, req.Files)
	if err != nil {
		os.RemoveAll(filepath.Join(m.stageDir, job.ID))
		return nil, script.Translation{}, err
	}
	if err := m.repo.CreateJob(ctx, job); err != nil {
		os.RemoveAll(filepath.Join(m.stageDir, job.ID))
		return nil, script.Translation{}, fmt.Errorf("failed to create job: %w", err)
	}

	t := &Task{Job: job, Files: files, Output: tr.Output, status: store.StatusPending}
	m.tasks.Store(job.ID, t)
	select {
	case m.taskQueue <- t:
	case <-ctx.Done():
		m.abandon(t)
		return nil, script.Translation{}, ctx.Err()
	}

	logger.Info("job submitted to queue", component, map[string]interface{}{
		"job_id": job.ID,
		"mode":   job.Mode,
		"files":  len(files),
	})
	return job, tr, nil
}

func (m *Manager) stage(jobID string, uploads []Upload) ([]StagedFile, error) {
	dir := filepath.Join(m.stageDir, jobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create staging directory: %w", err)
	}

	files := make([]StagedFile, 0, len(uploads))
	for i, u := range uploads {
		p := filepath.Join(dir, script.SyntheticName(i, u.Name))
		size, err := m.copyLimited(p, u.Reader)
		if err != nil {
			return nil, fmt.Errorf("staging %s: %w", u.Name, err)
		}
		files = append(files, StagedFile{Name: u.Name, ContentType: u.ContentType, Path: p, Size: size})
	}
	return files, nil
}

func (m *Manager) copyLimited(dst string, r io.Reader) (int64, error) {
	f, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	limit := m.cfg.MaxInputSize
	src := r
	if limit > 0 {
		src = &io.LimitedReader{R: r, N: limit + 1}
	}
	written, err := io.Copy(f, src)
	if err != nil {
		return 0, err
	}
	if limit > 0 && written > limit {
		return 0, fmt.Errorf("%w: limit is %d bytes", ErrInputTooLarge, limit)
	}
	return written, f.Close()
}

// Get returns a job with its results.
func (m *Manager) Get(ctx context.Context, jobID string) (*store.Job, error) {
	job, err := m.repo.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, ErrNotFound
	}
	if job.Results, err = m.repo.GetResultsByJob(ctx, job.ID); err != nil {
		return nil, err
	}
	return job, nil
}

// List returns a user's job history, newest first. An empty userID lists every job.
func (m *Manager) List(ctx context.Context, userID string, limit int) ([]*store.Job, error) {
	jobs, err := m.repo.ListJobs(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		if job.Results, err = m.repo.GetResultsByJob(ctx, job.ID); err != nil {
			return nil, err
		}
	}
	return jobs, nil
}

func (m *Manager) Cancel(ctx context.Context, jobID string) error {
	val, ok := m.tasks.Load(jobID)
	if !ok {
		job, err := m.repo.GetJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job == nil {
			return ErrNotFound
		}
		return fmt.Errorf("%w: cannot cancel job in state %s", ErrInvalidState, job.Status)
	}

	t := val.(*Task)
	t.mu.Lock()
	switch t.status {
	case store.StatusPending:
		t.status = store.StatusCanceled
		t.mu.Unlock()
		logger.Info("job marked as canceled in queue", component, map[string]interface{}{"job_id": jobID})
		return m.repo.FinishJob(ctx, jobID, store.StatusCanceled, "canceled by user while in queue", time.Now())
	case store.StatusProcessing:
		cancel := t.cancelFunc
		t.mu.Unlock()
		cancel()
		logger.Info("cancellation signal sent to running job", component, map[string]interface{}{"job_id": jobID})
		return nil
	default:
		status := t.status
		t.mu.Unlock()
		return fmt.Errorf("%w: cannot cancel job in state %s", ErrInvalidState, status)
	}
}

// OpenResult streams the published output of a completed job.
func (m *Manager) OpenResult(ctx context.Context, jobID string) (io.ReadCloser, *store.Result, error) {
	job, err := m.Get(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != store.StatusCompleted {
		return nil, nil, fmt.Errorf("%w: job is %s", ErrInvalidState, job.Status)
	}
	if len(job.Results) == 0 {
		return nil, nil, fmt.Errorf("%w: job has no result", ErrNotFound)
	}
	results, ok := m.results[ffmpeg.Mode(job.Mode)]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedMode, job.Mode)
	}

	res := job.Results[len(job.Results)-1]
	body, err := results.GetObject(ctx, res.StoragePath)
	if err != nil {
		var notFound *storage.ObjectNotFoundErr
		if errors.As(err, &notFound) {
			return nil, nil, fmt.Errorf("%w: result expired", ErrNotFound)
		}
		return nil, nil, err
	}
	return body, &res, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
