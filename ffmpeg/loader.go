package ffmpeg

import (
	"context"
	"sync"
)

type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateFailed   State = "failed"
)

type attempt struct {
	done chan struct{}
	err  error
}

// Loader runs an engine's load step at most once at a time. Callers that
// arrive while a load is in flight wait for that load instead of starting
// another. A failed load is retried by the next caller.
type Loader struct {
	load func(ctx context.Context) error

	mu      sync.Mutex
	state   State
	current *attempt
	lastErr error
}

func NewLoader(load func(ctx context.Context) error) *Loader {
	return &Loader{load: load, state: StateUnloaded}
}

func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Err returns the error of the most recent failed load, if any.
func (l *Loader) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastErr
}

// Load waits until the engine is ready, starting a load if none is running.
// Canceling ctx stops the wait, not the shared load.
func (l *Loader) Load(ctx context.Context) error {
	l.mu.Lock()
	switch l.state {
	case StateReady:
		l.mu.Unlock()
		return nil
	case StateLoading:
		a := l.current
		l.mu.Unlock()
		return wait(ctx, a)
	}

	a := &attempt{done: make(chan struct{})}
	l.state = StateLoading
	l.current = a
	l.mu.Unlock()

	go l.run(a)
	return wait(ctx, a)
}

func (l *Loader) run(a *attempt) {
	err := l.load(context.Background())

	l.mu.Lock()
	a.err = err
	if err != nil {
		l.state = StateFailed
		l.lastErr = err
	} else {
		l.state = StateReady
		l.lastErr = nil
	}
	l.mu.Unlock()
	close(a.done)
}

func wait(ctx context.Context, a *attempt) error {
	select {
	case <-a.done:
		return a.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
