// Package job runs keyed background work with at most one run per key in flight.
package job

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRunning
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseRunning:
		return "running"
	case PhaseFailed:
		return "failed"
	default:
		return "idle"
	}
}

// Outcome tells the caller of Start whether it launched the run or joined an existing one.
type Outcome int

const (
	Started Outcome = iota
	Joined
)

type run struct {
	done  chan struct{}
	err   error
	start time.Time
}

type failure struct {
	err       error
	at        time.Time
	transient bool
}

// Manager is a single-flight registry. Each key has at most one goroutine
// running its work. The last failure of a key is remembered until the key is
// started again, and restarts are refused for the cooldown after a failure
// unless the failure was marked Transient.
type Manager struct {
	name     string
	cooldown time.Duration
	now      func() time.Time

	mu       sync.Mutex
	running  map[string]*run
	failures map[string]failure
	wg       sync.WaitGroup
}

// NewManager creates a new job manager
func NewManager(name string, cooldown time.Duration) *Manager {
	return &Manager{
		name:     name,
		cooldown: cooldown,
		now:      time.Now,
		running:  make(map[string]*run),
		failures: make(map[string]failure),
	}
}

// Start launches fn for key unless a run is already in flight, in which case
// the caller joins it. A key that failed less than the cooldown ago is not
// restarted and ErrCoolingDown is returned wrapping the last failure.
func (m *Manager) Start(key string, fn func() error) (Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.running[key]; ok {
		return Joined, nil
	}
	if f, ok := m.failures[key]; ok {
		if !f.transient && m.now().Sub(f.at) < m.cooldown {
			return Joined, fmt.Errorf("%w: %v", ErrCoolingDown, f.err)
		}
		delete(m.failures, key)
	}

	r := &run{done: make(chan struct{}), start: m.now()}
	m.running[key] = r
	m.wg.Add(1)

	go m.execute(key, r, fn)

	return Started, nil
}

func (m *Manager) execute(key string, r *run, fn func() error) {
	defer m.wg.Done()

	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("panic: %v", p)
			}
		}()
		return fn()
	}()

	m.mu.Lock()
	r.err = err
	delete(m.running, key)
	if err != nil {
		m.failures[key] = failure{err: err, at: m.now(), transient: isTransient(err)}
	}
	m.mu.Unlock()
	close(r.done)

	if err != nil {
		slog.Error("Job failed", "kind", m.name, "key", key, "error", err)
		return
	}
	slog.Info("Job completed", "kind", m.name, "key", key, "duration", time.Since(r.start))
}

// State reports whether key is running, failed on its last run, or idle.
// For failed keys the last error is returned.
func (m *Manager) State(key string) (Phase, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.running[key]; ok {
		return PhaseRunning, nil
	}
	if f, ok := m.failures[key]; ok {
		return PhaseFailed, f.err
	}
	return PhaseIdle, nil
}

// Wait blocks until the in-flight run for key finishes and returns its error.
// It returns ErrNotFound if nothing is running for key.
func (m *Manager) Wait(ctx context.Context, key string) error {
	m.mu.Lock()
	r, ok := m.running[key]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}

	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Running lists the keys currently in flight, sorted.
func (m *Manager) Running() []string {
	m.mu.Lock()
	keys := make([]string, 0, len(m.running))
	for k := range m.running {
		keys = append(keys, k)
	}
	m.mu.Unlock()

	sort.Strings(keys)
	return keys
}

// Drain waits for every in-flight run to finish or for ctx to end.
func (m *Manager) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
