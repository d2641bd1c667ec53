// Package runregistry tracks in-flight workflow runs and coordinates,
// across a clustered deployment, which instance is allowed to mutate a
// run's ChatHistory at Finish (spec.md §5 "Shared resources": "Finish is
// the only node that writes it and it does so once per run"). Grounded
// on internal/cluster/cluster.go — the same alan leader-lock primitive
// the teacher uses for single-writer cron scheduling is repurposed here
// for single-writer Finish commits.
package runregistry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rakunlabs/alan"
)

// Run is one tracked in-flight (or recently finished) workflow run.
type Run struct {
	ID        string
	Workflow  string
	StartedAt time.Time
	Interrupt *atomic.Bool

	cancel context.CancelFunc
}

// Cancel requests cooperative cancellation: sets Interrupt and invokes
// the driver's cancel func, if any.
func (r *Run) Cancel() {
	if r.Interrupt != nil {
		r.Interrupt.Store(true)
	}
	if r.cancel != nil {
		r.cancel()
	}
}

// Registry records run_id -> (workflow name, started_at, cancel func) so
// an operator-facing surface can list and cancel runs by id, and
// coordinates the single-writer lock Finish must hold to commit a run's
// ChatHistory in a clustered deployment.
type Registry struct {
	mu   sync.RWMutex
	runs map[string]*Run

	cluster *alan.Alan
}

const finishLockPrefix = "loom-finish-"

// New builds a Registry. cfg may be nil, in which case the registry
// still tracks runs locally but LockFinish/UnlockFinish are no-ops (single-instance
// deployment — there is only ever one writer).
func New(cfg *alan.Config) (*Registry, error) {
	reg := &Registry{runs: make(map[string]*Run)}
	if cfg == nil {
		return reg, nil
	}
	a, err := alan.New(*cfg)
	if err != nil {
		return nil, fmt.Errorf("runregistry: create alan instance: %w", err)
	}
	reg.cluster = a
	return reg, nil
}

// Start begins cluster peer discovery in the background; no-op if no
// cluster config was supplied. Blocks until ctx is cancelled.
func (r *Registry) Start(ctx context.Context) error {
	if r.cluster == nil {
		<-ctx.Done()
		return nil
	}
	r.cluster.OnPeerJoin(func(addr *net.UDPAddr) {
		slog.Info("runregistry: peer joined", "addr", addr.String())
	})
	return r.cluster.Start(ctx, func(context.Context, alan.Message) {})
}

// Begin registers a new run and returns its tracking handle plus a
// context that is cancelled when the run is cancelled externally.
func (r *Registry) Begin(ctx context.Context, workflow string) (context.Context, *Run) {
	runCtx, cancel := context.WithCancel(ctx)
	run := &Run{
		ID:        ulid.Make().String(),
		Workflow:  workflow,
		StartedAt: time.Now(),
		Interrupt: &atomic.Bool{},
		cancel:    cancel,
	}
	r.mu.Lock()
	r.runs[run.ID] = run
	r.mu.Unlock()
	return runCtx, run
}

// End removes a run from the registry once it has finished.
func (r *Registry) End(id string) {
	r.mu.Lock()
	delete(r.runs, id)
	r.mu.Unlock()
}

// Get looks up a tracked run by id.
func (r *Registry) Get(id string) (*Run, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[id]
	return run, ok
}

// List returns all currently tracked runs.
func (r *Registry) List() []*Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Run, 0, len(r.runs))
	for _, run := range r.runs {
		out = append(out, run)
	}
	return out
}

// Cancel stops a tracked run by id. Reports false if the id is unknown.
func (r *Registry) Cancel(id string) bool {
	run, ok := r.Get(id)
	if !ok {
		return false
	}
	run.Cancel()
	return true
}

// LockFinish acquires the single-writer lock for committing run's
// ChatHistory at Finish. On a single-instance deployment (no cluster
// configured) this always succeeds immediately.
func (r *Registry) LockFinish(ctx context.Context, runID string) error {
	if r.cluster == nil {
		return nil
	}
	return r.cluster.Lock(ctx, finishLockPrefix+runID)
}

// UnlockFinish releases the Finish lock acquired by LockFinish.
func (r *Registry) UnlockFinish(runID string) error {
	if r.cluster == nil {
		return nil
	}
	return r.cluster.Unlock(finishLockPrefix + runID)
}
