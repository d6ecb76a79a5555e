package worker

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"facecheck/internal/metrics"
)

// Runner is anything the registry can run for a session.
type Runner interface {
	Run(ctx context.Context) error
}

// Factory builds the runner for a session and camera source.
type Factory func(sessionID int64, source string) Runner

// Controller starts and stops session workers. Both calls are idempotent and
// return without waiting for the worker.
type Controller interface {
	StartSession(ctx context.Context, sessionID int64, source string) error
	StopSession(ctx context.Context, sessionID int64) error
}

// Lease keeps a session's worker unique across processes. Renew reports false
// once the owner no longer holds the session.
type Lease interface {
	Acquire(ctx context.Context, sessionID int64, owner string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, sessionID int64, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, sessionID int64, owner string) error
}

type handle struct {
	source  string
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

// Registry guarantees at most one live worker per session in this process.
// With a lease it also keeps other processes off the same session.
type Registry struct {
	factory Factory

	lease    Lease
	owner    string
	leaseTTL time.Duration

	mu      sync.Mutex
	workers map[int64]*handle
	wg      sync.WaitGroup
}

// NewRegistry creates an empty registry.
func NewRegistry(factory Factory) *Registry {
	return &Registry{factory: factory, workers: map[int64]*handle{}}
}

// WithLease makes every worker hold the session's lease as owner while it
// runs. A worker that cannot take the lease exits without opening the camera
// and one that loses it is stopped. Call before the first Start.
func (r *Registry) WithLease(lease Lease, owner string, ttl time.Duration) *Registry {
	r.lease, r.owner, r.leaseTTL = lease, owner, ttl
	return r
}

// Start launches a worker unless one is already live for the session.
// It reports whether a worker was launched.
func (r *Registry) Start(sessionID int64, source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.workers[sessionID]; ok {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &handle{source: source, started: time.Now(), cancel: cancel, done: make(chan struct{})}
	r.workers[sessionID] = h
	r.wg.Add(1)
	go r.run(ctx, sessionID, h)
	return true
}

func (r *Registry) run(ctx context.Context, sessionID int64, h *handle) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("session %d: worker panic: %v", sessionID, p)
		}
		h.cancel()
		r.mu.Lock()
		if r.workers[sessionID] == h {
			delete(r.workers, sessionID)
		}
		r.mu.Unlock()
		close(h.done)
		r.wg.Done()
	}()

	if r.lease != nil {
		ok, err := r.lease.Acquire(ctx, sessionID, r.owner, r.leaseTTL)
		if err != nil {
			log.Printf("session %d: acquire lease: %v", sessionID, err)
			return
		}
		if !ok {
			log.Printf("session %d: owned by another worker", sessionID)
			return
		}
		stop := make(chan struct{})
		renewed := make(chan struct{})
		go func() {
			defer close(renewed)
			r.renew(sessionID, h, stop)
		}()
		defer func() {
			close(stop)
			<-renewed
			rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := r.lease.Release(rctx, sessionID, r.owner); err != nil {
				log.Printf("session %d: release lease: %v", sessionID, err)
			}
		}()
	}

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	if err := r.factory(sessionID, h.source).Run(ctx); err != nil {
		log.Printf("session %d: worker exited: %v", sessionID, err)
		return
	}
	log.Printf("session %d: worker finished after %s", sessionID, time.Since(h.started).Round(time.Second))
}

// renew extends the lease until stop closes. Losing the lease cancels the
// worker; a failed renewal is retried on the next tick.
func (r *Registry) renew(sessionID int64, h *handle, stop <-chan struct{}) {
	every := r.leaseTTL / 3
	if every <= 0 {
		every = time.Second
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), every)
		ok, err := r.lease.Renew(ctx, sessionID, r.owner, r.leaseTTL)
		cancel()
		switch {
		case err != nil:
			log.Printf("session %d: renew lease: %v", sessionID, err)
		case !ok:
			log.Printf("session %d: lease lost, stopping worker", sessionID)
			h.cancel()
			return
		}
	}
}

// Stop asks the session's worker to exit. The entry disappears once the worker
// has released its camera. It reports whether a worker was live.
func (r *Registry) Stop(sessionID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.workers[sessionID]
	if ok {
		h.cancel()
	}
	return ok
}

// IsRunning reports whether a worker is live for the session.
func (r *Registry) IsRunning(sessionID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.workers[sessionID]
	return ok
}

// Done returns a channel closed when the session's worker exits, or nil when
// no worker is live.
func (r *Registry) Done(sessionID int64) <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok := r.workers[sessionID]; ok {
		return h.done
	}
	return nil
}

// Running lists the sessions with a live worker.
func (r *Registry) Running() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.workers))
	for id := range r.workers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Shutdown stops every worker and waits for them until ctx ends.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for _, h := range r.workers {
		h.cancel()
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("workers still running: %v: %w", r.Running(), ctx.Err())
	}
}

// StartSession implements Controller.
func (r *Registry) StartSession(ctx context.Context, sessionID int64, source string) error {
	r.Start(sessionID, source)
	return nil
}

// StopSession implements Controller.
func (r *Registry) StopSession(ctx context.Context, sessionID int64) error {
	r.Stop(sessionID)
	return nil
}
