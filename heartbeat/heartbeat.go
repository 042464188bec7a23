// Package heartbeat tracks admitted sessions and periodically probes each
// one with a small keepalive datagram. The probe traffic itself is outside
// proto's scope (spec calls it out explicitly as something the protocol
// must tolerate sharing a path with, not something it implements) — this
// package only owns the registry and the bounded, concurrent dispatch of
// whatever probe the caller supplies, evicting sessions that stop
// answering.
package heartbeat

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/vadixidav/longboy/session"
)

// Registry tracks every admitted session by id. Safe for concurrent use:
// the accept loop stores into it, the datagram send/receive loops touch
// entries, and the Sweeper ranges over it, all from different goroutines.
type Registry struct {
	sessions sync.Map // uint64 -> *session.Session
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Put registers or replaces a session.
func (r *Registry) Put(s *session.Session) {
	r.sessions.Store(s.ID, s)
}

// Get looks up a session by id.
func (r *Registry) Get(id uint64) (*session.Session, bool) {
	v, ok := r.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*session.Session), true
}

// Delete removes a session, e.g. once it's been evicted as unresponsive.
func (r *Registry) Delete(id uint64) {
	r.sessions.Delete(id)
}

// Range calls fn for every registered session until fn returns false.
func (r *Registry) Range(fn func(*session.Session) bool) {
	r.sessions.Range(func(_, v any) bool {
		return fn(v.(*session.Session))
	})
}

// Len returns the number of registered sessions. O(n); intended for
// metrics/logging, not hot paths.
func (r *Registry) Len() int {
	n := 0
	r.Range(func(*session.Session) bool {
		n++
		return true
	})
	return n
}

// ProbeFunc sends one keepalive attempt to s and reports whether it was
// answered (or at least dispatched without error — the transport decides).
type ProbeFunc func(ctx context.Context, s *session.Session) error

// Sweeper periodically probes every registered session with bounded
// concurrency (golang.org/x/sync/semaphore caps in-flight probes;
// golang.org/x/sync/errgroup fans them out), evicting sessions idle past
// Timeout before probing them at all.
type Sweeper struct {
	Registry    *Registry
	Period      time.Duration
	Timeout     time.Duration
	Concurrency int64
	Probe       ProbeFunc

	// Logf receives per-session probe failures. Defaults to log.Printf.
	Logf func(format string, args ...any)
}

// Run drives the sweep loop until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) error {
	logf := sw.Logf
	if logf == nil {
		logf = log.Printf
	}

	ticker := time.NewTicker(sw.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sw.sweep(ctx, logf)
		}
	}
}

func (sw *Sweeper) sweep(ctx context.Context, logf func(format string, args ...any)) {
	sem := semaphore.NewWeighted(sw.Concurrency)
	g, gctx := errgroup.WithContext(ctx)
	now := time.Now()

	sw.Registry.Range(func(s *session.Session) bool {
		if s.Idle(now, sw.Timeout) {
			logf("heartbeat: session %d idle past %s, evicting", s.ID, sw.Timeout)
			sw.Registry.Delete(s.ID)
			return true
		}
		if err := sem.Acquire(gctx, 1); err != nil {
			return false
		}
		g.Go(func() error {
			defer sem.Release(1)
			if err := sw.Probe(gctx, s); err != nil {
				logf("heartbeat: probe session %d: %v", s.ID, err)
			}
			return nil
		})
		return true
	})

	_ = g.Wait()
}
