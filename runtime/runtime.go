// Package runtime provides the tick-driven task abstraction that
// cmd/longboy-client and cmd/longboy-server use to host the proto.Sender
// tick and the server's mirror demux (which feeds each proto.Receiver), each
// on its own goroutine, all stopped together by one context.Context
// cancellation.
//
// It replaces the reference implementation's thread-per-task runtime built
// on a CancellationToken: context.Context cancellation is the idiomatic Go
// equivalent, and a goroutine is cheap enough that Task no longer needs its
// own thread pool.
package runtime

import (
	"context"
	"time"
)

// Task is one unit of tick-driven work. Poll is called once per tick with
// the elapsed time (in milliseconds, truncated to fit a uint16 — matching
// the timestamp width proto.Sender/Receiver carry on the wire) since the
// runtime started.
type Task interface {
	Name() string
	Poll(timestamp uint16)
}

// TaskFunc adapts a plain function to Task.
type TaskFunc struct {
	Tag string
	Fn  func(timestamp uint16)
}

func (f TaskFunc) Name() string          { return f.Tag }
func (f TaskFunc) Poll(timestamp uint16) { f.Fn(timestamp) }

// Runtime spawns Tasks onto goroutines, each polled once per tickInterval,
// and stops every one of them when ctx is cancelled.
type Runtime struct {
	ctx          context.Context
	tickInterval time.Duration
	started      time.Time
	done         chan struct{}
	count        int
}

// New constructs a Runtime bound to ctx; every task spawned on it stops
// when ctx is cancelled.
func New(ctx context.Context, tickInterval time.Duration) *Runtime {
	return &Runtime{
		ctx:          ctx,
		tickInterval: tickInterval,
		started:      time.Now(),
		done:         make(chan struct{}),
	}
}

// Running reports whether the Runtime's context is still live.
func (r *Runtime) Running() bool {
	return r.ctx.Err() == nil
}

// Spawned returns how many tasks have been started on this Runtime.
func (r *Runtime) Spawned() int {
	return r.count
}

// Spawn starts task on its own goroutine, polling it once per tick until
// the Runtime's context is cancelled.
func (r *Runtime) Spawn(task Task) {
	r.count++
	go r.run(task)
}

func (r *Runtime) run(task Task) {
	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			elapsed := time.Since(r.started).Milliseconds()
			task.Poll(uint16(elapsed))
		}
	}
}
