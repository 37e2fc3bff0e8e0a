// Package runs keeps the registry of in-flight pipeline runs. At most one run
// exists per key; later callers join the existing run and share its outcome.
package runs

import (
	"context"
	"maps"
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/JakeFAU/rag-pipeline-client/internal/pipeline"
)

// ErrNoWaiters is the cause a run is cancelled with once every caller that
// started or joined it has stopped waiting.
var ErrNoWaiters = errors.New("every caller stopped waiting")

// Run is a single in-flight orchestration shared by every caller that joined
// it. It settles exactly once.
type Run struct {
	key    string
	cancel context.CancelCauseFunc
	done   chan struct{}
	result pipeline.Result
	err    error

	mu         sync.Mutex
	subs       []*subscriber
	nextID     int
	terminated bool
	waiters    int
	abandoned  bool
}

type subscriber struct {
	id int
	fn pipeline.StepFunc
}

func newRun(key string, cancel context.CancelCauseFunc) *Run {
	return &Run{
		key:    key,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Key returns the run key.
func (r *Run) Key() string {
	return r.key
}

// Done is closed once the run has settled.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run settles or ctx ends. A ctx ending detaches the
// waiter; when it was the last one, the run is cancelled with ErrNoWaiters.
// Each caller gets its own copy of the result.
func (r *Run) Wait(ctx context.Context) (pipeline.Result, error) {
	select {
	case <-r.done:
		return maps.Clone(r.result), r.err
	default:
	}
	select {
	case <-r.done:
		return maps.Clone(r.result), r.err
	case <-ctx.Done():
		r.leave()
		return nil, pipeline.MarkAbandoned(errors.Wrapf(context.Cause(ctx), "stopped waiting for run %s", r.key))
	}
}

// join registers one more waiter. It fails once the run has been abandoned
// by all of its waiters.
func (r *Run) join() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.abandoned {
		return false
	}
	r.waiters++
	return true
}

func (r *Run) leave() {
	r.mu.Lock()
	if r.waiters > 0 {
		r.waiters--
	}
	last := r.waiters == 0 && !r.abandoned
	if last {
		r.abandoned = true
	}
	r.mu.Unlock()
	if last {
		r.cancel(ErrNoWaiters)
	}
}

// Subscribe attaches fn to the event stream from this point on and returns a
// func that detaches it.
func (r *Run) Subscribe(fn pipeline.StepFunc) func() {
	if fn == nil {
		return func() {}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	id := r.nextID
	r.subs = append(r.subs, &subscriber{id: id, fn: fn})
	return func() { r.unsubscribe(id) }
}

func (r *Run) unsubscribe(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, s := range r.subs {
		if s.id == id {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers evt to every subscriber in subscription order. Nothing is
// delivered after a terminal pipeline event.
func (r *Run) Publish(evt pipeline.ProgressEvent) {
	r.mu.Lock()
	if r.terminated {
		r.mu.Unlock()
		return
	}
	if evt.IsTerminal() {
		r.terminated = true
	}
	subs := append([]*subscriber(nil), r.subs...)
	r.mu.Unlock()
	for _, s := range subs {
		s.fn(evt)
	}
}

// Terminated reports whether a terminal event has been published.
func (r *Run) Terminated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminated
}

func (r *Run) settle(result pipeline.Result, err error) {
	r.result = result
	r.err = err
	r.cancel(nil)
	close(r.done)
}
