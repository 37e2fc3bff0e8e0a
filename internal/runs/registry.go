package runs

import (
	"context"
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/JakeFAU/rag-pipeline-client/internal/pipeline"
)

// Factory performs the work of a run. ctx is cancelled when the registry
// abandons the run; events should be published through run.
type Factory func(ctx context.Context, run *Run) (pipeline.Result, error)

// Registry maps run keys to in-flight runs. It is safe for concurrent use.
type Registry struct {
	base   context.Context
	logger *zap.Logger

	mu   sync.Mutex
	runs map[string]*Run
}

// NewRegistry builds a Registry. Runs derive their context from base, not
// from any caller, so one caller going away does not stop a shared run.
func NewRegistry(base context.Context, logger *zap.Logger) *Registry {
	if base == nil {
		base = context.Background()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		base:   base,
		logger: logger,
		runs:   make(map[string]*Run),
	}
}

// StartOrJoin returns the in-flight run for key, starting one with factory
// if none exists. sub is subscribed before the factory starts, so a starting
// caller sees every event. joined is true when an existing run was returned,
// in which case factory is not called. Every returned run counts the caller
// as a waiter until its Wait returns. A run that all of its waiters abandoned
// is not joined; the caller waits for it to wind down and starts a fresh one.
func (r *Registry) StartOrJoin(key string, sub pipeline.StepFunc, factory Factory) (run *Run, unsubscribe func(), joined bool) {
	for {
		r.mu.Lock()
		existing, ok := r.runs[key]
		if !ok {
			break
		}
		if existing.join() {
			unsubscribe = existing.Subscribe(sub)
			r.mu.Unlock()
			r.logger.Debug("joined in-flight run", zap.String("run_key", key))
			return existing, unsubscribe, true
		}
		r.mu.Unlock()
		r.logger.Debug("waiting for abandoned run to wind down", zap.String("run_key", key))
		<-existing.Done()
	}
	ctx, cancel := context.WithCancelCause(r.base)
	run = newRun(key, cancel)
	run.join()
	unsubscribe = run.Subscribe(sub)
	r.runs[key] = run
	r.mu.Unlock()

	r.logger.Debug("run started", zap.String("run_key", key))
	go r.execute(ctx, run, factory)
	return run, unsubscribe, false
}

func (r *Registry) execute(ctx context.Context, run *Run, factory Factory) {
	var (
		result pipeline.Result
		err    error
	)
	defer func() {
		if p := recover(); p != nil {
			result = nil
			err = errors.Newf("run %s panicked: %v", run.key, p)
		}
		r.remove(run)
		run.settle(result, err)
		if err != nil {
			r.logger.Info("run settled with error", zap.String("run_key", run.key), zap.Error(err))
			return
		}
		r.logger.Info("run settled", zap.String("run_key", run.key), zap.Int("steps", len(result)))
	}()
	result, err = factory(ctx, run)
}

func (r *Registry) remove(run *Run) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs[run.key] == run {
		delete(r.runs, run.key)
	}
}

// Get returns the in-flight run for key, if any.
func (r *Registry) Get(key string) (*Run, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[key]
	return run, ok
}

// CancelAll cancels every in-flight run with cause.
func (r *Registry) CancelAll(cause error) {
	r.mu.Lock()
	runs := make([]*Run, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, run)
	}
	r.mu.Unlock()
	for _, run := range runs {
		run.cancel(cause)
	}
}

// Wait blocks until no runs are in flight or ctx ends.
func (r *Registry) Wait(ctx context.Context) error {
	for {
		r.mu.Lock()
		var pending *Run
		for _, run := range r.runs {
			pending = run
			break
		}
		r.mu.Unlock()
		if pending == nil {
			return nil
		}
		select {
		case <-pending.Done():
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "wait for in-flight runs")
		}
	}
}

// Keys lists in-flight run keys, sorted.
func (r *Registry) Keys() []string {
	r.mu.Lock()
	keys := make([]string, 0, len(r.runs))
	for k := range r.runs {
		keys = append(keys, k)
	}
	r.mu.Unlock()
	sort.Strings(keys)
	return keys
}

// Len reports the number of in-flight runs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}
