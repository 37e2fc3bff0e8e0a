package sinks

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/rag-pipeline-client/internal/pipeline"
	"github.com/JakeFAU/rag-pipeline-client/internal/progress"
)

// PrometheusSink exports pipeline progress metrics via Prometheus. It owns
// the run lifecycle collectors and the per-step event counters.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsRunning   prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	stepEvents *prometheus.CounterVec
	stepValue  *prometheus.GaugeVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "pipeline_runs_started_total",
			Help: "Total pipeline runs observed starting.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_runs_completed_total",
			Help: "Total pipeline runs completed partitioned by result.",
		}, []string{"result"}),
		runsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "pipeline_runs_running",
			Help: "Current number of pipeline runs in flight.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pipeline_run_duration_seconds",
			Help:    "Wall time per completed pipeline run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}, []string{"result"}),
		stepEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pipeline_step_events_total",
			Help: "Progress events partitioned by step and status.",
		}, []string{"step", "status"}),
		stepValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "pipeline_step_value",
			Help: "Most recent completion percentage reported per step.",
		}, []string{"step"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsRunning,
		s.runDuration,
		s.stepEvents,
		s.stepValue,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, errors.Wrap(err, "register progress collector")
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	if s.tracker.start(evt.RunKey, evt.TS) {
		s.runsStarted.Inc()
		s.runsRunning.Inc()
	}
	s.stepEvents.WithLabelValues(string(evt.Step), string(evt.Status)).Inc()
	if evt.Value != nil {
		s.stepValue.WithLabelValues(string(evt.Step)).Set(*evt.Value)
	}
	if !evt.Terminal() {
		return
	}
	result := "success"
	if evt.Status == pipeline.StatusFailed {
		result = "error"
	}
	s.runsCompleted.WithLabelValues(result).Inc()
	if started, ok := s.tracker.complete(evt.RunKey); ok {
		s.runsRunning.Dec()
		if d := evt.TS.Sub(started); d > 0 {
			s.runDuration.WithLabelValues(result).Observe(d.Seconds())
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[string]time.Time
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[string]time.Time)}
}

func (t *runTracker) start(key string, ts time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[key]; ok {
		return false
	}
	t.running[key] = ts
	return true
}

func (t *runTracker) complete(key string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	started, ok := t.running[key]
	if ok {
		delete(t.running, key)
	}
	return started, ok
}
