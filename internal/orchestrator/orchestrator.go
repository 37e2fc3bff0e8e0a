package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/JakeFAU/rag-pipeline-client/internal/clock/system"
	"github.com/JakeFAU/rag-pipeline-client/internal/conn"
	"github.com/JakeFAU/rag-pipeline-client/internal/pipeline"
	"github.com/JakeFAU/rag-pipeline-client/internal/progress"
	"github.com/JakeFAU/rag-pipeline-client/internal/runs"
)

// Endpoint paths for the two pipeline flavours.
const (
	PipelinePath      = "/api/pipeline"
	AdminPipelinePath = "/admin/api/pipeline"
)

// Mode selects how a run is driven.
type Mode string

// Supported modes.
const (
	// ModeCombined opens one connection and lets the backend sequence steps.
	ModeCombined Mode = "combined"
	// ModeSequential opens one connection per step and sequences locally.
	ModeSequential Mode = "sequential"
)

// Valid reports whether m is a supported mode.
func (m Mode) Valid() bool {
	return m == ModeCombined || m == ModeSequential
}

// ErrClosed is the cause attached to runs abandoned by CloseAll.
var ErrClosed = errors.New("orchestrator closed")

// Config tunes run behavior.
type Config struct {
	// Mode defaults to ModeCombined.
	Mode Mode
	// Timeout bounds each connection when a request sets none.
	Timeout time.Duration
	// AnnounceConnect emits a synthetic start event as soon as a connection
	// is established.
	AnnounceConnect bool
	// Clock timestamps events sent to the progress hub.
	Clock Clock
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// IdentitySource supplies the client identifier sent with every run.
type IdentitySource interface {
	ClientID() string
}

// PipelineRequest starts a public pipeline run.
type PipelineRequest struct {
	Target   string
	MaxDepth int
	// Timeout overrides Config.Timeout for this run.
	Timeout time.Duration
}

// AdminPipelineRequest starts an admin pipeline run that writes into
// DataFolder.
type AdminPipelineRequest struct {
	Target     string
	MaxDepth   int
	DataFolder string
	Timeout    time.Duration
}

type pipelinePayload struct {
	URL      string `json:"url"`
	MaxDepth int    `json:"max_depth"`
	ClientID string `json:"client_id"`
}

type adminPayload struct {
	URL        string `json:"url"`
	MaxDepth   int    `json:"max_depth"`
	ClientID   string `json:"client_id"`
	DataFolder string `json:"data_folder"`
}

// Orchestrator runs pipelines. It is safe for concurrent use.
type Orchestrator struct {
	cfg      Config
	conns    *conn.Manager
	registry *runs.Registry
	identity IdentitySource
	emitter  progress.Emitter
	logger   *zap.Logger
}

// New wires an Orchestrator. A nil emitter discards hub events.
func New(
	cfg Config,
	conns *conn.Manager,
	registry *runs.Registry,
	identity IdentitySource,
	emitter progress.Emitter,
	logger *zap.Logger,
) *Orchestrator {
	if cfg.Mode == "" {
		cfg.Mode = ModeCombined
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = conn.DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = system.New()
	}
	if emitter == nil {
		emitter = progress.Discard{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		cfg:      cfg,
		conns:    conns,
		registry: registry,
		identity: identity,
		emitter:  emitter,
		logger:   logger,
	}
}

// PipelineKey is the dedup key for a public run.
func PipelineKey(target string) string {
	return "pipeline::" + target
}

// AdminPipelineKey is the dedup key for an admin run.
func AdminPipelineKey(target, folder string) string {
	return "admin::" + target + "::" + folder
}

// RunPipeline starts, or joins, the public run for req.Target and blocks
// until it settles or ctx ends. onStep receives every event from the point
// this caller attached; it is never called after RunPipeline returns.
func (o *Orchestrator) RunPipeline(ctx context.Context, req PipelineRequest, onStep pipeline.StepFunc) (pipeline.Result, error) {
	return o.run(ctx, PipelineKey(req.Target), PipelinePath, req.Timeout, onStep, func(clientID string) any {
		return pipelinePayload{URL: req.Target, MaxDepth: req.MaxDepth, ClientID: clientID}
	})
}

// RunAdminPipeline is RunPipeline against the admin endpoint.
func (o *Orchestrator) RunAdminPipeline(ctx context.Context, req AdminPipelineRequest, onStep pipeline.StepFunc) (pipeline.Result, error) {
	return o.run(ctx, AdminPipelineKey(req.Target, req.DataFolder), AdminPipelinePath, req.Timeout, onStep, func(clientID string) any {
		return adminPayload{URL: req.Target, MaxDepth: req.MaxDepth, ClientID: clientID, DataFolder: req.DataFolder}
	})
}

// ClientID returns the identifier sent with every run.
func (o *Orchestrator) ClientID() string {
	return o.identity.ClientID()
}

// Runs lists the keys of in-flight runs.
func (o *Orchestrator) Runs() []string {
	return o.registry.Keys()
}

// OpenConnections reports the number of open connections.
func (o *Orchestrator) OpenConnections() int {
	return o.conns.Len()
}

// CloseAll abandons every in-flight run and connection without waiting for
// them to wind down, so it is safe to call from a progress callback. Callers
// blocked in RunPipeline return an abandoned error.
func (o *Orchestrator) CloseAll() {
	keys := o.registry.Keys()
	o.registry.CancelAll(ErrClosed)
	o.conns.CloseAll()
	o.logger.Info("abandoned all pipeline runs", zap.Strings("run_keys", keys))
}

// Wait blocks until no run is in flight or ctx ends. It must not be called
// from a progress callback, since that callback holds up its own run.
func (o *Orchestrator) Wait(ctx context.Context) error {
	return o.registry.Wait(ctx)
}

func (o *Orchestrator) run(
	ctx context.Context,
	key, path string,
	timeout time.Duration,
	onStep pipeline.StepFunc,
	payload func(clientID string) any,
) (pipeline.Result, error) {
	if timeout <= 0 {
		timeout = o.cfg.Timeout
	}
	sub := &subscription{fn: onStep}
	run, unsubscribe, joined := o.registry.StartOrJoin(key, sub.deliver, func(runCtx context.Context, run *runs.Run) (pipeline.Result, error) {
		clientID := o.identity.ClientID()
		x := &execution{o: o, run: run, clientID: clientID, timeout: timeout}
		return x.drive(runCtx, path, payload(clientID))
	})
	defer func() {
		unsubscribe()
		sub.stop()
	}()
	if joined {
		o.logger.Debug("joined in-flight pipeline run", zap.String("run_key", key))
	}
	return run.Wait(ctx)
}

// execution is the state of one run's factory.
type execution struct {
	o        *Orchestrator
	run      *runs.Run
	clientID string
	timeout  time.Duration
}

func (x *execution) drive(ctx context.Context, path string, payload any) (pipeline.Result, error) {
	logger := x.o.logger.With(zap.String("run_key", x.run.Key()), zap.String("path", path), zap.String("mode", string(x.o.cfg.Mode)))
	logger.Info("pipeline run starting")

	var (
		result pipeline.Result
		err    error
	)
	if x.o.cfg.Mode == ModeSequential {
		result, err = x.sequential(ctx, path, payload)
	} else {
		result, err = x.combined(ctx, path, payload)
	}
	if err != nil {
		if !x.run.Terminated() {
			x.emit(pipeline.Failed(err))
		}
		logger.Warn("pipeline run failed", zap.String("kind", string(pipeline.KindOf(err))), zap.Error(err))
		return nil, err
	}
	logger.Info("pipeline run completed", zap.Int("steps", len(result)))
	return result, nil
}

func (x *execution) combined(ctx context.Context, path string, payload any) (pipeline.Result, error) {
	req := conn.Request{
		Key:     x.run.Key(),
		Path:    path,
		Payload: payload,
		Timeout: x.timeout,
	}
	if x.o.cfg.AnnounceConnect {
		req.InitialStep = pipeline.StepInitializing
	}
	return x.o.conns.Open(ctx, req, x.publish)
}

func (x *execution) sequential(ctx context.Context, base string, payload any) (pipeline.Result, error) {
	result := pipeline.Result{}
	for _, step := range pipeline.RemoteSteps {
		req := conn.Request{
			Key:      x.run.Key() + "::" + string(step),
			Path:     base + "/" + string(step),
			Payload:  payload,
			Timeout:  x.timeout,
			Terminal: conn.StepTerminal(step),
		}
		if x.o.cfg.AnnounceConnect {
			req.InitialStep = step
		}
		stepResult, err := x.o.conns.Open(ctx, req, x.publish)
		if err != nil {
			// Step endpoints report only their own step; lift a remote failure to
			// the pipeline level as the combined endpoint does.
			if errors.Is(err, pipeline.ErrRemoteFailure) {
				x.publish(pipeline.Failed(err))
			}
			return nil, err
		}
		result.Merge(stepResult)
		if done, ok := result[pipeline.StepPipeline]; ok && done.Status == pipeline.StatusDone {
			return result, nil
		}
	}
	done := pipeline.Done()
	x.publish(done)
	result.Record(done)
	return result, nil
}

// publish fans evt out to the run's subscribers and the progress hub.
func (x *execution) publish(evt pipeline.ProgressEvent) {
	if x.run.Terminated() {
		return
	}
	x.run.Publish(evt)
	x.emit(evt)
}

func (x *execution) emit(evt pipeline.ProgressEvent) {
	x.o.emitter.Emit(progress.FromProgress(x.run.Key(), x.clientID, x.o.cfg.Clock.Now(), evt))
}

// subscription gates a caller's callback so nothing is delivered once the
// caller has returned.
type subscription struct {
	mu      sync.Mutex
	fn      pipeline.StepFunc
	stopped bool
}

func (s *subscription) deliver(evt pipeline.ProgressEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped || s.fn == nil {
		return
	}
	s.fn(evt)
}

func (s *subscription) stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
}
