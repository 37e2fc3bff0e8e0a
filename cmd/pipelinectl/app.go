package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/JakeFAU/rag-pipeline-client/internal/admin"
	"github.com/JakeFAU/rag-pipeline-client/internal/api"
	"github.com/JakeFAU/rag-pipeline-client/internal/config"
	"github.com/JakeFAU/rag-pipeline-client/internal/conn"
	"github.com/JakeFAU/rag-pipeline-client/internal/endpoint"
	"github.com/JakeFAU/rag-pipeline-client/internal/id/uuid"
	"github.com/JakeFAU/rag-pipeline-client/internal/identity"
	"github.com/JakeFAU/rag-pipeline-client/internal/logging"
	"github.com/JakeFAU/rag-pipeline-client/internal/orchestrator"
	"github.com/JakeFAU/rag-pipeline-client/internal/progress"
	"github.com/JakeFAU/rag-pipeline-client/internal/progress/sinks"
	"github.com/JakeFAU/rag-pipeline-client/internal/runs"
)

const closeTimeout = 10 * time.Second

// app holds everything a command needs. It is built once per invocation.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	orch   *orchestrator.Orchestrator
	admin  *admin.Client
	hub    *progress.Hub

	stopStatus context.CancelFunc
	statusDone chan struct{}
	closeOnce  sync.Once
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.statusAddr != "" {
		cfg.Status.Addr = opts.statusAddr
	}

	logger, err := logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	promSink, err := sinks.NewPrometheusSink(reg)
	if err != nil {
		return nil, err
	}
	hub := progress.NewHub(progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   cfg.BatchWait(),
		Logger:         logger.Named("progress"),
	}, sinks.NewLogSink(logger.Named("progress")), promSink)

	resolver := endpoint.New(cfg.Backend.HTTPURL, cfg.Backend.WSURL)
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: 30 * time.Second,
	}

	orch := orchestrator.New(
		orchestrator.Config{
			Mode:            orchestrator.Mode(cfg.Pipeline.Mode),
			Timeout:         cfg.PipelineTimeout(),
			AnnounceConnect: cfg.Pipeline.AnnounceConnect,
		},
		conn.NewManager(resolver, dialer, logger.Named("conn")),
		runs.NewRegistry(context.WithoutCancel(ctx), logger.Named("runs")),
		identity.NewProvider(identityStore(cfg, logger), uuid.New(), logger.Named("identity")),
		hub,
		logger.Named("orchestrator"),
	)

	a := &app{
		cfg:    cfg,
		logger: logger,
		orch:   orch,
		admin:  admin.New(resolver, nil, logger.Named("admin")),
		hub:    hub,
	}
	if cfg.Status.Addr != "" {
		if err := a.startStatusServer(ctx, reg); err != nil {
			_ = a.close()
			return nil, err
		}
	}
	return a, nil
}

func identityStore(cfg config.Config, logger *zap.Logger) identity.Store {
	store, err := identity.NewFileStore(cfg.Identity.Path)
	if err != nil {
		logger.Warn("identity file unavailable, client id will not persist", zap.Error(err))
		return identity.NewMemoryStore()
	}
	return store
}

func (a *app) startStatusServer(ctx context.Context, reg api.Registry) error {
	srv, err := api.NewServer(a.orch, reg, a.logger.Named("api"))
	if err != nil {
		return err
	}
	statusCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	a.stopStatus = cancel
	a.statusDone = make(chan struct{})
	go func() {
		defer close(a.statusDone)
		if err := srv.ListenAndServe(statusCtx, a.cfg.Status.Addr); err != nil {
			a.logger.Error("status server failed", zap.Error(err))
		}
	}()
	return nil
}

// close abandons outstanding runs, flushes progress and stops the status
// server. Safe to call more than once.
func (a *app) close() error {
	var err error
	a.closeOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		a.orch.CloseAll()
		if closeErr := a.orch.Wait(ctx); closeErr != nil {
			err = errors.CombineErrors(err, closeErr)
		}
		if closeErr := a.hub.Close(ctx); closeErr != nil {
			err = errors.CombineErrors(err, closeErr)
		}
		if a.stopStatus != nil {
			a.stopStatus()
			<-a.statusDone
		}
		_ = a.logger.Sync()
	})
	return err
}
