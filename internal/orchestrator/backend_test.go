package orchestrator

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/rag-pipeline-client/internal/conn"
	"github.com/JakeFAU/rag-pipeline-client/internal/endpoint"
	"github.com/JakeFAU/rag-pipeline-client/internal/identity"
	"github.com/JakeFAU/rag-pipeline-client/internal/pipeline"
	"github.com/JakeFAU/rag-pipeline-client/internal/progress"
	"github.com/JakeFAU/rag-pipeline-client/internal/runs"
)

type script func(path string, payload map[string]any, c *websocket.Conn)

type fakeBackend struct {
	server *httptest.Server

	mu       sync.Mutex
	payloads []map[string]any
	paths    []string
}

func newFakeBackend(t *testing.T, run script) *fakeBackend {
	t.Helper()
	b := &fakeBackend{}
	upgrader := websocket.Upgrader{}
	b.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		var payload map[string]any
		if err := c.ReadJSON(&payload); err != nil {
			return
		}
		b.mu.Lock()
		b.payloads = append(b.payloads, payload)
		b.paths = append(b.paths, r.URL.Path)
		b.mu.Unlock()
		run(r.URL.Path, payload, c)
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBackend) Payloads() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]any(nil), b.payloads...)
}

func (b *fakeBackend) Paths() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.paths...)
}

type harness struct {
	orch    *Orchestrator
	backend *fakeBackend
	hub     *hubRecorder
	logs    *observer.ObservedLogs
}

func newHarness(t *testing.T, cfg Config, run script) *harness {
	t.Helper()
	backend := newFakeBackend(t, run)
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)
	hub := &hubRecorder{}
	orch := New(
		cfg,
		conn.NewManager(endpoint.New(backend.server.URL, ""), nil, logger),
		runs.NewRegistry(context.Background(), logger),
		identity.NewProvider(identity.NewMemoryStore(), nil, logger),
		hub,
		logger,
	)
	t.Cleanup(func() {
		orch.CloseAll()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orch.Wait(ctx)
	})
	return &harness{orch: orch, backend: backend, hub: hub, logs: logs}
}

func (h *harness) joins() int {
	return h.logs.FilterMessage("joined in-flight pipeline run").Len()
}

func sendAll(c *websocket.Conn, events ...pipeline.ProgressEvent) {
	for _, evt := range events {
		if err := c.WriteJSON(evt); err != nil {
			return
		}
	}
}

// drain blocks until the client goes away.
func drain(c *websocket.Conn) {
	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}

type recorder struct {
	mu     sync.Mutex
	events []pipeline.ProgressEvent
}

func (r *recorder) On(evt pipeline.ProgressEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) Events() []pipeline.ProgressEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pipeline.ProgressEvent(nil), r.events...)
}

type hubRecorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (h *hubRecorder) Emit(evt progress.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, evt)
}

func (h *hubRecorder) Events() []progress.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]progress.Event(nil), h.events...)
}
