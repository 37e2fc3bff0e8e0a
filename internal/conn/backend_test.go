package conn

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/rag-pipeline-client/internal/endpoint"
	"github.com/JakeFAU/rag-pipeline-client/internal/pipeline"
)

// fakeBackend is a scripted WebSocket server standing in for the pipeline API.
type fakeBackend struct {
	server *httptest.Server

	mu       sync.Mutex
	payloads []map[string]any
	paths    []string
}

func newFakeBackend(t *testing.T, script func(c *websocket.Conn)) *fakeBackend {
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
		script(c)
	}))
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBackend) manager() *Manager {
	return NewManager(endpoint.New(b.server.URL, ""), nil, zap.NewNop())
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
