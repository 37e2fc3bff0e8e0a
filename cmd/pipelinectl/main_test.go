package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/rag-pipeline-client/internal/id/uuid"
	"github.com/JakeFAU/rag-pipeline-client/internal/pipeline"
)

// backend serves both the admin HTTP API and the pipeline WebSockets.
type backend struct {
	server *httptest.Server
	events []pipeline.ProgressEvent

	mu       sync.Mutex
	payloads []map[string]any
	deleted  []string
}

func newBackend(t *testing.T, events ...pipeline.ProgressEvent) *backend {
	t.Helper()
	b := &backend{events: events}
	upgrader := websocket.Upgrader{}
	stream := func(w http.ResponseWriter, r *http.Request) {
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
		b.mu.Unlock()
		for _, evt := range b.events {
			if err := c.WriteJSON(evt); err != nil {
				return
			}
		}
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}

	r := chi.NewRouter()
	r.Get("/api/pipeline", stream)
	r.Get("/admin/api/pipeline", stream)
	r.Get("/admin/api/config", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"default_folder":"docs"}`))
	})
	r.Get("/admin/api/folders/list", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`["docs","wiki"]`))
	})
	r.Post("/admin/api/folders/delete", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		defer b.mu.Unlock()
		_ = json.NewDecoder(r.Body).Decode(&b.deleted)
	})
	b.server = httptest.NewServer(r)
	t.Cleanup(b.server.Close)
	return b
}

func (b *backend) Payloads() []map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]map[string]any(nil), b.payloads...)
}

func (b *backend) Deleted() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.deleted...)
}

func writeConfig(t *testing.T, b *backend, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "pipelinectl.yaml")
	body := fmt.Sprintf(`
backend:
  http_url: %s
pipeline:
  announce_connect: false
identity:
  path: %s
logging:
  level: error
`, b.server.URL, filepath.Join(dir, "identity.yaml"))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := execute(context.Background(), args, &out)
	return out.String(), err
}

func TestRunCommandPrintsProgress(t *testing.T) {
	t.Parallel()

	b := newBackend(t,
		pipeline.ProgressEvent{Step: pipeline.StepCrawling, Status: pipeline.StatusStart},
		pipeline.ProgressEvent{Step: pipeline.StepCrawling, Status: pipeline.StatusInProgress, Value: pipeline.Percent(40)},
		pipeline.ProgressEvent{Step: pipeline.StepCrawling, Status: pipeline.StatusDone},
		pipeline.ProgressEvent{Step: pipeline.StepPipeline, Status: pipeline.StatusDone},
	)
	cfg := writeConfig(t, b, t.TempDir())

	out, err := runCLI(t, "--config", cfg, "run", "https://example.com", "--max-depth", "20")
	require.NoError(t, err)
	require.Contains(t, out, "crawling in progress (40%)")
	require.Contains(t, out, "crawling done")
	require.Contains(t, out, "pipeline done")
	require.Contains(t, out, "completed steps: [crawling pipeline]")

	payloads := b.Payloads()
	require.Len(t, payloads, 1)
	require.Equal(t, "https://example.com", payloads[0]["url"])
	require.InDelta(t, 50.0, payloads[0]["max_depth"], 1e-9)
}

func TestRunCommandFailsOnRemoteFailure(t *testing.T) {
	t.Parallel()

	b := newBackend(t, pipeline.ProgressEvent{Step: pipeline.StepPipeline, Status: pipeline.StatusFailed, Error: "index unavailable"})
	cfg := writeConfig(t, b, t.TempDir())

	out, err := runCLI(t, "--config", cfg, "run", "https://example.com")
	require.Error(t, err)
	require.Contains(t, err.Error(), "index unavailable")
	require.Equal(t, pipeline.KindRemoteFailure, pipeline.KindOf(err))
	require.Contains(t, out, "pipeline failed: index unavailable")
	require.InDelta(t, 250.0, b.Payloads()[0]["max_depth"], 1e-9)
}

func TestAdminRunUsesDefaultFolder(t *testing.T) {
	t.Parallel()

	b := newBackend(t, pipeline.ProgressEvent{Step: pipeline.StepPipeline, Status: pipeline.StatusDone})
	cfg := writeConfig(t, b, t.TempDir())

	_, err := runCLI(t, "--config", cfg, "admin", "run", "https://example.com")
	require.NoError(t, err)
	_, err = runCLI(t, "--config", cfg, "admin", "run", "https://example.com", "--folder", "wiki")
	require.NoError(t, err)

	payloads := b.Payloads()
	require.Len(t, payloads, 2)
	require.Equal(t, "docs", payloads[0]["data_folder"])
	require.Equal(t, "wiki", payloads[1]["data_folder"])
}

func TestAdminFolderCommands(t *testing.T) {
	t.Parallel()

	b := newBackend(t)
	cfg := writeConfig(t, b, t.TempDir())

	out, err := runCLI(t, "--config", cfg, "admin", "folders", "list")
	require.NoError(t, err)
	require.Equal(t, "docs\nwiki\n", out)

	out, err = runCLI(t, "--config", cfg, "admin", "folders", "delete", "wiki")
	require.NoError(t, err)
	require.Equal(t, "Deletion successful\n", out)
	require.Equal(t, []string{"wiki"}, b.Deleted())

	out, err = runCLI(t, "--config", cfg, "admin", "config")
	require.NoError(t, err)
	require.Contains(t, out, "default_folder: docs")
	require.Contains(t, out, "memory_stream: ws://")
}

func TestClientIDCommandPersists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := writeConfig(t, newBackend(t), dir)

	first, err := runCLI(t, "--config", cfg, "client-id")
	require.NoError(t, err)
	second, err := runCLI(t, "--config", cfg, "client-id")
	require.NoError(t, err)

	id := strings.TrimSpace(first)
	require.True(t, uuid.Valid(id))
	require.Equal(t, first, second)
	require.FileExists(t, filepath.Join(dir, "identity.yaml"))
}

func TestInvalidConfigFails(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pipeline:\n  mode: parallel\n"), 0o600))

	_, err := runCLI(t, "--config", path, "client-id")
	require.Error(t, err)
	require.Contains(t, err.Error(), "pipeline.mode")
}
