// Package admin is a thin HTTP client for the backend's admin API: the
// default data folder, folder listing and deletion.
package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/JakeFAU/rag-pipeline-client/internal/endpoint"
)

// Admin API paths.
const (
	ConfigPath        = "/admin/api/config"
	ListFoldersPath   = "/admin/api/folders/list"
	DeleteFoldersPath = "/admin/api/folders/delete"
	MemoryStreamPath  = "/admin/ws/memory"
)

const (
	defaultRequestTimeout = 30 * time.Second
	deletionFallback      = "Deletion successful"
)

// ErrInvalidResponse is returned when a response body has an unexpected shape.
var ErrInvalidResponse = errors.New("invalid server response")

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP %d", e.Code)
}

// Config is the backend's admin configuration.
type Config struct {
	DefaultFolder string `json:"default_folder,omitempty"`
}

// Client calls the admin API.
type Client struct {
	resolver *endpoint.Resolver
	http     *http.Client
	logger   *zap.Logger
}

// New builds a Client. A nil httpClient uses a client with a 30s timeout.
func New(resolver *endpoint.Resolver, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{resolver: resolver, http: httpClient, logger: logger}
}

// Config fetches the admin configuration.
func (c *Client) Config(ctx context.Context) (Config, error) {
	body, err := c.do(ctx, http.MethodGet, ConfigPath, nil)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := json.Unmarshal(body, &cfg); err != nil {
		return Config{}, errors.Mark(errors.Wrap(err, "decode admin config"), ErrInvalidResponse)
	}
	return cfg, nil
}

// ListFolders returns the data folders known to the backend.
func (c *Client) ListFolders(ctx context.Context) ([]string, error) {
	body, err := c.do(ctx, http.MethodGet, ListFoldersPath, nil)
	if err != nil {
		return nil, err
	}
	var folders []string
	if err := json.Unmarshal(body, &folders); err != nil || folders == nil {
		return nil, ErrInvalidResponse
	}
	return folders, nil
}

// DeleteFolders removes folders and returns the server's confirmation text.
func (c *Client) DeleteFolders(ctx context.Context, folders []string) (string, error) {
	if folders == nil {
		folders = []string{}
	}
	payload, err := json.Marshal(folders)
	if err != nil {
		return "", errors.Wrap(err, "encode folders")
	}
	body, err := c.do(ctx, http.MethodPost, DeleteFoldersPath, payload)
	if err != nil {
		return "", err
	}
	c.logger.Info("folders deleted", zap.Strings("folders", folders), zap.ByteString("response", body))
	if len(body) == 0 {
		return deletionFallback, nil
	}
	return string(body), nil
}

// MemoryWebSocketURL is the stream endpoint for backend memory usage.
func (c *Client) MemoryWebSocketURL() string {
	return c.resolver.WebSocketURL(MemoryStreamPath)
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	url := c.resolver.HTTPURL(path)
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, errors.Wrapf(err, "build %s %s", method, path)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, url)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s response", path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("admin request failed", zap.String("path", path), zap.Int("status", resp.StatusCode))
		return nil, &StatusError{Code: resp.StatusCode}
	}
	return body, nil
}
