package conn

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/JakeFAU/rag-pipeline-client/internal/endpoint"
	"github.com/JakeFAU/rag-pipeline-client/internal/pipeline"
)

// DefaultTimeout bounds a single connection when the request sets none.
const DefaultTimeout = 5 * time.Minute

const closeWriteWait = time.Second

var (
	errDeadline = errors.New("no terminal event before deadline")
	errClosed   = errors.New("connections closed")
)

// Dialer opens WebSocket connections; *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, header http.Header) (*websocket.Conn, *http.Response, error)
}

// TerminalFunc decides whether evt settles the connection. A non-nil error
// rejects the run.
type TerminalFunc func(evt pipeline.ProgressEvent) (settled bool, err error)

// Request describes one connection.
type Request struct {
	// Key identifies the handle; defaults to Path.
	Key string
	// Path is the endpoint path joined onto the WebSocket base.
	Path string
	// Payload is sent as JSON immediately after the handshake.
	Payload any
	// InitialStep, when set, is announced with a synthetic start event
	// before the payload is sent.
	InitialStep pipeline.Step
	// Timeout bounds the whole exchange (DefaultTimeout when zero).
	Timeout time.Duration
	// Terminal overrides PipelineTerminal.
	Terminal TerminalFunc
}

// Manager tracks the open connections. It is safe for concurrent use.
type Manager struct {
	resolver *endpoint.Resolver
	dialer   Dialer
	logger   *zap.Logger

	mu      sync.Mutex
	handles map[string]*handle
}

// NewManager builds a Manager. A nil dialer uses websocket.DefaultDialer.
func NewManager(resolver *endpoint.Resolver, dialer Dialer, logger *zap.Logger) *Manager {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		resolver: resolver,
		dialer:   dialer,
		logger:   logger,
		handles:  make(map[string]*handle),
	}
}

// Open dials req.Path, sends the payload and blocks until the run settles.
// Every received event is passed to onEvent in arrival order; onEvent is
// never invoked after Open returns.
func (m *Manager) Open(ctx context.Context, req Request, onEvent pipeline.StepFunc) (pipeline.Result, error) {
	key := req.Key
	if key == "" {
		key = req.Path
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	terminal := req.Terminal
	if terminal == nil {
		terminal = PipelineTerminal
	}
	if onEvent == nil {
		onEvent = func(pipeline.ProgressEvent) {}
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	ctx, stopTimer := context.WithTimeoutCause(ctx, timeout, errDeadline)
	defer stopTimer()

	h := &handle{cancel: cancel}
	if err := m.register(key, h); err != nil {
		return nil, err
	}
	defer m.release(key, h)
	stopWatch := context.AfterFunc(ctx, h.close)
	defer stopWatch()

	url := m.resolver.WebSocketURL(req.Path)
	logger := m.logger.With(zap.String("key", key), zap.String("url", url))

	c, resp, err := m.dialer.DialContext(ctx, url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		err = settleError(ctx, pipeline.MarkTransport(errors.Wrapf(err, "dial %s", url)), timeout)
		logger.Warn("pipeline connection failed", zap.Error(err))
		return nil, err
	}
	if !h.attach(c) {
		return nil, settleError(ctx, pipeline.MarkAbandoned(errors.New("connection closed during dial")), timeout)
	}
	logger.Debug("pipeline connection open")

	if req.InitialStep != "" {
		onEvent(pipeline.Start(req.InitialStep))
	}
	if err := c.WriteJSON(req.Payload); err != nil {
		return nil, settleError(ctx, pipeline.MarkTransport(errors.Wrap(err, "send payload")), timeout)
	}

	result := pipeline.Result{}
	for {
		_, data, err := c.ReadMessage()
		if err != nil {
			err = settleError(ctx, readError(err), timeout)
			logger.Warn("pipeline connection ended before completion", zap.Error(err))
			return nil, err
		}
		evt, err := pipeline.DecodeEvent(data)
		if err != nil {
			logger.Warn("malformed progress message", zap.Error(err), zap.ByteString("raw", data))
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, settleError(ctx, ctx.Err(), timeout)
		}
		onEvent(evt)
		result.Record(evt)

		settled, runErr := terminal(evt)
		if !settled {
			continue
		}
		if runErr != nil {
			logger.Info("pipeline run failed remotely", zap.Error(runErr))
			return nil, runErr
		}
		logger.Debug("pipeline connection settled", zap.Int("steps", len(result)))
		return result, nil
	}
}

// CloseAll abandons every open connection. Pending Open calls return an
// abandoned error.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	handles := make([]*handle, 0, len(m.handles))
	for _, h := range m.handles {
		handles = append(handles, h)
	}
	m.mu.Unlock()
	for _, h := range handles {
		h.cancel(errClosed)
	}
}

// Len reports the number of open handles.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handles)
}

// Keys lists the open handle keys, sorted.
func (m *Manager) Keys() []string {
	m.mu.Lock()
	keys := make([]string, 0, len(m.handles))
	for k := range m.handles {
		keys = append(keys, k)
	}
	m.mu.Unlock()
	sort.Strings(keys)
	return keys
}

func (m *Manager) register(key string, h *handle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.handles[key]; exists {
		return pipeline.MarkTransport(errors.Newf("connection %q already open", key))
	}
	m.handles[key] = h
	return nil
}

func (m *Manager) release(key string, h *handle) {
	m.mu.Lock()
	if m.handles[key] == h {
		delete(m.handles, key)
	}
	m.mu.Unlock()
	h.close()
}

// PipelineTerminal settles on pipeline done or failed.
func PipelineTerminal(evt pipeline.ProgressEvent) (bool, error) {
	if !evt.IsTerminal() {
		return false, nil
	}
	if evt.Status == pipeline.StatusFailed {
		return true, pipeline.NewRemoteError(evt)
	}
	return true, nil
}

// StepTerminal settles when step completes or fails. A global pipeline
// completion or failure also settles.
func StepTerminal(step pipeline.Step) TerminalFunc {
	return func(evt pipeline.ProgressEvent) (bool, error) {
		if evt.Step != step && evt.Step != pipeline.StepPipeline {
			return false, nil
		}
		switch evt.Status {
		case pipeline.StatusDone:
			return true, nil
		case pipeline.StatusFailed:
			return true, pipeline.NewRemoteError(evt)
		default:
			return false, nil
		}
	}
}

// settleError prefers the context's cause over the raw I/O error once the
// context has ended, since closing the socket is what produced the I/O error.
func settleError(ctx context.Context, err error, timeout time.Duration) error {
	if ctx.Err() == nil {
		return err
	}
	cause := context.Cause(ctx)
	if errors.Is(cause, errDeadline) || errors.Is(cause, context.DeadlineExceeded) {
		return pipeline.MarkTimeout(errors.Wrapf(cause, "timed out after %s", timeout))
	}
	return pipeline.MarkAbandoned(errors.Wrap(cause, "connection abandoned"))
}

func readError(err error) error {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) {
		return pipeline.MarkAbandoned(errors.Wrap(err, "connection closed before completion"))
	}
	return pipeline.MarkTransport(errors.Wrap(err, "read progress message"))
}

type handle struct {
	cancel context.CancelCauseFunc

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	once   sync.Once
}

// attach binds the dialed connection; it reports false if the handle was
// already closed, in which case c is closed immediately.
func (h *handle) attach(c *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		_ = c.Close()
		return false
	}
	h.conn = c
	return true
}

func (h *handle) close() {
	h.once.Do(func() {
		h.mu.Lock()
		h.closed = true
		c := h.conn
		h.mu.Unlock()
		if c == nil {
			return
		}
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
		_ = c.Close()
	})
}
