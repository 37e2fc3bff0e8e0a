// Package identity provides the stable client identifier that correlates a
// client with server-side job state. The identifier is generated lazily,
// persisted to a Store, and cached for the life of the process.
package identity

import (
	"sync"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/JakeFAU/rag-pipeline-client/internal/id/uuid"
)

// ErrNotFound is returned by a Store that holds no identifier yet.
var ErrNotFound = errors.New("client id not found")

// Store persists the client identifier.
type Store interface {
	Load() (string, error)
	Save(id string) error
}

// IDGenerator produces new random identifiers.
type IDGenerator interface {
	NewID() (string, error)
}

// Provider hands out the client identifier. Storage problems never reach the
// caller; the provider degrades to an in-memory identifier instead.
type Provider struct {
	store  Store
	gen    IDGenerator
	logger *zap.Logger

	mu     sync.Mutex
	cached string
}

// NewProvider builds a Provider over store. A nil gen produces UUIDv4
// identifiers and a nil store keeps the identifier in memory only.
func NewProvider(store Store, gen IDGenerator, logger *zap.Logger) *Provider {
	if store == nil {
		store = NewMemoryStore()
	}
	if gen == nil {
		gen = uuid.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{store: store, gen: gen, logger: logger}
}

// ClientID returns the cached identifier, loading or creating it on first use.
func (p *Provider) ClientID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cached != "" {
		return p.cached
	}

	id, err := p.store.Load()
	switch {
	case err == nil && id != "":
		p.cached = id
		return id
	case err != nil && !errors.Is(err, ErrNotFound):
		p.logger.Warn("client id storage unavailable, using in-memory id", zap.Error(err))
		p.cached = p.generate()
		return p.cached
	}

	id = p.generate()
	if err := p.store.Save(id); err != nil {
		p.logger.Warn("persist client id failed, using in-memory id", zap.Error(err))
	}
	p.cached = id
	return id
}

func (p *Provider) generate() string {
	id, err := p.gen.NewID()
	if err != nil {
		p.logger.Error("generate client id failed, using uuid4", zap.Error(err))
		return uuid.MustNewID()
	}
	return id
}

// MemoryStore keeps the identifier in process memory.
type MemoryStore struct {
	mu sync.Mutex
	id string
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the stored id or ErrNotFound.
func (s *MemoryStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id == "" {
		return "", ErrNotFound
	}
	return s.id, nil
}

// Save stores id.
func (s *MemoryStore) Save(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = id
	return nil
}
