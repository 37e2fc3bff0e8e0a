package identity

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/rag-pipeline-client/internal/id/uuid"
)

func TestProviderStableWithinScope(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "identity.yaml")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	p := NewProvider(store, uuid.New(), zap.NewNop())
	first := p.ClientID()
	require.True(t, uuid.Valid(first))
	require.Equal(t, first, p.ClientID())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// A new process sharing the same storage scope sees the same id.
	reloaded := NewProvider(store, uuid.New(), zap.NewNop())
	require.Equal(t, first, reloaded.ClientID())

	// Clearing storage yields a fresh id.
	require.NoError(t, os.Remove(path))
	fresh := NewProvider(store, uuid.New(), zap.NewNop())
	require.NotEqual(t, first, fresh.ClientID())
}

func TestProviderFreshMemoryScopes(t *testing.T) {
	t.Parallel()

	a := NewProvider(NewMemoryStore(), uuid.New(), nil)
	b := NewProvider(nil, uuid.New(), nil)
	require.Equal(t, a.ClientID(), a.ClientID())
	require.NotEqual(t, a.ClientID(), b.ClientID())
}

func TestProviderDegradesWhenSaveFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))
	store, err := NewFileStore(filepath.Join(blocker, "identity.yaml"))
	require.NoError(t, err)

	p := NewProvider(store, uuid.New(), zap.NewNop())
	id := p.ClientID()
	require.NotEmpty(t, id)
	require.Equal(t, id, p.ClientID())
}

func TestProviderDegradesWhenLoadFails(t *testing.T) {
	t.Parallel()

	store := &brokenStore{}
	p := NewProvider(store, uuid.New(), zap.NewNop())
	id := p.ClientID()
	require.NotEmpty(t, id)
	require.Equal(t, id, p.ClientID())
	require.Equal(t, 1, store.loads)
	require.Zero(t, store.saves, "unavailable storage is not written to")
}

func TestProviderFallsBackWhenGeneratorFails(t *testing.T) {
	t.Parallel()

	p := NewProvider(NewMemoryStore(), failingGen{}, zap.NewNop())
	id := p.ClientID()
	require.True(t, uuid.Valid(id), "fallback id %q is not a uuid", id)
	require.Equal(t, id, p.ClientID())
}

func TestFileStoreLoad(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "identity.yaml"))
	require.NoError(t, err)

	_, err = store.Load()
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, os.WriteFile(store.Path(), []byte("client_id: \"\"\n"), 0o600))
	_, err = store.Load()
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, os.WriteFile(store.Path(), []byte("client_id: [unterminated"), 0o600))
	_, err = store.Load()
	require.Error(t, err)
	require.False(t, errors.Is(err, ErrNotFound))

	require.NoError(t, store.Save("abc-123"))
	id, err := store.Load()
	require.NoError(t, err)
	require.Equal(t, "abc-123", id)
}

type brokenStore struct {
	loads int
	saves int
}

func (s *brokenStore) Load() (string, error) {
	s.loads++
	return "", errors.New("storage disabled")
}

func (s *brokenStore) Save(string) error {
	s.saves++
	return errors.New("storage disabled")
}

type failingGen struct{}

func (failingGen) NewID() (string, error) {
	return "", errors.New("entropy exhausted")
}
