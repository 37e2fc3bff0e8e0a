package identity

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

const appDir = "rag-pipeline-client"

type identityDocument struct {
	ClientID string `yaml:"client_id"`
}

// FileStore persists the identifier as a small YAML document.
type FileStore struct {
	path string
}

// NewFileStore returns a FileStore at path. An empty path uses DefaultPath.
func NewFileStore(path string) (*FileStore, error) {
	if strings.TrimSpace(path) == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return &FileStore{path: path}, nil
}

// DefaultPath is identity.yaml under the user's config directory.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", errors.Wrap(err, "resolve user config dir")
	}
	return filepath.Join(dir, appDir, "identity.yaml"), nil
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the identifier. A missing file or empty document is ErrNotFound.
func (s *FileStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", errors.Wrapf(err, "read %s", s.path)
	}
	var doc identityDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return "", errors.Wrapf(err, "parse %s", s.path)
	}
	id := strings.TrimSpace(doc.ClientID)
	if id == "" {
		return "", ErrNotFound
	}
	return id, nil
}

// Save writes the identifier atomically via a temp file and rename.
func (s *FileStore) Save(id string) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrap(err, "create identity dir")
	}
	data, err := yaml.Marshal(identityDocument{ClientID: id})
	if err != nil {
		return errors.Wrap(err, "encode identity")
	}
	tmp, err := os.CreateTemp(dir, ".identity-*.yaml")
	if err != nil {
		return errors.Wrap(err, "create temp identity file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "write identity")
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return errors.Wrap(err, "chmod identity")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close identity")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return errors.Wrap(err, "install identity file")
	}
	return nil
}
