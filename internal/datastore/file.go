package datastore

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/tphakala/pawdentify/internal/errors"
)

const backendFile = "file"

// FileStore keeps the slot in a single file. Writes go to a temporary file
// in the same directory which is then renamed over the target, so a reader
// never sees a partial snapshot.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates the parent directory of path if needed
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, errors.ValidationError("file store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.New(err).
			Component("datastore").
			Category(errors.CategoryFileIO).
			Context("path", path).
			Build()
	}
	return &FileStore{path: path}, nil
}

// Path returns the slot file location
func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrSlotEmpty
	}
	if err != nil {
		return nil, persistenceError(err, backendFile, "load")
	}
	if len(data) == 0 {
		return nil, ErrSlotEmpty
	}
	return data, nil
}

func (s *FileStore) Save(ctx context.Context, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return persistenceError(err, backendFile, "save")
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		cleanup()
		return persistenceError(err, backendFile, "save")
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return persistenceError(err, backendFile, "save")
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return persistenceError(err, backendFile, "save")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return persistenceError(err, backendFile, "save")
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
