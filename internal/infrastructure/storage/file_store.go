package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
)

// FileStore is a durable KeyValueStore backed by a single JSON document on
// disk. Values are opaque bytes (encoded as base64 in the document) — the
// store must hold raw tokens as well as JSON. The durable tier holds a
// handful of small keys, so the whole document is rewritten on every mutation
// with an atomic rename to avoid torn writes.
type FileStore struct {
	path   string
	mu     sync.Mutex
	data   map[string][]byte
	logger *zap.Logger
}

// FileStoreOption is a functional option for configuring the file store
type FileStoreOption func(*FileStore)

// WithFileStoreLogger sets the logger for the file store
func WithFileStoreLogger(logger *zap.Logger) FileStoreOption {
	return func(s *FileStore) {
		s.logger = logger
	}
}

// NewFileStore opens or creates the store file at path
func NewFileStore(path string, opts ...FileStoreOption) (*FileStore, error) {
	s := &FileStore{
		path:   path,
		data:   make(map[string][]byte),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// load reads the store file if it exists. A corrupt file is treated as empty
// rather than fatal; the console can always re-authenticate and re-select.
func (s *FileStore) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read store file %s: %w", s.path, err)
	}

	if err := json.Unmarshal(raw, &s.data); err != nil {
		s.logger.Warn("Durable store file is corrupt, starting empty",
			zap.String("path", s.path),
			zap.Error(err))
		s.data = make(map[string][]byte)
	}
	return nil
}

// flush writes the whole document atomically. Caller must hold s.mu.
func (s *FileStore) flush() error {
	raw, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store document: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create store directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".console-store-*")
	if err != nil {
		return fmt.Errorf("failed to create temp store file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write temp store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp store file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace store file: %w", err)
	}
	return nil
}

// Get returns the value for key
func (s *FileStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, true, nil
}

// Set stores the value for key and flushes to disk
func (s *FileStore) Set(_ context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := make([]byte, len(value))
	copy(stored, value)
	s.data[key] = stored
	return s.flush()
}

// Delete removes the key and flushes to disk
func (s *FileStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.data[key]; !ok {
		return nil
	}
	delete(s.data, key)
	return s.flush()
}

// DeleteByPrefix removes every key with the given prefix and flushes to disk
func (s *FileStore) DeleteByPrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			delete(s.data, key)
			removed++
		}
	}
	if removed == 0 {
		return nil
	}
	return s.flush()
}

// Close is a no-op; every mutation is flushed eagerly
func (s *FileStore) Close() error {
	return nil
}

// Ensure FileStore implements KeyValueStore
var _ KeyValueStore = (*FileStore)(nil)
