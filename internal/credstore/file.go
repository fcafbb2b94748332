package credstore

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileBackend keeps every key in a single JSON object on disk. The whole file
// is rewritten on each change; last write wins. Memory only changes once the
// write has landed.
type FileBackend struct {
	path   string
	mu     sync.RWMutex
	values map[string]string
}

func NewFileBackend(path string) (*FileBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("credential file path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create credential dir: %w", err)
	}

	backend := &FileBackend{path: path, values: map[string]string{}}
	if err := backend.load(); err != nil {
		return nil, err
	}

	return backend, nil
}

func (b *FileBackend) Get(_ context.Context, key string) (string, bool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	value, ok := b.values[key]
	return value, ok, nil
}

func (b *FileBackend) Set(_ context.Context, key string, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := maps.Clone(b.values)
	next[key] = value
	return b.commitLocked(next)
}

func (b *FileBackend) Delete(_ context.Context, keys ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	next := maps.Clone(b.values)
	for _, key := range keys {
		delete(next, key)
	}
	return b.commitLocked(next)
}

func (b *FileBackend) load() error {
	data, err := os.ReadFile(b.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read credential file: %w", err)
	}

	if len(strings.TrimSpace(string(data))) == 0 {
		return nil
	}

	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("decode credential file: %w", err)
	}
	if values == nil {
		values = map[string]string{}
	}

	b.values = values
	return nil
}

func (b *FileBackend) commitLocked(next map[string]string) error {
	data, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return err
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write credential file: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("replace credential file: %w", err)
	}

	b.values = next
	return nil
}
