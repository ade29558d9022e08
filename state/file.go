package state

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore keeps one JSON file per entity in a directory. Files are
// replaced atomically and only rewritten when their content changed.
type FileStore struct {
	dir string

	mu   sync.Mutex
	last map[string][]byte
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("empty state dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}
	return &FileStore{dir: dir, last: map[string][]byte{}}, nil
}

func (f *FileStore) path(entity string) string {
	return filepath.Join(f.dir, entity+".json")
}

func (f *FileStore) Load(ctx context.Context) (Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records := map[string][]byte{}
	for _, name := range entities {
		b, err := os.ReadFile(f.path(name))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("read %s: %w", name, err)
		}
		records[name] = b
		f.last[name] = b
	}
	if len(records) == 0 {
		return Snapshot{}, ErrNoState
	}
	return decode(records)
}

func (f *FileStore) Save(ctx context.Context, s Snapshot) error {
	records, err := encode(s)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, name := range entities {
		b := records[name]
		if prev, ok := f.last[name]; ok && bytes.Equal(prev, b) {
			continue
		}
		if err := writeAtomic(f.path(name), b); err != nil {
			return fmt.Errorf("save %s: %w", name, err)
		}
		f.last[name] = b
	}
	return nil
}

func (f *FileStore) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, name := range entities {
		if err := os.Remove(f.path(name)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("reset %s: %w", name, err)
		}
	}
	f.last = map[string][]byte{}
	return nil
}

func (f *FileStore) Close() error { return nil }

func writeAtomic(path string, b []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
