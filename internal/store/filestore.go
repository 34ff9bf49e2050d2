package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"marcus/internal/logging"
)

// FileStore is the embedded key-value backend: one JSON file per key
// under a root directory, key slashes mapped to subdirectories. Writes
// go through a temp file, fsync, and rename, so a crash leaves either
// the old record or the new one, never a torn write.
type FileStore struct {
	root string
}

// NewFileStore opens (creating if needed) a file store rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create store root: %w", err)
	}
	logging.Store("embedded-kv store at %s", dir)
	return &FileStore{root: dir}, nil
}

func (fs *FileStore) path(key string) string {
	return filepath.Join(fs.root, filepath.FromSlash(key)+".json")
}

// Put writes value under key, durably.
func (fs *FileStore) Put(key string, value []byte) error {
	path := fs.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".put-*")
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("put %s: %w", key, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("put %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Get reads the value under key.
func (fs *FileStore) Get(key string) ([]byte, error) {
	data, err := os.ReadFile(fs.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return data, nil
}

// Delete removes the key. Deleting a missing key is a no-op.
func (fs *FileStore) Delete(key string) error {
	err := os.Remove(fs.path(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Scan walks the subtree under prefix and returns pairs key-ordered.
func (fs *FileStore) Scan(prefix string) ([]KV, error) {
	var out []KV
	err := filepath.WalkDir(fs.root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".json") {
			return err
		}
		rel, relErr := filepath.Rel(fs.root, path)
		if relErr != nil {
			return relErr
		}
		key := strings.TrimSuffix(filepath.ToSlash(rel), ".json")
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		out = append(out, KV{Key: key, Value: data})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// Close is a no-op; every write is already durable.
func (fs *FileStore) Close() error { return nil }
