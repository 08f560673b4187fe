// Package cache_fs backs the cache with one blob file per key. Writes go
// through a temp file and rename, so a reader always sees the last fully
// persisted value for a key.
package cache_fs

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/davarch/ci-runner/internal/domain"
)

type Store struct {
	dir string
}

func New(dir string) *Store { return &Store{dir: dir} }

func (s *Store) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := checkKey(key); err != nil {
		return nil, false, err
	}
	b, err := os.ReadFile(filepath.Join(s.dir, key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return b, true, nil
}

func (s *Store) Put(_ context.Context, key string, blob []byte) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}

	target := filepath.Join(s.dir, key)
	tmp, err := os.CreateTemp(s.dir, key+".tmp-*")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(blob); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func checkKey(key string) error {
	if key == "" {
		return domain.Configf("empty cache key")
	}
	if strings.ContainsAny(key, "/\\") || strings.Contains(key, "..") {
		return domain.Configf("cache key %q contains path elements", key)
	}
	return nil
}
