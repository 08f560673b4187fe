package application

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/davarch/ci-runner/internal/domain"
)

// ErrCacheConflict means another writer held the key. It is benign: the
// loser skips its write and the error never reaches a run's outcome.
var ErrCacheConflict = errors.New("cache key held by another writer")

// CacheManager derives deterministic keys from declared inputs, restores
// entries into a run's working directory and persists them after success.
// Write access is arbitrated per key: the first writer wins, concurrent
// losers skip the write rather than block.
type CacheManager struct {
	store domain.CacheStore
	log   *zap.Logger
	met   *Metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewCacheManager(store domain.CacheStore, log *zap.Logger, met *Metrics) *CacheManager {
	return &CacheManager{
		store: store,
		log:   log,
		met:   met,
		locks: make(map[string]*sync.Mutex),
	}
}

// ComputeKey fingerprints the declared inputs relative to dir. The key is
// stable for a given static prefix and input file contents; a missing input
// contributes a fixed marker so its absence is part of the fingerprint.
func (m *CacheManager) ComputeKey(dir string, spec domain.CacheSpec) (string, error) {
	if spec.Key == "" {
		return "", domain.Configf("cache declaration with empty key")
	}

	h := sha256.New()
	_, _ = io.WriteString(h, spec.Key)

	inputs := make([]string, len(spec.Inputs))
	copy(inputs, spec.Inputs)
	sort.Strings(inputs)

	for _, in := range inputs {
		_, _ = io.WriteString(h, "\x00"+in+"\x00")
		b, err := os.ReadFile(filepath.Join(dir, in))
		if err != nil {
			if os.IsNotExist(err) {
				_, _ = io.WriteString(h, "absent")
				continue
			}
			return "", err
		}
		_, _ = h.Write(b)
	}

	return spec.Key + "-" + hex.EncodeToString(h.Sum(nil))[:16], nil
}

// Restore looks the key up and, on a hit, unpacks the entry into dir before
// any step that depends on it runs.
func (m *CacheManager) Restore(ctx context.Context, dir, key string) (bool, error) {
	blob, ok, err := m.store.Get(ctx, key)
	if err != nil {
		return false, err
	}
	if !ok {
		m.met.CacheMiss()
		return false, nil
	}
	if err := unpack(blob, dir); err != nil {
		return false, err
	}
	m.met.CacheHit()
	m.log.Debug("cache restored", zap.String("key", key))
	return true, nil
}

// Persist packs the declared paths under dir and writes them back. Called
// only after the owning job succeeded; a cancelled or failed job never
// persists. Losing the per-key lock is not an error for the caller.
func (m *CacheManager) Persist(ctx context.Context, dir, key string, paths []string) error {
	lock := m.keyLock(key)
	if !lock.TryLock() {
		m.met.CacheConflict()
		m.log.Debug("cache write skipped, key busy", zap.String("key", key))
		return ErrCacheConflict
	}
	defer lock.Unlock()

	blob, err := pack(dir, paths)
	if err != nil {
		return err
	}
	if err := m.store.Put(ctx, key, blob); err != nil {
		return err
	}
	m.log.Debug("cache persisted", zap.String("key", key), zap.Int("bytes", len(blob)))
	return nil
}

func (m *CacheManager) keyLock(key string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[key]
	if !ok {
		l = &sync.Mutex{}
		m.locks[key] = l
	}
	return l
}

// pack archives the given paths (files or directories, relative to dir)
// into a gzipped tar blob. Missing paths are skipped: a job may declare a
// cache dir its first run has not created yet.
func pack(dir string, paths []string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, p := range paths {
		root := filepath.Join(dir, p)
		if _, err := os.Stat(root); os.IsNotExist(err) {
			continue
		}
		err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(dir, path)
			if err != nil {
				return err
			}
			hdr, err := tar.FileInfoHeader(info, "")
			if err != nil {
				return err
			}
			hdr.Name = filepath.ToSlash(rel)
			if err := tw.WriteHeader(hdr); err != nil {
				return err
			}
			if info.IsDir() {
				return nil
			}
			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			_, err = io.Copy(tw, f)
			return err
		})
		if err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unpack(blob []byte, dir string) error {
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return err
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		name := filepath.FromSlash(hdr.Name)
		if strings.Contains(name, "..") {
			return domain.Configf("cache entry escapes working directory: %s", hdr.Name)
		}
		target := filepath.Join(dir, name)

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(hdr.Mode)); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, tr); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		}
	}
}
