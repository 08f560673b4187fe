package application

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/davarch/ci-runner/internal/domain"
)

func TestCacheManager_RoundTrip(t *testing.T) {
	store := &domain.MockStore{}
	m := NewCacheManager(store, zap.NewNop(), nil)

	src := t.TempDir()
	if err := os.MkdirAll(filepath.Join(src, "deps", "sub"), 0o755); err != nil {
		t.Fatal(err)
	}
	payload := []byte{0x00, 0x01, 0xff, 0x42}
	if err := os.WriteFile(filepath.Join(src, "deps", "sub", "blob.bin"), payload, 0o644); err != nil {
		t.Fatal(err)
	}

	if err := m.Persist(context.Background(), src, "deps-abc", []string{"deps"}); err != nil {
		t.Fatalf("persist: %v", err)
	}

	dst := t.TempDir()
	hit, err := m.Restore(context.Background(), dst, "deps-abc")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !hit {
		t.Fatal("expected hit")
	}

	got, err := os.ReadFile(filepath.Join(dst, "deps", "sub", "blob.bin"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch: got %v want %v", got, payload)
	}
}

func TestCacheManager_RestoreMiss(t *testing.T) {
	m := NewCacheManager(&domain.MockStore{}, zap.NewNop(), nil)
	hit, err := m.Restore(context.Background(), t.TempDir(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hit {
		t.Fatal("expected miss")
	}
}

func TestCacheManager_KeyIsDeterministic(t *testing.T) {
	m := NewCacheManager(&domain.MockStore{}, zap.NewNop(), nil)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "lockfile"), []byte("deps v1"), 0o644); err != nil {
		t.Fatal(err)
	}

	spec := domain.CacheSpec{Key: "deps", Inputs: []string{"lockfile"}, Paths: []string{"vendor"}}
	k1, err := m.ComputeKey(dir, spec)
	if err != nil {
		t.Fatal(err)
	}
	k2, err := m.ComputeKey(dir, spec)
	if err != nil {
		t.Fatal(err)
	}
	if k1 != k2 {
		t.Fatalf("keys differ for unchanged inputs: %s vs %s", k1, k2)
	}

	if err := os.WriteFile(filepath.Join(dir, "lockfile"), []byte("deps v2"), 0o644); err != nil {
		t.Fatal(err)
	}
	k3, err := m.ComputeKey(dir, spec)
	if err != nil {
		t.Fatal(err)
	}
	if k3 == k1 {
		t.Fatal("key unchanged after input changed")
	}
}

func TestCacheManager_MissingInputIsPartOfKey(t *testing.T) {
	m := NewCacheManager(&domain.MockStore{}, zap.NewNop(), nil)
	dir := t.TempDir()
	spec := domain.CacheSpec{Key: "deps", Inputs: []string{"lockfile"}}

	absent, err := m.ComputeKey(dir, spec)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "lockfile"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	present, err := m.ComputeKey(dir, spec)
	if err != nil {
		t.Fatal(err)
	}
	if absent == present {
		t.Fatal("absent and present input fingerprints collide")
	}
}

func TestCacheManager_EmptyKeyIsConfigError(t *testing.T) {
	m := NewCacheManager(&domain.MockStore{}, zap.NewNop(), nil)
	_, err := m.ComputeKey(t.TempDir(), domain.CacheSpec{})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, ok := err.(*domain.ConfigError); !ok {
		t.Fatalf("expected ConfigError, got %T", err)
	}
}

func TestCacheManager_ConcurrentLoserSkipsWrite(t *testing.T) {
	store := &domain.MockStore{}
	m := NewCacheManager(store, zap.NewNop(), nil)

	// Hold the key's lock like a winning writer would.
	m.keyLock("deps-abc").Lock()
	defer m.keyLock("deps-abc").Unlock()

	err := m.Persist(context.Background(), t.TempDir(), "deps-abc", nil)
	if err != ErrCacheConflict {
		t.Fatalf("expected ErrCacheConflict, got %v", err)
	}
	if store.Puts != 0 {
		t.Fatalf("loser must not write, saw %d puts", store.Puts)
	}
}

func TestCacheManager_PersistSkipsMissingPaths(t *testing.T) {
	store := &domain.MockStore{}
	m := NewCacheManager(store, zap.NewNop(), nil)
	if err := m.Persist(context.Background(), t.TempDir(), "deps-abc", []string{"never-created"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if store.Puts != 1 {
		t.Fatalf("expected empty entry write, got %d puts", store.Puts)
	}
}
