package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_FromYAMLAndEnvOverride(t *testing.T) {
	tmp := t.TempDir()
	cfgFile := filepath.Join(tmp, "config.yaml")

	yaml := `
engine:
  capacity: 4
  work_dir: /tmp/ci-work
  shell: /bin/bash
  step_timeout: 10m

cache:
  dir: /tmp/ci-cache

serve:
  addr: ":9090"
  retention: 2h
`
	if err := os.WriteFile(cfgFile, []byte(yaml), 0644); err != nil {
		t.Fatal(err)
	}

	os.Setenv("CI_RUNNER_CAPACITY", "8")
	defer os.Unsetenv("CI_RUNNER_CAPACITY")

	c, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if c.Engine.Capacity != 8 {
		t.Errorf("env override failed, got %d", c.Engine.Capacity)
	}
	if c.Engine.Shell != "/bin/bash" {
		t.Errorf("shell: %s", c.Engine.Shell)
	}
	if c.Engine.StepTimeout != 10*time.Minute {
		t.Errorf("step timeout: %s", c.Engine.StepTimeout)
	}
	if c.Serve.Addr != ":9090" || c.Serve.Retention != 2*time.Hour {
		t.Errorf("serve: %+v", c.Serve)
	}
}

func TestLoad_DefaultsWithoutFile(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Engine.Capacity != 2 {
		t.Errorf("capacity default: %d", c.Engine.Capacity)
	}
	if c.Engine.Shell != "/bin/sh" {
		t.Errorf("shell default: %s", c.Engine.Shell)
	}
	if c.Engine.WorkDir == "" || c.Cache.Dir == "" {
		t.Error("expected default directories")
	}
}

func TestLoad_NegativeValuesFallBack(t *testing.T) {
	tmp := t.TempDir()
	cfgFile := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(cfgFile, []byte("engine:\n  capacity: -1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(cfgFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Engine.Capacity != 2 {
		t.Errorf("capacity: %d", c.Engine.Capacity)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")

	c, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	c.Engine.Capacity = 7

	if err := Save(path, c); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if got.Engine.Capacity != 7 {
		t.Errorf("capacity after round trip: %d", got.Engine.Capacity)
	}
}
