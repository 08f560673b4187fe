package config

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Engine struct {
		Capacity    int64         `yaml:"capacity"`
		WorkDir     string        `yaml:"work_dir"`
		Shell       string        `yaml:"shell"`
		StepTimeout time.Duration `yaml:"step_timeout"`
	} `yaml:"engine"`

	Cache struct {
		Dir string `yaml:"dir"`
	} `yaml:"cache"`

	Report struct {
		URL     string        `yaml:"url"`
		Token   string        `yaml:"token"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"report"`

	Serve struct {
		Addr      string        `yaml:"addr"`
		Retention time.Duration `yaml:"retention"`
	} `yaml:"serve"`
}

func Load(path string) (Config, error) {
	var c Config

	c.Engine.Capacity = 2
	c.Engine.WorkDir = expandHome("~/.cache/ci-runner/work")
	c.Engine.Shell = "/bin/sh"
	c.Engine.StepTimeout = 30 * time.Minute
	c.Cache.Dir = expandHome("~/.cache/ci-runner/cache")
	c.Report.Timeout = 10 * time.Second
	c.Serve.Addr = ":8080"
	c.Serve.Retention = time.Hour

	if path != "" {
		if b, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(b, &c)
		}
	}

	if v := os.Getenv("CI_RUNNER_CAPACITY"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Engine.Capacity = n
		}
	}

	if v := os.Getenv("CI_RUNNER_WORK_DIR"); v != "" {
		c.Engine.WorkDir = expandHome(v)
	}

	if v := os.Getenv("CI_RUNNER_CACHE_DIR"); v != "" {
		c.Cache.Dir = expandHome(v)
	}

	if v := os.Getenv("CI_RUNNER_STEP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Engine.StepTimeout = d
		}
	}

	if v := os.Getenv("CI_RUNNER_ADDR"); v != "" {
		c.Serve.Addr = v
	}

	if v := os.Getenv("CI_RUNNER_REPORT_URL"); v != "" {
		c.Report.URL = v
	}

	if v := os.Getenv("CI_RUNNER_REPORT_TOKEN"); v != "" {
		c.Report.Token = v
	}

	c.Engine.WorkDir = expandHome(c.Engine.WorkDir)
	c.Cache.Dir = expandHome(c.Cache.Dir)

	if c.Engine.Capacity <= 0 {
		c.Engine.Capacity = 2
	}

	if c.Engine.Shell == "" {
		c.Engine.Shell = "/bin/sh"
	}

	if c.Engine.StepTimeout <= 0 {
		c.Engine.StepTimeout = 30 * time.Minute
	}

	if c.Report.Timeout <= 0 {
		c.Report.Timeout = 10 * time.Second
	}

	if c.Serve.Retention <= 0 {
		c.Serve.Retention = time.Hour
	}

	if c.Engine.WorkDir == "" {
		return c, errors.New("engine.work_dir is required")
	}

	if c.Cache.Dir == "" {
		return c, errors.New("cache.dir is required")
	}

	return c, nil
}

func Save(path string, c Config) error {
	if path == "" {
		return errors.New("empty config path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	lockFile := path + ".lock"
	lf, err := os.OpenFile(lockFile, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return err
	}
	defer func() { _ = lf.Close() }()

	if runtime.GOOS != "windows" {
		if err := syscall.Flock(int(lf.Fd()), syscall.LOCK_EX); err != nil {
			return err
		}
		defer func() { _ = syscall.Flock(int(lf.Fd()), syscall.LOCK_UN) }()
	}

	b, err := yaml.Marshal(&c)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	defer func() { _ = f.Close() }()

	if _, err := f.Write(b); err != nil {
		return err
	}

	if err := f.Sync(); err != nil {
		return err
	}

	return os.Rename(tmp, path)
}

func expandHome(p string) string {
	if strings.HasPrefix(p, "~/") {
		if h, _ := os.UserHomeDir(); h != "" {
			return h + p[1:]
		}
	}
	return p
}
