// Package pipeline_yaml is the declarative front-end: it parses a pipeline
// definition document into the engine's typed model. The engine itself
// never re-reads the raw document; everything downstream works on the
// immutable domain structures produced here.
package pipeline_yaml

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/davarch/ci-runner/internal/domain"
)

type stepDoc struct {
	Name      string            `yaml:"name"`
	Run       string            `yaml:"run"`
	Env       map[string]string `yaml:"env"`
	Retries   int               `yaml:"retries"`
	SkipOnHit bool              `yaml:"skip_on_hit"`
	Cache     *struct {
		Key    string   `yaml:"key"`
		Inputs []string `yaml:"inputs"`
		Paths  []string `yaml:"paths"`
	} `yaml:"cache"`
}

type jobDoc struct {
	Name   string            `yaml:"name"`
	RunsOn string            `yaml:"runs-on"`
	Needs  []string          `yaml:"needs"`
	Env    map[string]string `yaml:"env"`
	Steps  []stepDoc         `yaml:"steps"`
}

type doc struct {
	Name string `yaml:"name"`
	On   struct {
		Push struct {
			Branches []string `yaml:"branches"`
			Tags     []string `yaml:"tags"`
		} `yaml:"push"`
		PullRequest yaml.Node `yaml:"pull_request"`
	} `yaml:"on"`
	Jobs []jobDoc `yaml:"jobs"`
}

// Load reads and parses a pipeline definition file. The pipeline name
// defaults to the file's base name without extension.
func Load(path string) (domain.Pipeline, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return domain.Pipeline{}, err
	}
	p, err := Parse(b)
	if err != nil {
		return domain.Pipeline{}, err
	}
	if p.Name == "" {
		base := filepath.Base(path)
		p.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return p, nil
}

// Parse converts a definition document into the domain model, with fail-fast
// structural validation. Graph-level validation (needs, cycles) happens at
// scheduler construction.
func Parse(data []byte) (domain.Pipeline, error) {
	var d doc
	if err := yaml.Unmarshal(data, &d); err != nil {
		return domain.Pipeline{}, domain.Configf("invalid pipeline document: %v", err)
	}

	var p domain.Pipeline
	p.Name = d.Name

	for _, b := range d.On.Push.Branches {
		p.Triggers = append(p.Triggers, domain.Trigger{Kind: domain.EventPush, Pattern: b})
	}
	for _, t := range d.On.Push.Tags {
		p.Triggers = append(p.Triggers, domain.Trigger{Kind: domain.EventTagPush, Pattern: t})
	}
	// "pull_request:" with an empty or null body still enables the trigger;
	// only total absence leaves it off.
	if d.On.PullRequest.Kind != 0 {
		p.Triggers = append(p.Triggers, domain.Trigger{Kind: domain.EventPullRequest})
	}

	if len(p.Triggers) == 0 {
		return domain.Pipeline{}, domain.Configf("pipeline declares no triggers")
	}
	if len(d.Jobs) == 0 {
		return domain.Pipeline{}, domain.Configf("pipeline declares no jobs")
	}

	for _, j := range d.Jobs {
		if j.Name == "" {
			return domain.Pipeline{}, domain.Configf("job with empty name")
		}
		if len(j.Steps) == 0 {
			return domain.Pipeline{}, domain.Configf("job %q has no steps", j.Name)
		}

		job := domain.Job{
			Name:   j.Name,
			RunsOn: j.RunsOn,
			Needs:  j.Needs,
			Env:    j.Env,
		}
		for i, s := range j.Steps {
			if s.Name == "" {
				return domain.Pipeline{}, domain.Configf("job %q: step %d has no name", j.Name, i+1)
			}
			if s.Run == "" {
				return domain.Pipeline{}, domain.Configf("job %q: step %q has no run command", j.Name, s.Name)
			}
			if s.Retries < 0 {
				return domain.Pipeline{}, domain.Configf("job %q: step %q has negative retries", j.Name, s.Name)
			}

			step := domain.Step{
				Name:      s.Name,
				Command:   s.Run,
				Env:       s.Env,
				Retries:   s.Retries,
				SkipOnHit: s.SkipOnHit,
			}
			if s.Cache != nil {
				if s.Cache.Key == "" {
					return domain.Pipeline{}, domain.Configf("job %q: step %q declares a cache without a key", j.Name, s.Name)
				}
				if len(s.Cache.Paths) == 0 {
					return domain.Pipeline{}, domain.Configf("job %q: step %q caches no paths", j.Name, s.Name)
				}
				step.Cache = &domain.CacheSpec{
					Key:    s.Cache.Key,
					Inputs: s.Cache.Inputs,
					Paths:  s.Cache.Paths,
				}
			}
			if step.SkipOnHit && step.Cache == nil {
				return domain.Pipeline{}, domain.Configf("job %q: step %q sets skip_on_hit without a cache", j.Name, s.Name)
			}
			job.Steps = append(job.Steps, step)
		}
		p.Jobs = append(p.Jobs, job)
	}

	return p, nil
}

// WatchInterval is the debounce applied by callers reloading a definition
// on file change events.
const WatchInterval = 300 * time.Millisecond
