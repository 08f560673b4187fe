package domain

import (
	"context"
	"sync"
)

// MockRunner returns scripted results per command. Unknown commands
// succeed with exit 0 and empty output.
type MockRunner struct {
	mu      sync.Mutex
	Results map[string]CommandResult
	Err     error
	Calls   []string
}

func (m *MockRunner) Run(ctx context.Context, spec CommandSpec) (CommandResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, spec.Command)
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return CommandResult{}, err
	}
	if m.Err != nil {
		return CommandResult{}, m.Err
	}
	if r, ok := m.Results[spec.Command]; ok {
		return r, nil
	}
	return CommandResult{ExitCode: 0}, nil
}

func (m *MockRunner) Commands() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Calls))
	copy(out, m.Calls)
	return out
}

// MockStore is an in-memory CacheStore.
type MockStore struct {
	mu     sync.Mutex
	Blobs  map[string][]byte
	GetErr error
	PutErr error
	Puts   int
}

func (s *MockStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, false, s.GetErr
	}
	b, ok := s.Blobs[key]
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out, true, nil
}

func (s *MockStore) Put(ctx context.Context, key string, blob []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.PutErr != nil {
		return s.PutErr
	}
	if s.Blobs == nil {
		s.Blobs = make(map[string][]byte)
	}
	b := make([]byte, len(blob))
	copy(b, blob)
	s.Blobs[key] = b
	s.Puts++
	return nil
}

// MockReporter captures reported runs.
type MockReporter struct {
	mu   sync.Mutex
	Runs []Run
	Err  error
}

func (r *MockReporter) Report(ctx context.Context, run Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Runs = append(r.Runs, run)
	return r.Err
}

func (r *MockReporter) Reported() []Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Run, len(r.Runs))
	copy(out, r.Runs)
	return out
}
