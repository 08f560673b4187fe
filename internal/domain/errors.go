package domain

import "fmt"

// ConfigError marks a malformed pipeline definition or event descriptor.
// It always fails fast, before any step executes.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string { return "configuration: " + e.Reason }

func Configf(format string, args ...any) error {
	return &ConfigError{Reason: fmt.Sprintf(format, args...)}
}

// StepError is a step that ran and exited non-zero. It aborts the owning
// job but never its sibling jobs.
type StepError struct {
	Step     string
	ExitCode int
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %q exited with status %d", e.Step, e.ExitCode)
}
