package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventPush        EventKind = "push"
	EventTagPush     EventKind = "tag_push"
	EventPullRequest EventKind = "pull_request"
)

// Event is a normalized repository event descriptor. The engine never sees
// raw webhook payloads; an upstream collaborator reduces them to this.
type Event struct {
	Kind EventKind
	Ref  string
}

// Trigger is a predicate over events. An empty Pattern matches any ref;
// pull_request triggers match every pull request regardless of pattern.
type Trigger struct {
	Kind    EventKind
	Pattern string
}

type Pipeline struct {
	Name     string
	Triggers []Trigger
	Jobs     []Job
}

type Job struct {
	Name   string
	RunsOn string
	Needs  []string
	Env    map[string]string
	Steps  []Step
}

type Step struct {
	Name    string
	Command string
	Env     map[string]string
	Cache   *CacheSpec
	// Retries bounds transient-failure retries for this step (tool
	// installs and the like). Zero means a single attempt.
	Retries int
	// SkipOnHit lets the step be skipped entirely when its cache key hits,
	// recording a cached success instead of executing the command.
	SkipOnHit bool
}

// CacheSpec declares what a step caches: Key is the static key prefix,
// Inputs are files whose contents are fingerprinted into the final key,
// Paths are the directories restored before and persisted after the job.
type CacheSpec struct {
	Key    string
	Inputs []string
	Paths  []string
}

type RunStatus string

const (
	StatusPending   RunStatus = "pending"
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
	StatusCancelled RunStatus = "cancelled"
	StatusSkipped   RunStatus = "skipped"
)

// RunResult records one executed step. Steps that never started because an
// earlier one failed produce no RunResult at all.
type RunResult struct {
	Step     string
	Status   RunStatus
	ExitCode int
	Cached   bool
	Duration time.Duration
	Output   string
}

type JobResult struct {
	Job     string
	Status  RunStatus
	Results []RunResult
}

// Run is one instantiation of the job graph for a single qualifying event.
type Run struct {
	ID       uuid.UUID
	Pipeline string
	Event    Event
	Status   RunStatus
	Started  time.Time
	Finished time.Time
	Jobs     []JobResult
}
