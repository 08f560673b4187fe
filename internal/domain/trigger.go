package domain

import "path"

// Validate rejects malformed event descriptors before scheduling.
func (e Event) Validate() error {
	switch e.Kind {
	case EventPush, EventTagPush, EventPullRequest:
	default:
		return Configf("unknown event kind %q", string(e.Kind))
	}
	if e.Ref == "" {
		return Configf("event %s has empty ref", string(e.Kind))
	}
	return nil
}

// Matches reports whether the trigger fires for the event. Patterns are
// shell-style globs over the bare ref name ("main", "v*", "*").
func (t Trigger) Matches(e Event) bool {
	if t.Kind != e.Kind {
		return false
	}
	if e.Kind == EventPullRequest || t.Pattern == "" {
		return true
	}
	ok, err := path.Match(t.Pattern, e.Ref)
	return err == nil && ok
}

// Matches reports whether any trigger of the pipeline fires for the event.
// Several triggers matching one event still mean a single run.
func (p Pipeline) Matches(e Event) bool {
	for _, t := range p.Triggers {
		if t.Matches(e) {
			return true
		}
	}
	return false
}
