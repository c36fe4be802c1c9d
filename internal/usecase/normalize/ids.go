// Package normalize turns the heterogeneous message payloads produced by
// agent harnesses into the canonical part-based message model. It is
// total: malformed input degrades to text or is skipped, never panics.
package normalize

import "fmt"

// IDSource hands out deterministic synthetic ids for messages and parts
// that arrive without one. It is scoped to a session so ids stay stable
// within it; the counter persists across restarts via the cache.
type IDSource struct {
	prefix string
	next   int64
}

// NewIDSource creates a source whose ids carry the given prefix,
// typically derived from the session id.
func NewIDSource(prefix string, next int64) *IDSource {
	if prefix == "" {
		prefix = "local"
	}
	return &IDSource{prefix: prefix, next: next}
}

// NextMessage returns a fresh synthetic message id.
func (s *IDSource) NextMessage() string {
	s.next++
	return fmt.Sprintf("%s_msg_%d", s.prefix, s.next)
}

// NextPart returns a fresh synthetic part id.
func (s *IDSource) NextPart() string {
	s.next++
	return fmt.Sprintf("%s_part_%d", s.prefix, s.next)
}

// Counter exposes the current counter so it can be persisted.
func (s *IDSource) Counter() int64 { return s.next }
