// Package identity hands out integer identities for templates and their clones.
package identity

import "sync/atomic"

// Source issues monotonically increasing identities starting at 1.
// The zero value is ready to use.
type Source struct {
	last atomic.Int64
}

// NewSource returns a source whose first identity is start+1.
func NewSource(start int) *Source {
	s := new(Source)
	s.last.Store(int64(start))
	return s
}

// Next returns a fresh identity never returned before by this source.
func (s *Source) Next() int {
	return int(s.last.Add(1))
}

// Last returns the most recently issued identity, or the start value.
func (s *Source) Last() int {
	return int(s.last.Load())
}

var process Source

// Process returns the process-wide source. Hosts that do not inject their own
// source share it, so their identities never collide.
func Process() *Source {
	return &process
}

// Next draws from the process-wide source.
func Next() int {
	return process.Next()
}
