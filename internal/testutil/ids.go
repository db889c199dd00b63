package testutil

import (
	"fmt"
	"sync"
)

// Sequence generates numbered identifiers: prefix-0001, prefix-0002, ...
//
// Used wherever production code mints UUIDv7 values (run IDs, SQLite record
// refs) so the same scenario yields byte-identical output.
//
// Thread-safety: Sequence is safe for concurrent use via internal mutex.
type Sequence struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequence creates a sequence. If prefix is empty, "id" is used.
func NewSequence(prefix string) *Sequence {
	if prefix == "" {
		prefix = "id"
	}
	return &Sequence{prefix: prefix}
}

// Generate returns the next identifier.
//
// Implements engine.RunIDGenerator.
func (s *Sequence) Generate() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("%s-%04d", s.prefix, s.n)
}
