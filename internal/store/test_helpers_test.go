package store

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"
)

var testNow = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

// createTestStore creates a new file-backed store with deterministic refs
// and a fixed clock.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	n := 0
	s, err := Open(path,
		WithClock(func() time.Time { return testNow }),
		WithRefGenerator(func() string {
			n++
			return fmt.Sprintf("ref-%04d", n)
		}),
	)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func strPtr(s string) *string { return &s }
