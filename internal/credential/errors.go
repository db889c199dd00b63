package credential

import "errors"

// ErrUnavailable marks a failure to reach a source or target dataset.
// Backends wrap it; callers treat it as fatal for the run.
var ErrUnavailable = errors.New("dataset unavailable")

// ErrNotFound is returned when no credential matches a lookup.
var ErrNotFound = errors.New("credential not found")

// IsUnavailable reports whether err is a connectivity failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}
