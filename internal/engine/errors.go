package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/roach88/credsync/internal/credential"
	"github.com/roach88/credsync/internal/upsert"
)

// RunError represents an error or notice raised while running an origin.
//
// Run errors include:
//   - Connectivity: a dataset could not be reached (fatal)
//   - Write conflict: some upserts were rejected (run completes, exit non-zero)
//   - Identity missing: qualifying source records had no identity (notice)
//   - Validation mismatch: expected and actual counts differ (notice)
type RunError struct {
	// Code identifies the error category.
	Code RunErrorCode `json:"code"`

	// Message is a human-readable description.
	Message string `json:"message"`

	// Origin identifies the affected run.
	Origin credential.Origin `json:"origin,omitempty"`

	// Stage names the run stage that raised the error.
	Stage string `json:"stage,omitempty"`

	// Details contains additional context.
	Details map[string]string `json:"details,omitempty"`

	err error
}

// RunErrorCode categorizes run errors.
type RunErrorCode string

const (
	// ErrCodeIdentityMissing indicates qualifying records without an identity.
	ErrCodeIdentityMissing RunErrorCode = "SOURCE_IDENTITY_MISSING"

	// ErrCodeConnectivity indicates a dataset could not be reached.
	ErrCodeConnectivity RunErrorCode = "CONNECTIVITY"

	// ErrCodeWriteConflict indicates per-op upsert failures.
	ErrCodeWriteConflict RunErrorCode = "WRITE_CONFLICT"

	// ErrCodeValidationMismatch indicates expected and actual counts differ.
	ErrCodeValidationMismatch RunErrorCode = "VALIDATION_MISMATCH"
)

// Error implements the error interface.
func (e *RunError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Origin != "" && e.Stage != "" {
		msg = fmt.Sprintf("%s (origin=%s, stage=%s)", msg, e.Origin, e.Stage)
	} else if e.Origin != "" {
		msg = fmt.Sprintf("%s (origin=%s)", msg, e.Origin)
	}
	if e.err != nil {
		msg += ": " + e.err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RunError) Unwrap() error {
	return e.err
}

// IsConnectivityError returns true if err is fatal for the run.
// Uses errors.As to handle wrapped errors.
func IsConnectivityError(err error) bool {
	var re *RunError
	if errors.As(err, &re) && re.Code == ErrCodeConnectivity {
		return true
	}
	return credential.IsUnavailable(err)
}

// IsWriteConflict returns true if err reports per-op write failures.
func IsWriteConflict(err error) bool {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code == ErrCodeWriteConflict
	}
	return false
}

// NewConnectivityError wraps a fatal dataset error.
func NewConnectivityError(origin credential.Origin, stage string, err error) *RunError {
	return &RunError{
		Code:    ErrCodeConnectivity,
		Message: "dataset unavailable",
		Origin:  origin,
		Stage:   stage,
		err:     err,
	}
}

// NewWriteConflictError summarizes the failed ops of a batch.
func NewWriteConflictError(origin credential.Origin, res upsert.Result) *RunError {
	return &RunError{
		Code:    ErrCodeWriteConflict,
		Message: fmt.Sprintf("%d upsert(s) failed", len(res.Failures)),
		Origin:  origin,
		Stage:   StageWrite,
		Details: map[string]string{
			"user_ids": strings.Join(res.FailedUserIDs(), ","),
		},
	}
}

// NewIdentityMissingNotice reports qualifying records that were skipped.
func NewIdentityMissingNotice(origin credential.Origin, n int64) *RunError {
	return &RunError{
		Code:    ErrCodeIdentityMissing,
		Message: fmt.Sprintf("%d qualifying record(s) have no identity", n),
		Origin:  origin,
		Stage:   StageRead,
		Details: map[string]string{"count": fmt.Sprintf("%d", n)},
	}
}

// NewValidationMismatch reports differing expected and actual counts.
func NewValidationMismatch(v Validation) *RunError {
	return &RunError{
		Code:    ErrCodeValidationMismatch,
		Message: fmt.Sprintf("expected %d entitled identities, found %d", v.Expected, v.Actual),
		Origin:  v.Origin,
		Stage:   StageValidate,
		Details: map[string]string{
			"app_id":   v.AppID,
			"expected": fmt.Sprintf("%d", v.Expected),
			"actual":   fmt.Sprintf("%d", v.Actual),
		},
	}
}
