package harness

import (
	"github.com/roach88/credsync/internal/credential"
	"github.com/roach88/credsync/internal/engine"
	"github.com/roach88/credsync/internal/upsert"
)

// StepResult records what one scenario step did.
type StepResult struct {
	Kind   string `json:"kind"` // "run", "webhook" or "dedupe"
	Origin string `json:"origin,omitempty"`
	UserID string `json:"user_id,omitempty"`

	Write   *upsert.Result        `json:"write,omitempty"`
	Resolve *engine.ResolveReport `json:"resolve,omitempty"`
	Match   *bool                 `json:"match,omitempty"`

	// Code is the RunError code a run ended with, if any.
	Code engine.RunErrorCode `json:"code,omitempty"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	Steps []StepResult `json:"steps"`

	// Errors contains assertion failure messages.
	Errors []string `json:"errors,omitempty"`

	// Final is the target dataset after the last step, ordered by user ID
	// then creation order.
	Final []credential.Credential `json:"final"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Steps:  []StepResult{},
		Errors: []string{},
	}
}

// AddError adds an assertion failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
