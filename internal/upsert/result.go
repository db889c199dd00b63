package upsert

import "fmt"

// Result is the structured outcome of executing a batch of Ops.
//
// Inserted counts new identities, Matched counts ops that found an existing
// credential, and Modified counts matched credentials whose attributes
// actually changed. Failures lists ops that could not be applied; they do not
// stop the rest of the batch.
type Result struct {
	Inserted int64     `json:"inserted"`
	Matched  int64     `json:"matched"`
	Modified int64     `json:"modified"`
	Failures []Failure `json:"failures,omitempty"`
}

// Failure records one op that was not applied.
type Failure struct {
	Index  int    `json:"index"`
	UserID string `json:"user_id"`
	Reason string `json:"reason"`
}

func (f Failure) String() string {
	return fmt.Sprintf("op %d (userId=%s): %s", f.Index, f.UserID, f.Reason)
}

// Outcome classifies a single applied op.
type Outcome int

const (
	OutcomeInserted Outcome = iota
	OutcomeMatched
	OutcomeModified
)

// Record adds one applied op's outcome to the totals.
func (r *Result) Record(o Outcome) {
	switch o {
	case OutcomeInserted:
		r.Inserted++
	case OutcomeMatched:
		r.Matched++
	case OutcomeModified:
		r.Matched++
		r.Modified++
	}
}

// Fail adds a per-op failure.
func (r *Result) Fail(index int, userID string, err error) {
	r.Failures = append(r.Failures, Failure{Index: index, UserID: userID, Reason: err.Error()})
}

// Applied is the number of ops that took effect.
func (r Result) Applied() int64 {
	return r.Inserted + r.Matched
}

// FailedUserIDs lists the identities of failed ops in batch order.
func (r Result) FailedUserIDs() []string {
	ids := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		ids = append(ids, f.UserID)
	}
	return ids
}
