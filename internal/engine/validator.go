package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/credsync/internal/credential"
	"github.com/roach88/credsync/internal/schema"
	"github.com/roach88/credsync/internal/source"
)

// Validation compares the identities a run should have entitled with what
// the target holds. It is informational and never corrects anything.
type Validation struct {
	Origin credential.Origin `json:"origin"`
	AppID  string            `json:"app_id"`

	// Expected is the number of distinct resolvable identities among
	// qualifying source records.
	Expected int64 `json:"expected"`

	// Actual is the number of credentials entitled to AppID among those
	// identities.
	Actual int64 `json:"actual"`

	// TotalEntitled counts every credential entitled to AppID, including
	// ones granted by other writers.
	TotalEntitled int64 `json:"total_entitled"`

	// SchemaViolations counts entitled credentials failing the schema.
	SchemaViolations int                `json:"schema_violations"`
	Violations       []schema.Violation `json:"violations,omitempty"`

	Match bool `json:"match"`
}

// Validator checks a target against an origin's source dataset.
type Validator struct {
	reader  *source.Reader
	target  TargetDataset
	checker *schema.Checker
	logger  *slog.Logger
}

// NewValidator creates a Validator. checker may be nil to skip schema checks.
func NewValidator(reader *source.Reader, target TargetDataset, checker *schema.Checker, logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{reader: reader, target: target, checker: checker, logger: logger}
}

// Validate re-reads origin and counts entitled identities in the target.
// A mismatch is reported, not returned as an error.
func (v *Validator) Validate(ctx context.Context, origin credential.Origin) (Validation, error) {
	appID := origin.ValidationApp()
	out := Validation{Origin: origin, AppID: appID}

	batch, err := v.reader.Read(ctx, origin)
	if err != nil {
		return out, fmt.Errorf("validate %s: %w", origin, err)
	}
	out.Expected = batch.Stats.DistinctIdentities

	out.Actual, err = v.target.CountEntitled(ctx, appID, batch.UserIDs())
	if err != nil {
		return out, fmt.Errorf("validate %s: %w", origin, err)
	}

	entitled, err := v.target.ListEntitled(ctx, appID)
	if err != nil {
		return out, fmt.Errorf("validate %s: %w", origin, err)
	}
	out.TotalEntitled = int64(len(entitled))

	if v.checker != nil {
		for _, c := range entitled {
			if violations := v.checker.Check(c); len(violations) > 0 {
				out.SchemaViolations++
				out.Violations = append(out.Violations, violations...)
			}
		}
	}

	out.Match = out.Expected == out.Actual
	attrs := []any{
		"origin", origin,
		"app_id", appID,
		"expected", out.Expected,
		"actual", out.Actual,
		"total_entitled", out.TotalEntitled,
		"schema_violations", out.SchemaViolations,
	}
	if out.Match {
		v.logger.Info("validation matched", attrs...)
	} else {
		v.logger.Warn("validation mismatch", attrs...)
	}
	return out, nil
}
