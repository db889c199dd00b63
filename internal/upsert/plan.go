// Package upsert plans idempotent conditional writes of normalized records.
//
// Every Op combines three effects keyed by UserID:
//   - Overwrite: origin-owned profile fields are set to this run's values
//   - Union: entitlements are added if absent, never removed
//   - InsertOnly: identity and creation time, applied only when no credential exists
//
// Each effect is idempotent and commutes with the effects of other origins, so a
// batch can be re-applied, reordered, or raced against another origin's batch and
// still converge.
package upsert

import (
	"slices"
	"time"

	"github.com/roach88/credsync/internal/credential"
)

// Assignment sets one owned field. A nil Value writes null.
type Assignment struct {
	Field credential.Field `json:"field"`
	Value *string          `json:"value"`
}

// Op is one conditional upsert keyed by UserID.
type Op struct {
	UserID     string       `json:"user_id"`
	Overwrite  []Assignment `json:"overwrite"`
	Union      []string     `json:"union"`
	InsertOnly InsertOnly   `json:"insert_only"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// InsertOnly holds defaults applied only when the upsert creates the credential.
type InsertOnly struct {
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// Plan builds one Op per record, in input order.
//
// owned lists the fields the current origin overwrites; fields outside it are
// left untouched on existing credentials. Union entries are sorted and
// de-duplicated so equal records always produce equal ops.
func Plan(records []credential.Record, owned []credential.Field, now time.Time) []Op {
	ops := make([]Op, 0, len(records))
	for _, rec := range records {
		op := Op{
			UserID:    rec.UserID,
			Overwrite: make([]Assignment, 0, len(owned)),
			Union:     sortedUnique(rec.AppIDs),
			InsertOnly: InsertOnly{
				UserID:    rec.UserID,
				CreatedAt: now,
			},
			UpdatedAt: now,
		}
		for _, f := range owned {
			op.Overwrite = append(op.Overwrite, Assignment{Field: f, Value: rec.Value(f)})
		}
		ops = append(ops, op)
	}
	return ops
}

// Apply computes the effect of op on an existing credential's state.
// It returns the new field values, the new entitlement list, and whether
// anything changed. Backends without native conditional-update operators
// use it so every backend shares one definition of the write.
func Apply(op Op, current map[credential.Field]*string, appIDs []string) (map[credential.Field]*string, []string, bool) {
	next := make(map[credential.Field]*string, len(current))
	for f, v := range current {
		next[f] = v
	}

	changed := false
	for _, a := range op.Overwrite {
		if !equalOptional(next[a.Field], a.Value) {
			changed = true
		}
		next[a.Field] = a.Value
	}

	missing := credential.MissingAppIDs(appIDs, op.Union)
	merged := credential.UnionAppIDs(appIDs, missing)
	if len(missing) > 0 {
		changed = true
	}
	return next, merged, changed
}

func sortedUnique(ids []string) []string {
	out := credential.UnionAppIDs(ids)
	slices.Sort(out)
	return out
}

func equalOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
