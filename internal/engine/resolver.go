package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/credsync/internal/credential"
)

// ResolveReport summarizes one resolver pass.
type ResolveReport struct {
	Groups  int   `json:"groups"`
	Deleted int64 `json:"deleted"`
	Merged  int   `json:"merged"`
}

// Resolver restores the one-credential-per-user-ID invariant.
//
// With merge enabled, entitlements held only by duplicates are added to the
// surviving credential before the duplicates are deleted.
type Resolver struct {
	target TargetDataset
	merge  bool
	logger *slog.Logger
}

// NewResolver creates a Resolver for target.
func NewResolver(target TargetDataset, merge bool, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{target: target, merge: merge, logger: logger}
}

// Canonical picks the survivor of a duplicate group: the first member with a
// non-empty entitlement list, otherwise the first member. Members must be in
// creation order. An empty group yields a zero Member.
func Canonical(g credential.DuplicateGroup) (credential.Member, []credential.Member) {
	if len(g.Members) == 0 {
		return credential.Member{}, nil
	}
	pick := 0
	for i, m := range g.Members {
		if m.Entitled() {
			pick = i
			break
		}
	}
	rest := make([]credential.Member, 0, len(g.Members)-1)
	rest = append(rest, g.Members[:pick]...)
	rest = append(rest, g.Members[pick+1:]...)
	return g.Members[pick], rest
}

// Resolve scans for duplicate groups and deletes every non-canonical member.
// A second pass over a resolved target finds nothing to do.
func (r *Resolver) Resolve(ctx context.Context) (ResolveReport, error) {
	var report ResolveReport

	groups, err := r.target.DuplicateGroups(ctx)
	if err != nil {
		return report, fmt.Errorf("resolve duplicates: %w", err)
	}
	report.Groups = len(groups)

	for _, g := range groups {
		if len(g.Members) < 2 {
			continue
		}
		survivor, rest := Canonical(g)

		var lost []string
		refs := make([]string, 0, len(rest))
		for _, m := range rest {
			refs = append(refs, m.Ref)
			if m.HasAppIDs {
				lost = credential.UnionAppIDs(lost, credential.MissingAppIDs(survivor.AppIDs, m.AppIDs))
			}
		}

		if len(lost) > 0 {
			if r.merge {
				if err := r.target.AddEntitlements(ctx, survivor.Ref, lost); err != nil {
					return report, fmt.Errorf("resolve duplicates of %s: %w", g.UserID, err)
				}
				report.Merged++
				r.logger.Warn("divergent entitlements merged",
					"user_id", g.UserID,
					"survivor", survivor.Ref,
					"app_ids", lost,
				)
			} else {
				r.logger.Warn("divergent entitlements discarded",
					"user_id", g.UserID,
					"survivor", survivor.Ref,
					"app_ids", lost,
				)
			}
		}

		n, err := r.target.DeleteRefs(ctx, refs)
		if err != nil {
			return report, fmt.Errorf("resolve duplicates of %s: %w", g.UserID, err)
		}
		report.Deleted += n
		r.logger.Debug("duplicate group resolved",
			"user_id", g.UserID,
			"survivor", survivor.Ref,
			"deleted", n,
		)
	}

	r.logger.Info("duplicates resolved",
		"groups", report.Groups,
		"deleted", report.Deleted,
		"merged", report.Merged,
	)
	return report, nil
}
