package engine

import (
	"context"

	"github.com/roach88/credsync/internal/credential"
	"github.com/roach88/credsync/internal/upsert"
)

// SourceDataset is a queryable origin collection. A nil exclusion matches
// every record of the origin.
type SourceDataset interface {
	Count(ctx context.Context, origin credential.Origin, excl *credential.Exclusion) (int64, error)
	Find(ctx context.Context, origin credential.Origin, excl *credential.Exclusion) ([]credential.SourceRecord, error)
}

// TargetDataset is the shared credential collection.
//
// Implementations wrap credential.ErrUnavailable on connectivity failures.
// ApplyBatch reports per-op failures in the Result and returns an error only
// when the batch could not continue.
type TargetDataset interface {
	Ping(ctx context.Context) error
	ApplyBatch(ctx context.Context, ops []upsert.Op) (upsert.Result, error)
	DuplicateGroups(ctx context.Context) ([]credential.DuplicateGroup, error)
	AddEntitlements(ctx context.Context, ref string, appIDs []string) error
	DeleteRefs(ctx context.Context, refs []string) (int64, error)
	CountEntitled(ctx context.Context, appID string, userIDs []string) (int64, error)
	ListEntitled(ctx context.Context, appID string) ([]credential.Credential, error)
}
