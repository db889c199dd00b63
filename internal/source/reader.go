// Package source reads qualifying records from an origin dataset.
package source

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/credsync/internal/credential"
)

// Dataset is a queryable origin collection. A nil exclusion matches everything.
type Dataset interface {
	Count(ctx context.Context, origin credential.Origin, excl *credential.Exclusion) (int64, error)
	Find(ctx context.Context, origin credential.Origin, excl *credential.Exclusion) ([]credential.SourceRecord, error)
}

// Stats accounts for every source record seen by a read.
type Stats struct {
	Total              int64 `json:"total"`
	Excluded           int64 `json:"excluded"`
	Qualifying         int64 `json:"qualifying"`
	MissingIdentity    int64 `json:"missing_identity"`
	Resolvable         int64 `json:"resolvable"`
	DistinctIdentities int64 `json:"distinct_identities"`
}

// Batch is the outcome of one read: records with a resolvable identity, in
// source order, plus the accounting for everything that was dropped.
type Batch struct {
	Origin  credential.Origin
	Records []credential.SourceRecord
	Stats   Stats
}

// UserIDs returns the distinct identities in the batch, in first-seen order.
func (b Batch) UserIDs() []string {
	seen := make(map[string]bool, len(b.Records))
	ids := make([]string, 0, len(b.Records))
	for _, rec := range b.Records {
		id, _ := rec.Identity()
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// Reader applies an origin's exclusion predicate and drops identity-less records.
type Reader struct {
	dataset Dataset
	logger  *slog.Logger
}

// NewReader creates a Reader over the given dataset.
func NewReader(dataset Dataset, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{dataset: dataset, logger: logger}
}

// Read fetches the origin's qualifying records.
//
// The exclusion is pushed down to the dataset and re-checked in memory, so a
// departed record never reaches the mapper whatever the backend does.
// Dataset errors are returned wrapped; connectivity failures keep
// credential.ErrUnavailable in their chain.
func (r *Reader) Read(ctx context.Context, origin credential.Origin) (Batch, error) {
	excl := origin.Exclusion()

	total, err := r.dataset.Count(ctx, origin, nil)
	if err != nil {
		return Batch{}, fmt.Errorf("read %s: count: %w", origin, err)
	}

	found, err := r.dataset.Find(ctx, origin, excl)
	if err != nil {
		return Batch{}, fmt.Errorf("read %s: find: %w", origin, err)
	}

	batch := Batch{Origin: origin, Records: make([]credential.SourceRecord, 0, len(found))}
	var qualifying int64
	seen := make(map[string]bool, len(found))
	for _, rec := range found {
		if rec.Departed() {
			continue
		}
		qualifying++
		id, ok := rec.Identity()
		if !ok {
			batch.Stats.MissingIdentity++
			continue
		}
		if !seen[id] {
			seen[id] = true
			batch.Stats.DistinctIdentities++
		}
		batch.Records = append(batch.Records, rec)
	}

	batch.Stats.Total = total
	batch.Stats.Qualifying = qualifying
	batch.Stats.Resolvable = int64(len(batch.Records))
	// Total and Find are separate reads of a live dataset; clamp rather
	// than report a negative exclusion when records appear in between.
	batch.Stats.Excluded = max(total-qualifying, 0)

	r.logger.Info("source read",
		"origin", origin,
		"exclusion", excl.String(),
		"total", batch.Stats.Total,
		"excluded", batch.Stats.Excluded,
		"qualifying", batch.Stats.Qualifying,
		"missing_identity", batch.Stats.MissingIdentity,
		"distinct_identities", batch.Stats.DistinctIdentities,
	)
	if batch.Stats.MissingIdentity > 0 {
		r.logger.Warn("source records without identity dropped",
			"origin", origin,
			"count", batch.Stats.MissingIdentity,
		)
	}

	return batch, nil
}
