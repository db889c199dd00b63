package engine

import (
	"context"
	"log/slog"

	"github.com/roach88/credsync/internal/upsert"
)

// Writer submits a planned batch to the target.
type Writer struct {
	target TargetDataset
	logger *slog.Logger
}

// NewWriter creates a Writer for target.
func NewWriter(target TargetDataset, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{target: target, logger: logger}
}

// Write pings the target and applies ops as one unordered batch.
// A returned error is fatal; per-op failures are in the Result.
func (w *Writer) Write(ctx context.Context, ops []upsert.Op) (upsert.Result, error) {
	if err := w.target.Ping(ctx); err != nil {
		return upsert.Result{}, err
	}

	res, err := w.target.ApplyBatch(ctx, ops)
	if err != nil {
		return res, err
	}

	for _, f := range res.Failures {
		w.logger.Error("upsert failed",
			"index", f.Index,
			"user_id", f.UserID,
			"reason", f.Reason,
		)
	}
	w.logger.Info("batch written",
		"ops", len(ops),
		"inserted", res.Inserted,
		"matched", res.Matched,
		"modified", res.Modified,
		"failed", len(res.Failures),
	)
	return res, nil
}
