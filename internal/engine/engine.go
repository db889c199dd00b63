package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/credsync/internal/credential"
	"github.com/roach88/credsync/internal/mapping"
	"github.com/roach88/credsync/internal/schema"
	"github.com/roach88/credsync/internal/source"
	"github.com/roach88/credsync/internal/upsert"
)

// Stage names used in logs and RunError.Stage.
const (
	StageRead     = "read"
	StageMap      = "map"
	StagePlan     = "plan"
	StageWrite    = "write"
	StageResolve  = "resolve"
	StageValidate = "validate"
)

// Settings are the run parameters that do not depend on the backend.
type Settings struct {
	// URL is written into every credential's url field.
	URL string

	// SchoolID is written into every credential's schoolId field.
	SchoolID string

	// MergeEntitlements makes the resolver keep entitlements held only by
	// deleted duplicates.
	MergeEntitlements bool
}

// Report is the structured outcome of one run.
type Report struct {
	RunID      string            `json:"run_id"`
	Origin     credential.Origin `json:"origin"`
	StartedAt  time.Time         `json:"started_at"`
	FinishedAt time.Time         `json:"finished_at"`
	Source     source.Stats      `json:"source"`
	Mapped     int               `json:"mapped"`
	Write      upsert.Result     `json:"write"`
	Resolve    ResolveReport     `json:"resolve"`
	Validation *Validation       `json:"validation,omitempty"`
	Notices    []*RunError       `json:"notices,omitempty"`
}

// Engine wires the stages of a run over one source and one target.
//
// Runs are sequential; the Engine holds no state between them and no lock
// across I/O.
type Engine struct {
	reader    *source.Reader
	writer    *Writer
	resolver  *Resolver
	validator *Validator
	settings  Settings
	clock     Clock
	runIDs    RunIDGenerator
	recorder  Recorder
	checker   *schema.Checker
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the clock used to stamp planned writes.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithRunIDGenerator sets how run IDs are minted.
func WithRunIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) { e.runIDs = g }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Engine) { e.recorder = r }
}

// WithLogger sets the logger passed to every stage.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithSchemaChecker enables schema checks during validation.
func WithSchemaChecker(c *schema.Checker) Option {
	return func(e *Engine) { e.checker = c }
}

// New creates an Engine.
func New(src SourceDataset, target TargetDataset, settings Settings, opts ...Option) *Engine {
	e := &Engine{
		settings: settings,
		clock:    SystemClock{},
		runIDs:   UUIDv7Generator{},
		recorder: NopRecorder{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}

	e.reader = source.NewReader(src, e.logger)
	e.writer = NewWriter(target, e.logger)
	e.resolver = NewResolver(target, settings.MergeEntitlements, e.logger)
	e.validator = NewValidator(e.reader, target, e.checker, e.logger)
	return e
}

// Run consolidates origin into the target.
//
// The returned Report is never nil and reflects every stage that ran.
// Connectivity failures abort at the failing stage with a CONNECTIVITY
// *RunError. Per-op write failures yield a WRITE_CONFLICT *RunError once
// every stage has completed.
func (e *Engine) Run(ctx context.Context, origin credential.Origin) (*Report, error) {
	report := &Report{
		RunID:     e.runIDs.Generate(),
		Origin:    origin,
		StartedAt: e.clock.Now(),
	}
	logger := e.logger.With("run_id", report.RunID, "origin", origin)
	logger.Info("run started")

	defer func() {
		report.FinishedAt = e.clock.Now()
		e.recorder.RunFinished(origin, report.FinishedAt.Sub(report.StartedAt))
	}()

	batch, err := e.reader.Read(ctx, origin)
	if err != nil {
		return report, e.fail(logger, origin, StageRead, err)
	}
	report.Source = batch.Stats
	e.recorder.SourceRead(origin, batch.Stats)
	if batch.Stats.MissingIdentity > 0 {
		report.Notices = append(report.Notices, NewIdentityMissingNotice(origin, batch.Stats.MissingIdentity))
	}

	records, dropped := mapping.MapAll(batch.Records, mapping.Options{
		URL:      e.settings.URL,
		SchoolID: e.settings.SchoolID,
	})
	report.Mapped = len(records)
	if dropped > 0 {
		logger.Warn("records dropped by mapper", "dropped", dropped)
	}

	ops := upsert.Plan(records, credential.OwnedFields, e.clock.Now())
	logger.Debug("batch planned", "ops", len(ops))

	res, err := e.writer.Write(ctx, ops)
	report.Write = res
	e.recorder.BatchWritten(origin, res)
	if err != nil {
		return report, e.fail(logger, origin, StageWrite, err)
	}

	resolved, err := e.resolver.Resolve(ctx)
	report.Resolve = resolved
	e.recorder.DuplicatesResolved(resolved)
	if err != nil {
		return report, e.fail(logger, origin, StageResolve, err)
	}

	validation, err := e.validator.Validate(ctx, origin)
	if err != nil {
		return report, e.fail(logger, origin, StageValidate, err)
	}
	report.Validation = &validation
	e.recorder.Validated(validation)
	if !validation.Match {
		report.Notices = append(report.Notices, NewValidationMismatch(validation))
	}

	if len(res.Failures) > 0 {
		conflict := NewWriteConflictError(origin, res)
		logger.Error("run finished with failed upserts", "failed", len(res.Failures))
		return report, conflict
	}
	logger.Info("run finished",
		"inserted", res.Inserted,
		"modified", res.Modified,
		"deleted", resolved.Deleted,
		"match", validation.Match,
	)
	return report, nil
}

// Dedupe runs the resolver on its own.
func (e *Engine) Dedupe(ctx context.Context) (ResolveReport, error) {
	report, err := e.resolver.Resolve(ctx)
	e.recorder.DuplicatesResolved(report)
	if err != nil {
		return report, e.fail(e.logger, "", StageResolve, err)
	}
	return report, nil
}

// Validate runs the validator on its own.
func (e *Engine) Validate(ctx context.Context, origin credential.Origin) (Validation, error) {
	v, err := e.validator.Validate(ctx, origin)
	if err != nil {
		return v, e.fail(e.logger, origin, StageValidate, err)
	}
	e.recorder.Validated(v)
	return v, nil
}

// fail classifies err and logs it. Connectivity errors become CONNECTIVITY
// run errors; anything else is wrapped with the stage name.
func (e *Engine) fail(logger *slog.Logger, origin credential.Origin, stage string, err error) error {
	logger.Error("run aborted", "stage", stage, "error", err)
	if credential.IsUnavailable(err) {
		return NewConnectivityError(origin, stage, err)
	}
	return fmt.Errorf("%s: %w", stage, err)
}
