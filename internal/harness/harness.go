package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roach88/credsync/internal/credential"
	"github.com/roach88/credsync/internal/engine"
	"github.com/roach88/credsync/internal/store"
	"github.com/roach88/credsync/internal/testutil"
)

// Fixed deployment constants every scenario runs with.
const (
	ScenarioURL      = "https://app.example.test"
	ScenarioSchoolID = "school"
)

// scenarioStart is the clock origin for every scenario.
var scenarioStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// Harness executes one scenario against its own store and engine.
type Harness struct {
	store  *store.Store
	engine *engine.Engine
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
//  1. Insert seed credentials and source documents
//  2. Execute steps in order
//  3. Snapshot the final target state
//  4. Evaluate assertions
//
// A run step that ends with WRITE_CONFLICT is recorded and execution
// continues. Any other error aborts the scenario.
func Run(scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:",
		store.WithClock(testutil.FixedClock(scenarioStart).Now),
		store.WithRefGenerator(testutil.NewSequence("ref").Generate),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil)) // Suppress logs in tests

	merge := true
	if scenario.MergeEntitlements != nil {
		merge = *scenario.MergeEntitlements
	}

	eng := engine.New(st, st, engine.Settings{
		URL:               ScenarioURL,
		SchoolID:          ScenarioSchoolID,
		MergeEntitlements: merge,
	},
		engine.WithClock(testutil.NewClock(scenarioStart, time.Second)),
		engine.WithRunIDGenerator(testutil.NewSequence("run")),
		engine.WithLogger(logger),
	)

	h := &Harness{store: st, engine: eng, logger: logger}
	ctx := context.Background()

	if err := h.seed(ctx, scenario); err != nil {
		return nil, fmt.Errorf("failed to seed: %w", err)
	}

	result := NewResult()
	for i, step := range scenario.Steps {
		sr, err := h.executeStep(ctx, step)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		result.Steps = append(result.Steps, sr)
	}

	final, err := st.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read final state: %w", err)
	}
	result.Final = final

	for _, errMsg := range EvaluateAssertions(result.Final, scenario.Assertions) {
		result.AddError(errMsg)
	}

	return result, nil
}

// seed writes the pre-existing target credentials and the source documents.
func (h *Harness) seed(ctx context.Context, scenario *Scenario) error {
	for i, c := range scenario.Seed {
		appIDs := c.AppIDs
		if appIDs == nil {
			appIDs = []string{}
		}
		if _, err := h.store.InsertCredential(ctx, credential.Record{
			UserID:    c.UserID,
			AppIDs:    appIDs,
			Password:  c.Password,
			URL:       c.URL,
			Title:     c.Title,
			FirstName: c.FirstName,
		}); err != nil {
			return fmt.Errorf("seed[%d]: %w", i, err)
		}
	}

	// Insert origins in a fixed order so source sequence numbers are stable.
	for _, origin := range credential.Origins {
		for i, doc := range scenario.Sources[string(origin)] {
			if err := h.store.InsertSource(ctx, origin, doc); err != nil {
				return fmt.Errorf("sources.%s[%d]: %w", origin, i, err)
			}
		}
	}
	return nil
}

func (h *Harness) executeStep(ctx context.Context, step Step) (StepResult, error) {
	switch {
	case step.Run != "":
		return h.runOrigin(ctx, credential.Origin(step.Run))
	case step.Webhook != nil:
		return h.webhook(ctx, step.Webhook)
	default:
		report, err := h.engine.Dedupe(ctx)
		if err != nil {
			return StepResult{}, err
		}
		return StepResult{Kind: "dedupe", Resolve: &report}, nil
	}
}

func (h *Harness) runOrigin(ctx context.Context, origin credential.Origin) (StepResult, error) {
	sr := StepResult{Kind: "run", Origin: string(origin)}

	report, err := h.engine.Run(ctx, origin)
	if err != nil && !engine.IsWriteConflict(err) {
		return sr, err
	}
	if err != nil {
		var runErr *engine.RunError
		if errors.As(err, &runErr) {
			sr.Code = runErr.Code
		}
	}

	sr.Write = &report.Write
	sr.Resolve = &report.Resolve
	if report.Validation != nil {
		match := report.Validation.Match
		sr.Match = &match
	}

	h.logger.Info("scenario run step completed", "origin", origin, "code", sr.Code)
	return sr, nil
}

func (h *Harness) webhook(ctx context.Context, ev *WebhookEvent) (StepResult, error) {
	title := credential.Str(ev.Title)
	if ev.Title == "" {
		title = nil
	}
	if _, err := h.store.InsertCredential(ctx, credential.Record{
		UserID:   ev.UserID,
		AppIDs:   credential.WebhookEntitlements(ev.Title),
		Password: ev.Password,
		URL:      ev.URL,
		Title:    title,
	}); err != nil {
		return StepResult{}, err
	}
	return StepResult{Kind: "webhook", UserID: ev.UserID}, nil
}
