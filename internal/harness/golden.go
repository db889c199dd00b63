package harness

import (
	"encoding/json"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/credsync/internal/credential"
)

// Snapshot captures a scenario's step outcomes and final target state.
// Refs and timestamps are omitted so the snapshot is stable across runs.
type Snapshot struct {
	ScenarioName string               `json:"scenario_name"`
	Steps        []StepResult         `json:"steps"`
	Final        []CredentialSnapshot `json:"final"`
}

// CredentialSnapshot is the comparable part of a credential.
// AppIDs is null when the stored entitlements are missing or malformed.
type CredentialSnapshot struct {
	UserID    string   `json:"user_id"`
	AppIDs    []string `json:"app_ids"`
	FirstName *string  `json:"first_name"`
	LastName  *string  `json:"last_name"`
	Password  *string  `json:"password"`
	Email     *string  `json:"email"`
	Title     *string  `json:"title"`
	URL       string   `json:"url"`
	SchoolID  *string  `json:"school_id"`
}

// NewSnapshot builds the snapshot of a scenario result.
func NewSnapshot(name string, result *Result) Snapshot {
	final := make([]CredentialSnapshot, 0, len(result.Final))
	for _, c := range result.Final {
		final = append(final, snapshotCredential(c))
	}
	return Snapshot{ScenarioName: name, Steps: result.Steps, Final: final}
}

func snapshotCredential(c credential.Credential) CredentialSnapshot {
	s := CredentialSnapshot{
		UserID:    c.UserID,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		Password:  c.Password,
		Email:     c.Email,
		Title:     c.Title,
		URL:       c.URL,
		SchoolID:  c.SchoolID,
	}
	if c.HasAppIDs {
		s.AppIDs = c.AppIDs
	}
	return s
}

// Marshal renders the snapshot as indented JSON with a trailing newline.
func (s Snapshot) Marshal() ([]byte, error) {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// RunWithGolden executes a scenario and compares its snapshot against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if the snapshot doesn't match the golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares an existing result against a golden file without
// re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	data, err := NewSnapshot(scenarioName, result).Marshal()
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, data)

	return nil
}
