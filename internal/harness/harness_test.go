package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/credsync/internal/engine"
)

func TestScenarios_Golden(t *testing.T) {
	paths, err := ScenarioPaths("testdata/scenarios")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err, path)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "assertion failures: %v", result.Errors)
		})
	}
}

func TestRun_IsDeterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/staff_guardian_accumulate.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := NewSnapshot(scenario.Name, first).Marshal()
	require.NoError(t, err)
	b, err := NewSnapshot(scenario.Name, second).Marshal()
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	// Refs are sequential per scenario, so each run starts from ref-0001.
	assert.Equal(t, first.Final[0].Ref, second.Final[0].Ref)
}

func TestRun_FailingAssertionsAreReported(t *testing.T) {
	scenario := &Scenario{
		Name:        "failing",
		Description: "assertions that do not hold",
		Seed: []SeedCredential{
			{UserID: "U1", AppIDs: []string{"MentorApp"}},
			{UserID: "U1", AppIDs: []string{}},
		},
		Steps: []Step{{Webhook: &WebhookEvent{UserID: "W1", Title: "Teacher"}}},
		Assertions: []Assertion{
			{Type: AssertNoDuplicates},
			{Type: AssertTotalCount, Count: 1},
			{Type: AssertEntitlements, UserID: "U1", AppIDs: []string{"ParentApp"}},
			{Type: AssertCredentialCount, UserID: "U1", Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 4)
	assert.Contains(t, result.Errors[0], "duplicates for U1")
	assert.Contains(t, result.Errors[1], "Expected: 1 credentials")
	assert.Contains(t, result.Errors[2], "Actual: [MentorApp]")
	assert.Contains(t, result.Errors[3], "Actual: 2 credentials")
	assert.Contains(t, result.Errors[0], "Final state:")
}

func TestRun_SourcesFeedRunSteps(t *testing.T) {
	scenario := &Scenario{
		Name:        "sources",
		Description: "source documents declared inline reach the engine",
		Sources: map[string][]map[string]any{
			"staff": {
				{"employeeID": 42, "title": "Teacher"},
			},
		},
		Steps:      []Step{{Run: "staff"}},
		Assertions: []Assertion{{Type: AssertEntitlements, UserID: "42", AppIDs: []string{"InstituteApp", "MentorApp"}}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.Len(t, result.Steps, 1)
	step := result.Steps[0]
	assert.Equal(t, "run", step.Kind)
	assert.Equal(t, engine.RunErrorCode(""), step.Code)
	assert.Equal(t, int64(1), step.Write.Inserted)
	require.NotNil(t, step.Match)
	assert.True(t, *step.Match)
	assert.True(t, result.Pass, "assertion failures: %v", result.Errors)
}

func TestRunSuite(t *testing.T) {
	result, err := RunSuite("testdata/scenarios", SuiteOptions{GoldenDir: "testdata/golden"})
	require.NoError(t, err)
	assert.Equal(t, result.Total, result.Passed)
	assert.Zero(t, result.Failed)
	assert.Empty(t, result.Failures)
}

func TestRunSuite_UpdateThenCompare(t *testing.T) {
	golden := filepath.Join(t.TempDir(), "golden")

	missing, err := RunSuite("testdata/scenarios", SuiteOptions{GoldenDir: golden})
	require.NoError(t, err)
	assert.Equal(t, missing.Total, missing.Failed)
	require.NotEmpty(t, missing.Failures)
	assert.Contains(t, missing.Failures[0].Error, "not found")

	updated, err := RunSuite("testdata/scenarios", SuiteOptions{GoldenDir: golden, Update: true})
	require.NoError(t, err)
	assert.Equal(t, updated.Total, updated.Updated)
	assert.Zero(t, updated.Failed)

	compared, err := RunSuite("testdata/scenarios", SuiteOptions{GoldenDir: golden})
	require.NoError(t, err)
	assert.Equal(t, compared.Total, compared.Passed)
	assert.Zero(t, compared.Updated)

	want, err := os.ReadFile("testdata/golden/duplicates_merged.golden")
	require.NoError(t, err)
	got, err := os.ReadFile(filepath.Join(golden, "duplicates_merged.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))
}

func TestRunSuite_DetectsDrift(t *testing.T) {
	golden := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(golden, "guardian_rerun_converges.golden"), []byte("{}\n"), 0644))

	scenarios := t.TempDir()
	data, err := os.ReadFile("testdata/scenarios/guardian_rerun_converges.yaml")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(scenarios, "s.yaml"), data, 0644))

	result, err := RunSuite(scenarios, SuiteOptions{GoldenDir: golden})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Contains(t, result.Failures[0].Error, "snapshot differs")
}

func TestRunSuite_CollectsFailures(t *testing.T) {
	dir := t.TempDir()
	good := `name: good
description: d
steps: [{webhook: {user_id: W1, title: Parent}}]
assertions: [{type: total_count, count: 1}]
`
	bad := `name: bad
description: d
steps: [{webhook: {user_id: W1, title: Parent}}]
assertions: [{type: total_count, count: 5}]
`
	broken := "name: broken\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1_good.yaml"), []byte(good), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2_bad.yaml"), []byte(bad), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "3_broken.yaml"), []byte(broken), 0644))

	result, err := RunSuite(dir, SuiteOptions{})
	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 2, result.Failed)
	require.Len(t, result.Failures, 2)
	assert.Equal(t, "bad", result.Failures[0].Name)
	assert.Contains(t, result.Failures[0].Error, "scenario assertions failed")
	assert.Empty(t, result.Failures[1].Name)
	assert.Contains(t, result.Failures[1].Error, "failed to load scenario")
}

func TestRunSuite_EmptyDir(t *testing.T) {
	_, err := RunSuite(t.TempDir(), SuiteOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scenarios found")
}
