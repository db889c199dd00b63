package harness

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SuiteOptions control RunSuite.
type SuiteOptions struct {
	// GoldenDir, when set, compares each passing scenario's snapshot with
	// GoldenDir/<name>.golden.
	GoldenDir string

	// Update rewrites golden files instead of comparing them.
	Update bool
}

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	Total    int               `json:"total"`
	Passed   int               `json:"passed"`
	Failed   int               `json:"failed"`
	Updated  int               `json:"updated,omitempty"`
	Failures []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure represents a scenario that could not be loaded, did not
// run to completion, failed an assertion or drifted from its golden file.
type ScenarioFailure struct {
	Path  string `json:"path"`
	Name  string `json:"name,omitempty"`
	Error string `json:"error"`
}

// RunSuite runs every scenario in dir.
//
// For each *.yaml file:
//  1. Load and validate the scenario
//  2. Run it via harness.Run
//  3. Compare or rewrite its golden snapshot, if configured
//  4. Collect the outcome
func RunSuite(dir string, opts SuiteOptions) (*SuiteResult, error) {
	paths, err := ScenarioPaths(dir)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenarios found in %s", dir)
	}

	result := &SuiteResult{}
	for _, path := range paths {
		result.Total++

		scenario, err := LoadScenario(path)
		if err != nil {
			result.fail(path, "", fmt.Sprintf("failed to load scenario: %v", err))
			continue
		}

		runResult, err := Run(scenario)
		if err != nil {
			result.fail(path, scenario.Name, fmt.Sprintf("scenario execution failed: %v", err))
			continue
		}

		if !runResult.Pass {
			result.fail(path, scenario.Name, fmt.Sprintf("scenario assertions failed:\n%s", strings.Join(runResult.Errors, "\n")))
			continue
		}

		if opts.GoldenDir != "" {
			updated, err := checkGolden(opts, scenario.Name, runResult)
			if err != nil {
				result.fail(path, scenario.Name, err.Error())
				continue
			}
			if updated {
				result.Updated++
			}
		}

		result.Passed++
	}

	return result, nil
}

// checkGolden compares a result's snapshot with its golden file, or writes
// the file when opts.Update is set. It reports whether a file was written.
func checkGolden(opts SuiteOptions, name string, result *Result) (bool, error) {
	data, err := NewSnapshot(name, result).Marshal()
	if err != nil {
		return false, fmt.Errorf("marshal snapshot: %w", err)
	}
	path := filepath.Join(opts.GoldenDir, name+".golden")

	if opts.Update {
		if err := os.MkdirAll(opts.GoldenDir, 0755); err != nil {
			return false, fmt.Errorf("create golden dir: %w", err)
		}
		if err := os.WriteFile(path, data, 0644); err != nil {
			return false, fmt.Errorf("write golden file: %w", err)
		}
		return true, nil
	}

	want, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("golden file %s not found (run with --update to create it)", path)
	}
	if err != nil {
		return false, fmt.Errorf("read golden file: %w", err)
	}
	if !bytes.Equal(want, data) {
		return false, fmt.Errorf("snapshot differs from %s", path)
	}
	return false, nil
}

func (r *SuiteResult) fail(path, name, msg string) {
	r.Failed++
	r.Failures = append(r.Failures, ScenarioFailure{Path: path, Name: name, Error: msg})
}
