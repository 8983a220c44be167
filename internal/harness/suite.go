package harness

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
)

// SuiteResult summarizes a directory of scenarios.
type SuiteResult struct {
	TotalScenarios int               `json:"total_scenarios"`
	Passed         int               `json:"passed"`
	Failed         int               `json:"failed"`
	Failures       []ScenarioFailure `json:"failures,omitempty"`
}

// ScenarioFailure describes one scenario that did not pass.
type ScenarioFailure struct {
	Scenario string   `json:"scenario"`
	Path     string   `json:"path"`
	Errors   []string `json:"errors"`
}

// RunDir loads every *.yaml scenario under dir in name order and runs it.
// A scenario that fails to load or execute counts as failed; RunDir only
// returns an error when dir cannot be listed.
func RunDir(ctx context.Context, dir string) (*SuiteResult, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	sort.Strings(paths)

	result := &SuiteResult{}
	for _, path := range paths {
		result.TotalScenarios++
		name, errs := runFile(ctx, path)
		if len(errs) == 0 {
			result.Passed++
			continue
		}
		result.Failed++
		result.Failures = append(result.Failures, ScenarioFailure{Scenario: name, Path: path, Errors: errs})
	}
	return result, nil
}

func runFile(ctx context.Context, path string) (string, []string) {
	scenario, err := LoadScenario(path)
	if err != nil {
		return filepath.Base(path), []string{err.Error()}
	}
	res, err := Run(ctx, scenario)
	if err != nil {
		return scenario.Name, []string{err.Error()}
	}
	return scenario.Name, res.Errors
}
