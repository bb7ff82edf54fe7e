// Package sched enumerates hyperparameter scenarios and dispatches them
// to a pool of training workers.
package sched

import "sort"

// Scenario is one hyperparameter assignment, keyed by option name.
type Scenario map[string]any

// Combinations expands a grid of candidate values into the full Cartesian
// product. The output order is deterministic: keys are visited in sorted
// order and the last key varies fastest, so two runs over the same grid
// index scenarios identically.
func Combinations(grid map[string][]any) []Scenario {
	keys := make([]string, 0, len(grid))
	for k := range grid {
		if len(grid[k]) == 0 {
			return nil
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return nil
	}

	total := 1
	for _, k := range keys {
		total *= len(grid[k])
	}

	scenarios := make([]Scenario, 0, total)
	odometer := make([]int, len(keys))
	for {
		s := make(Scenario, len(keys))
		for i, k := range keys {
			s[k] = grid[k][odometer[i]]
		}
		scenarios = append(scenarios, s)

		i := len(keys) - 1
		for i >= 0 {
			odometer[i]++
			if odometer[i] < len(grid[keys[i]]) {
				break
			}
			odometer[i] = 0
			i--
		}
		if i < 0 {
			return scenarios
		}
	}
}
