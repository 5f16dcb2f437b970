// Package runner executes selected notebook cells strictly one at a time.
//
// The runner owns ordering and degradation: indices are bounds-checked
// against the live document immediately before use, the focus capability is
// best-effort, and cell i+1's execute step never starts until cell i's has
// settled. A failed execute step aborts the remaining sequence; the Report
// records how far the run got. Each call to Run starts from scratch — no
// state survives between invocations.
package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/stealth-stack/stealthrun/internal/notebook"
)

// DefaultLimit is the number of selected cells run per invocation when no
// limit is configured.
const DefaultLimit = 2

// Range identifies exactly one cell as the half-open interval
// [Start, End) handed to the focus and execute capabilities.
type Range struct {
	Start int
	End   int
}

// CellRange returns the range addressing the single cell at index.
func CellRange(index int) Range {
	return Range{Start: index, End: index + 1}
}

// FocusFunc visually focuses a cell before it runs. Best effort: the
// runner logs and discards any error it returns.
type FocusFunc func(ctx context.Context, doc *notebook.Document, rng Range) error

// ExecuteFunc runs a cell's content. Authoritative: an error aborts the
// remaining sequence.
type ExecuteFunc func(ctx context.Context, doc *notebook.Document, rng Range) error

// Runner drives the sequential execution of selected cell indices.
type Runner struct {
	Focus   FocusFunc
	Execute ExecuteFunc

	// Limit caps how many selected indices run per invocation.
	// Values <= 0 fall back to DefaultLimit.
	Limit int

	Logger *slog.Logger
}

// New creates a Runner with the given capabilities and limit.
func New(focus FocusFunc, execute ExecuteFunc, limit int, logger *slog.Logger) *Runner {
	return &Runner{Focus: focus, Execute: execute, Limit: limit, Logger: logger}
}

// Report describes what a single invocation did with the selection it was
// handed. The caller owns surfacing the "truncated to first N" advisory.
type Report struct {
	// Available is the number of indices in the selection.
	Available int
	// Consumed is the number of indices actually taken (min of limit and
	// Available), including entries later skipped as out of range.
	Consumed int
	// Executed is the number of execute steps that settled successfully.
	Executed int
	// Skipped lists consumed indices dropped because they did not address
	// a cell in the document at execution time.
	Skipped []int
}

// Truncated reports whether the selection was longer than the limit.
func (r *Report) Truncated() bool {
	return r.Available > r.Consumed
}

// Run executes the first Limit entries of indices in order against doc.
//
// Each entry is validated against the document's current cell count right
// before use; out-of-range entries are skipped one at a time, silently.
// Focus failures are discarded. An execute failure stops the run and is
// returned alongside the report of progress so far.
func (r *Runner) Run(ctx context.Context, doc *notebook.Document, indices []int) (*Report, error) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	limit := r.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}

	report := &Report{Available: len(indices)}

	selected := indices
	if len(selected) > limit {
		selected = selected[:limit]
	}
	report.Consumed = len(selected)

	for _, index := range selected {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		if index < 0 || index >= doc.CellCount() {
			logger.Debug("skipping out-of-range cell index",
				"index", index, "cells", doc.CellCount())
			report.Skipped = append(report.Skipped, index)
			continue
		}

		rng := CellRange(index)

		if r.Focus != nil {
			if err := r.Focus(ctx, doc, rng); err != nil {
				// Focus is an optional affordance; carry on as if
				// it succeeded.
				logger.Debug("focus unavailable", "index", index, "error", err)
			}
		}

		logger.Info("executing cell", "index", index)
		if err := r.Execute(ctx, doc, rng); err != nil {
			return report, fmt.Errorf("executing cell %d: %w", index, err)
		}
		report.Executed++
	}

	return report, nil
}
