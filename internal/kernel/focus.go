// Package kernel provides the execute and focus capabilities the runner is
// wired with: a subprocess backend that pipes cell source to an interpreter
// and a gateway backend that talks to a remote Jupyter kernel.
package kernel

import (
	"context"
	"errors"
	"log/slog"

	"github.com/stealth-stack/stealthrun/internal/notebook"
	"github.com/stealth-stack/stealthrun/internal/runner"
)

// ErrFocusUnavailable signals that the backend has no way to visually
// focus a cell. The runner discards it by contract.
var ErrFocusUnavailable = errors.New("focus not supported by this backend")

// LogFocus returns a focus capability that announces the cell about to run.
// The CLI has no editor viewport, so focusing degrades to a log line the
// observer can follow.
func LogFocus(logger *slog.Logger) runner.FocusFunc {
	return func(ctx context.Context, doc *notebook.Document, rng runner.Range) error {
		attrs := []any{"notebook", doc.Path, "cell", rng.Start}
		if cell, ok := doc.Cell(rng.Start); ok {
			attrs = append(attrs, "preview", cell.FirstLine())
		}
		logger.Info("focusing cell", attrs...)
		return nil
	}
}

// NoFocus is a focus capability for backends without a focus affordance.
func NoFocus(ctx context.Context, doc *notebook.Document, rng runner.Range) error {
	return ErrFocusUnavailable
}
