package kernel

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stealth-stack/stealthrun/internal/errors"
	"github.com/stealth-stack/stealthrun/internal/logging"
	"github.com/stealth-stack/stealthrun/internal/notebook"
	"github.com/stealth-stack/stealthrun/internal/runner"
)

// shKernel returns a subprocess backend driven by /bin/sh, which reads a
// script from stdin the same way python3 does.
func shKernel() *Subprocess {
	return NewSubprocess("/bin/sh", time.Second, logging.NewForTest())
}

func codeDoc(sources ...string) *notebook.Document {
	cells := make([]notebook.Cell, len(sources))
	for i, src := range sources {
		cells[i] = notebook.Cell{Type: notebook.CellTypeCode, Source: []string{src}}
	}
	return notebook.NewDocument("test.ipynb", cells)
}

func TestSubprocessExecuteCell(t *testing.T) {
	t.Run("successful cell", func(t *testing.T) {
		k := shKernel()
		doc := codeDoc("exit 0")

		if err := k.ExecuteCell(context.Background(), doc, runner.CellRange(0)); err != nil {
			t.Fatalf("ExecuteCell() error = %v", err)
		}
	})

	t.Run("cell side effects run", func(t *testing.T) {
		dir := t.TempDir()
		marker := filepath.Join(dir, "ran")
		k := shKernel()
		doc := codeDoc(": > " + marker)

		if err := k.ExecuteCell(context.Background(), doc, runner.CellRange(0)); err != nil {
			t.Fatalf("ExecuteCell() error = %v", err)
		}
		if _, err := os.Stat(marker); err != nil {
			t.Errorf("marker file not created: %v", err)
		}
	})

	t.Run("failing cell returns structured error", func(t *testing.T) {
		k := shKernel()
		doc := codeDoc("echo boom >&2; exit 3")

		err := k.ExecuteCell(context.Background(), doc, runner.CellRange(0))
		if err == nil {
			t.Fatal("ExecuteCell() error = nil, want failure")
		}
		if !errors.HasCode(err, errors.CodeKernelExecFailed) {
			t.Errorf("error code = %s, want %s", errors.Code(err), errors.CodeKernelExecFailed)
		}
	})

	t.Run("non-code cell skipped successfully", func(t *testing.T) {
		k := shKernel()
		cells := []notebook.Cell{{Type: notebook.CellTypeMarkdown, Source: []string{"# heading"}}}
		doc := notebook.NewDocument("test.ipynb", cells)

		if err := k.ExecuteCell(context.Background(), doc, runner.CellRange(0)); err != nil {
			t.Errorf("ExecuteCell() error = %v, want nil for markdown cell", err)
		}
	})

	t.Run("missing cell is an error", func(t *testing.T) {
		k := shKernel()
		doc := codeDoc("exit 0")

		if err := k.ExecuteCell(context.Background(), doc, runner.CellRange(5)); err == nil {
			t.Error("ExecuteCell() error = nil, want error for missing cell")
		}
	})

	t.Run("cancellation terminates the process", func(t *testing.T) {
		k := shKernel()
		doc := codeDoc("sleep 30")

		ctx, cancel := context.WithCancel(context.Background())
		go func() {
			time.Sleep(50 * time.Millisecond)
			cancel()
		}()

		start := time.Now()
		err := k.ExecuteCell(ctx, doc, runner.CellRange(0))
		if err != context.Canceled {
			t.Fatalf("ExecuteCell() error = %v, want context.Canceled", err)
		}
		if elapsed := time.Since(start); elapsed > 5*time.Second {
			t.Errorf("cancellation took %v, expected prompt termination", elapsed)
		}
	})

	t.Run("missing interpreter fails to start", func(t *testing.T) {
		k := NewSubprocess("/nonexistent/interpreter", time.Second, logging.NewForTest())
		doc := codeDoc("exit 0")

		err := k.ExecuteCell(context.Background(), doc, runner.CellRange(0))
		if !errors.HasCode(err, errors.CodeKernelStartFailed) {
			t.Errorf("error code = %s, want %s", errors.Code(err), errors.CodeKernelStartFailed)
		}
	})
}
