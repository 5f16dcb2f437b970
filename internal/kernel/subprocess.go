package kernel

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/stealth-stack/stealthrun/internal/errors"
	"github.com/stealth-stack/stealthrun/internal/notebook"
	"github.com/stealth-stack/stealthrun/internal/runner"
)

// Subprocess executes code cells by piping their source to an interpreter
// on stdin. Each cell runs in a fresh process; no interpreter state is
// shared between cells.
type Subprocess struct {
	// Interpreter is the command that reads a script from stdin.
	// Defaults to "python3".
	Interpreter string

	// Workdir is the working directory for the interpreter. Empty means
	// inherit the caller's.
	Workdir string

	// ShutdownGrace is how long a cancelled process gets between SIGTERM
	// and SIGKILL. Defaults to 3s.
	ShutdownGrace time.Duration

	Logger *slog.Logger
}

// NewSubprocess creates a subprocess backend with default settings.
func NewSubprocess(interpreter string, grace time.Duration, logger *slog.Logger) *Subprocess {
	return &Subprocess{
		Interpreter:   interpreter,
		ShutdownGrace: grace,
		Logger:        logger,
	}
}

// ExecuteCell runs the cell addressed by rng. Non-code cells succeed
// without spawning anything. The method satisfies runner.ExecuteFunc.
//
// Cancellation is handled manually rather than via CommandContext so the
// process group gets a graceful SIGTERM before SIGKILL.
func (k *Subprocess) ExecuteCell(ctx context.Context, doc *notebook.Document, rng runner.Range) error {
	cell, ok := doc.Cell(rng.Start)
	if !ok {
		return errors.KernelExecFailed(rng.Start, fmt.Errorf("no cell at index"))
	}
	if !cell.IsCode() {
		if k.Logger != nil {
			k.Logger.Debug("skipping non-code cell", "cell", rng.Start, "type", cell.Type)
		}
		return nil
	}

	interpreter := k.Interpreter
	if interpreter == "" {
		interpreter = "python3"
	}

	cmd := exec.Command(interpreter)
	cmd.Stdin = strings.NewReader(cell.SourceText())
	if k.Workdir != "" {
		cmd.Dir = k.Workdir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Own process group so the whole tree can be signalled
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}

	if err := cmd.Start(); err != nil {
		return errors.KernelStartFailed("subprocess", err).WithDetail("interpreter", interpreter)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	grace := k.ShutdownGrace
	if grace <= 0 {
		grace = 3 * time.Second
	}

	select {
	case <-ctx.Done():
		if cmd.Process != nil {
			_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
			select {
			case <-done:
			case <-time.After(grace):
				_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
				<-done
			}
		}
		return ctx.Err()

	case err := <-done:
		if err != nil {
			exitCode := -1
			if exitErr, ok := err.(*exec.ExitError); ok {
				exitCode = exitErr.ExitCode()
			}
			return errors.KernelExecFailed(rng.Start, err).
				WithDetail("exit_code", exitCode).
				WithDetail("stderr", tail(stderr.String(), 2048))
		}
	}

	if k.Logger != nil && stdout.Len() > 0 {
		k.Logger.Debug("cell output", "cell", rng.Start, "stdout", tail(stdout.String(), 2048))
	}
	return nil
}

// tail returns at most the last n bytes of s.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
