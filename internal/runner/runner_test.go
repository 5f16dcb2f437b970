package runner

import (
	"context"
	"errors"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stealth-stack/stealthrun/internal/logging"
	"github.com/stealth-stack/stealthrun/internal/notebook"
)

// fakeCapabilities records every focus and execute call in order, so tests
// can assert on sequencing and arguments.
type fakeCapabilities struct {
	focusCalls   []Range
	executeCalls []Range

	focusErr   error
	executeErr map[int]error // by Start index

	// inFlight guards against overlapping execute calls.
	inFlight atomic.Int32
	overlap  atomic.Bool

	executeDelay time.Duration
}

func (f *fakeCapabilities) focus(ctx context.Context, doc *notebook.Document, rng Range) error {
	f.focusCalls = append(f.focusCalls, rng)
	return f.focusErr
}

func (f *fakeCapabilities) execute(ctx context.Context, doc *notebook.Document, rng Range) error {
	if f.inFlight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inFlight.Add(-1)

	if f.executeDelay > 0 {
		time.Sleep(f.executeDelay)
	}

	f.executeCalls = append(f.executeCalls, rng)
	if err, ok := f.executeErr[rng.Start]; ok {
		return err
	}
	return nil
}

func docWithCells(n int) *notebook.Document {
	cells := make([]notebook.Cell, n)
	for i := range cells {
		cells[i] = notebook.Cell{Type: notebook.CellTypeCode}
	}
	return notebook.NewDocument("test.ipynb", cells)
}

func newTestRunner(f *fakeCapabilities, limit int) *Runner {
	return New(f.focus, f.execute, limit, logging.NewForTest())
}

func starts(calls []Range) []int {
	out := make([]int, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.Start)
	}
	return out
}

func TestRunLimit(t *testing.T) {
	t.Run("selection capped to limit in order", func(t *testing.T) {
		f := &fakeCapabilities{}
		r := newTestRunner(f, 2)

		report, err := r.Run(context.Background(), docWithCells(6), []int{3, 1, 5, 0, 2})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if got := starts(f.executeCalls); !reflect.DeepEqual(got, []int{3, 1}) {
			t.Errorf("execute calls = %v, want [3 1]", got)
		}
		if report.Available != 5 || report.Consumed != 2 {
			t.Errorf("report = %d available / %d consumed, want 5/2", report.Available, report.Consumed)
		}
		if !report.Truncated() {
			t.Error("Truncated() = false, want true")
		}
	})

	t.Run("default limit applies when unset", func(t *testing.T) {
		f := &fakeCapabilities{}
		r := newTestRunner(f, 0)

		report, err := r.Run(context.Background(), docWithCells(6), []int{0, 1, 2})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if report.Consumed != DefaultLimit {
			t.Errorf("Consumed = %d, want %d", report.Consumed, DefaultLimit)
		}
	})

	t.Run("selection shorter than limit is not truncated", func(t *testing.T) {
		f := &fakeCapabilities{}
		r := newTestRunner(f, 5)

		report, err := r.Run(context.Background(), docWithCells(3), []int{1})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if report.Truncated() {
			t.Error("Truncated() = true, want false")
		}
		if report.Executed != 1 {
			t.Errorf("Executed = %d, want 1", report.Executed)
		}
	})
}

func TestRunBoundsCheck(t *testing.T) {
	t.Run("out-of-range index skipped, run continues", func(t *testing.T) {
		f := &fakeCapabilities{}
		r := newTestRunner(f, 3)

		report, err := r.Run(context.Background(), docWithCells(4), []int{4, 2, -1})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		if got := starts(f.executeCalls); !reflect.DeepEqual(got, []int{2}) {
			t.Errorf("execute calls = %v, want [2]", got)
		}
		if !reflect.DeepEqual(report.Skipped, []int{4, -1}) {
			t.Errorf("Skipped = %v, want [4 -1]", report.Skipped)
		}
		if report.Executed != 1 {
			t.Errorf("Executed = %d, want 1", report.Executed)
		}
	})

	t.Run("skipped entry triggers no capability calls", func(t *testing.T) {
		f := &fakeCapabilities{}
		r := newTestRunner(f, 2)

		if _, err := r.Run(context.Background(), docWithCells(2), []int{7, 9}); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if len(f.focusCalls) != 0 || len(f.executeCalls) != 0 {
			t.Errorf("capability calls made for out-of-range entries: focus=%v execute=%v",
				f.focusCalls, f.executeCalls)
		}
	})
}

func TestRunFocus(t *testing.T) {
	t.Run("focus precedes execute with the same range", func(t *testing.T) {
		f := &fakeCapabilities{}
		r := newTestRunner(f, 2)

		if _, err := r.Run(context.Background(), docWithCells(4), []int{2}); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		want := []Range{{Start: 2, End: 3}}
		if !reflect.DeepEqual(f.focusCalls, want) {
			t.Errorf("focus calls = %v, want %v", f.focusCalls, want)
		}
		if !reflect.DeepEqual(f.executeCalls, want) {
			t.Errorf("execute calls = %v, want %v", f.executeCalls, want)
		}
	})

	t.Run("focus failure is discarded", func(t *testing.T) {
		f := &fakeCapabilities{focusErr: errors.New("no viewport")}
		r := newTestRunner(f, 2)

		report, err := r.Run(context.Background(), docWithCells(4), []int{0, 1})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if report.Executed != 2 {
			t.Errorf("Executed = %d, want 2", report.Executed)
		}
	})

	t.Run("nil focus capability tolerated", func(t *testing.T) {
		f := &fakeCapabilities{}
		r := &Runner{Execute: f.execute, Limit: 2, Logger: logging.NewForTest()}

		report, err := r.Run(context.Background(), docWithCells(2), []int{0})
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if report.Executed != 1 {
			t.Errorf("Executed = %d, want 1", report.Executed)
		}
	})
}

func TestRunExecuteFailure(t *testing.T) {
	t.Run("execute failure aborts the remaining sequence", func(t *testing.T) {
		cause := errors.New("kernel died")
		f := &fakeCapabilities{executeErr: map[int]error{1: cause}}
		r := newTestRunner(f, 3)

		report, err := r.Run(context.Background(), docWithCells(4), []int{0, 1, 2})
		if err == nil {
			t.Fatal("Run() error = nil, want execute failure")
		}
		if !errors.Is(err, cause) {
			t.Errorf("error chain missing cause: %v", err)
		}
		if got := starts(f.executeCalls); !reflect.DeepEqual(got, []int{0, 1}) {
			t.Errorf("execute calls = %v, want [0 1]", got)
		}
		if report.Executed != 1 {
			t.Errorf("Executed = %d, want 1", report.Executed)
		}
	})
}

func TestRunSequencing(t *testing.T) {
	t.Run("execute steps never overlap", func(t *testing.T) {
		f := &fakeCapabilities{executeDelay: 5 * time.Millisecond}
		r := newTestRunner(f, 4)

		if _, err := r.Run(context.Background(), docWithCells(4), []int{0, 1, 2, 3}); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
		if f.overlap.Load() {
			t.Error("observed overlapping execute calls")
		}
		if got := starts(f.executeCalls); !reflect.DeepEqual(got, []int{0, 1, 2, 3}) {
			t.Errorf("execute order = %v, want [0 1 2 3]", got)
		}
	})

	t.Run("cancelled context stops before the next cell", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		f := &fakeCapabilities{}
		r := &Runner{
			Focus: f.focus,
			Execute: func(ctx context.Context, doc *notebook.Document, rng Range) error {
				cancel() // cancel mid-sequence, after the first execute
				return f.execute(ctx, doc, rng)
			},
			Limit:  3,
			Logger: logging.NewForTest(),
		}

		report, err := r.Run(ctx, docWithCells(4), []int{0, 1, 2})
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() error = %v, want context.Canceled", err)
		}
		if len(f.executeCalls) != 1 {
			t.Errorf("execute calls = %d, want 1", len(f.executeCalls))
		}
		if report.Executed != 1 {
			t.Errorf("Executed = %d, want 1", report.Executed)
		}
	})
}

func TestRunEmptySelection(t *testing.T) {
	f := &fakeCapabilities{}
	r := newTestRunner(f, 2)

	report, err := r.Run(context.Background(), docWithCells(3), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if report.Available != 0 || report.Consumed != 0 || report.Executed != 0 {
		t.Errorf("report = %+v, want all zero", report)
	}
	if report.Truncated() {
		t.Error("Truncated() = true, want false")
	}
}

func TestRunFreshPerInvocation(t *testing.T) {
	// Two invocations of the same runner must not share state.
	f := &fakeCapabilities{}
	r := newTestRunner(f, 2)
	doc := docWithCells(4)

	for i := 0; i < 2; i++ {
		report, err := r.Run(context.Background(), doc, []int{0, 1, 2})
		if err != nil {
			t.Fatalf("Run() #%d error = %v", i, err)
		}
		if report.Available != 3 || report.Consumed != 2 || report.Executed != 2 {
			t.Errorf("Run() #%d report = %+v", i, report)
		}
	}
	if got := starts(f.executeCalls); !reflect.DeepEqual(got, []int{0, 1, 0, 1}) {
		t.Errorf("execute calls = %v, want [0 1 0 1]", got)
	}
}
