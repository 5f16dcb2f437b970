// Package selector decides which cell indices to run.
//
// Selection takes one of two paths. An externally configured override list
// is sanitized entry by entry and returned in its given order. Without an
// override, every cell's metadata is scanned for a run order and the
// resolvable cells are returned sorted by that order.
package selector

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/stealth-stack/stealthrun/internal/notebook"
	"github.com/stealth-stack/stealthrun/internal/resolver"
)

// Provider supplies the externally configured override list. Entries are
// integer-like values (strings or numbers). A nil or empty result means
// "no override, scan metadata".
type Provider interface {
	TargetCells() []any
}

// Select produces the ordered cell indices to run.
//
// With a non-empty override, entries that parse as integers >= 0 survive in
// their original relative order; everything else is dropped silently. The
// result is returned verbatim: no sort, no de-duplication, and no bounds
// check against the document (the executor validates indices at use time).
//
// Without an override, cells with a resolvable order are sorted ascending
// by order, ties broken by document index. An empty result is a legitimate
// "nothing to run" outcome, not an error.
func Select(doc *notebook.Document, override []any) []int {
	if len(override) > 0 {
		return sanitize(override)
	}
	return scan(doc)
}

// target pairs a cell index with its resolved order for sorting.
type target struct {
	index int
	order int
}

func scan(doc *notebook.Document) []int {
	if doc == nil {
		return nil
	}

	var targets []target
	for i, cell := range doc.Cells() {
		if order, ok := resolver.Order(&cell); ok {
			targets = append(targets, target{index: i, order: order})
		}
	}

	sort.SliceStable(targets, func(a, b int) bool {
		return targets[a].order < targets[b].order
	})

	indices := make([]int, 0, len(targets))
	for _, t := range targets {
		indices = append(indices, t.index)
	}
	return indices
}

func sanitize(override []any) []int {
	indices := make([]int, 0, len(override))
	for _, entry := range override {
		n, ok := CoerceIndex(entry)
		if !ok || n < 0 {
			continue
		}
		indices = append(indices, n)
	}
	return indices
}

// CoerceIndex parses an integer-like override entry. Strings must be
// integral after trimming; non-integral numbers truncate toward zero.
// Anything else fails the parse and is dropped by the caller.
func CoerceIndex(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if math.IsInf(n, 0) || math.IsNaN(n) {
			return 0, false
		}
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0, false
		}
		return int(i), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}
