// Package resolver extracts a cell's run order from its metadata.
//
// Two conventions are recognized. A numeric stealthRunOrder metadata field
// is taken verbatim. Failing that, string tags of the form
// "stealth-run:<digits>" (case-insensitive, whitespace-trimmed) yield the
// digits as the order. Cells carrying neither convention have no order and
// are excluded from metadata-driven selection.
package resolver

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/stealth-stack/stealthrun/internal/notebook"
)

// OrderField is the metadata key holding a direct numeric run order.
// It wins over tags when both are present.
const OrderField = "stealthRunOrder"

// TagsField is the metadata key holding the cell's tag list.
const TagsField = "tags"

var tagPattern = regexp.MustCompile(`^(?i)stealth-run:([0-9]+)$`)

// Order resolves the run order of a cell. The second return value is false
// when the cell carries no resolvable order. Malformed metadata of any
// shape degrades to "no order"; this function never panics.
func Order(cell *notebook.Cell) (int, bool) {
	if cell == nil || cell.Metadata == nil {
		return 0, false
	}

	if raw, ok := cell.Metadata[OrderField]; ok {
		if n, ok := asInt(raw); ok {
			return n, true
		}
	}

	return orderFromTags(cell.Metadata[TagsField])
}

// Source reports which convention produced the cell's order: "field",
// "tag", or "none" when the cell has no resolvable order.
func Source(cell *notebook.Cell) string {
	if cell == nil || cell.Metadata == nil {
		return "none"
	}
	if raw, ok := cell.Metadata[OrderField]; ok {
		if _, ok := asInt(raw); ok {
			return "field"
		}
	}
	if _, ok := orderFromTags(cell.Metadata[TagsField]); ok {
		return "tag"
	}
	return "none"
}

// orderFromTags scans a tag list for the first stealth-run:<digits> tag.
// Non-sequence values are treated as an empty tag list.
func orderFromTags(raw any) (int, bool) {
	for _, tag := range asStrings(raw) {
		m := tagPattern.FindStringSubmatch(strings.TrimSpace(tag))
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			// Digit run too long for int. A parse failure never
			// coerces into a valid order.
			continue
		}
		return n, true
	}
	return 0, false
}

// asInt coerces the numeric types a decoded metadata bag can hold.
// Non-integral floats truncate toward zero.
func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), true
		}
		if f, err := n.Float64(); err == nil {
			return int(f), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// asStrings extracts the string entries of a decoded tag list, preserving
// order. Non-string entries are skipped; non-slice values yield nil.
func asStrings(v any) []string {
	switch tags := v.(type) {
	case []string:
		return tags
	case []any:
		out := make([]string, 0, len(tags))
		for _, t := range tags {
			if s, ok := t.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
