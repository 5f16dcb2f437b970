// Package notebook provides a read-only model of a Jupyter notebook document.
//
// A Document is a snapshot of the .ipynb file at load time: cells are
// addressed by zero-based index and never mutated. Callers that need the
// current state of a notebook load it again.
package notebook

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/stealth-stack/stealthrun/internal/errors"
)

// Cell types as stored in nbformat.
const (
	CellTypeCode     = "code"
	CellTypeMarkdown = "markdown"
	CellTypeRaw      = "raw"
)

// minNBFormat is the oldest nbformat major version we accept. Older
// notebooks store cells under per-worksheet arrays and are not supported.
const minNBFormat = 4

// Cell is a single addressable unit of a notebook document.
type Cell struct {
	Type     string         `json:"cell_type"`
	Source   sourceLines    `json:"source"`
	Metadata map[string]any `json:"metadata"`
}

// IsCode reports whether the cell holds executable code.
func (c *Cell) IsCode() bool {
	return c.Type == CellTypeCode
}

// SourceText returns the cell source as a single string.
func (c *Cell) SourceText() string {
	return strings.Join(c.Source, "")
}

// FirstLine returns the first source line, trimmed, for display purposes.
func (c *Cell) FirstLine() string {
	text := c.SourceText()
	if i := strings.IndexByte(text, '\n'); i >= 0 {
		text = text[:i]
	}
	return strings.TrimSpace(text)
}

// sourceLines accepts both nbformat encodings of cell source:
// a single string or an array of line strings.
type sourceLines []string

func (s *sourceLines) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*s = sourceLines{single}
		return nil
	}
	var lines []string
	if err := json.Unmarshal(data, &lines); err != nil {
		return err
	}
	*s = sourceLines(lines)
	return nil
}

// Document is an ordered, fixed-length sequence of cells read from disk.
type Document struct {
	// Path is the file the document was loaded from (empty for Parse).
	Path string

	cells []Cell
}

// rawNotebook mirrors the subset of nbformat v4 JSON we care about.
type rawNotebook struct {
	Cells    []Cell `json:"cells"`
	NBFormat int    `json:"nbformat"`
}

// Load reads and parses a notebook file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.DocumentNotFound(path, err)
	}
	return Parse(data, path)
}

// Parse decodes nbformat v4 JSON. The path is recorded for error messages
// and display only.
func Parse(data []byte, path string) (*Document, error) {
	var raw rawNotebook
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.DocumentParseError(path, err)
	}
	if raw.NBFormat < minNBFormat {
		return nil, errors.DocumentUnsupportedFormat(path, raw.NBFormat)
	}
	return &Document{Path: path, cells: raw.Cells}, nil
}

// NewDocument builds a document from in-memory cells. Used by tests and
// fake capabilities.
func NewDocument(path string, cells []Cell) *Document {
	return &Document{Path: path, cells: cells}
}

// CellCount returns the number of cells in the document.
func (d *Document) CellCount() int {
	return len(d.cells)
}

// Cell returns the cell at index i, or false if i is out of range.
func (d *Document) Cell(i int) (*Cell, bool) {
	if i < 0 || i >= len(d.cells) {
		return nil, false
	}
	return &d.cells[i], true
}

// Cells returns all cells in document order.
func (d *Document) Cells() []Cell {
	return d.cells
}
