// Package tabular reads header-first spreadsheet and delimited-text sources
// into an in-memory Frame of string cells.
package tabular

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Frame is a header row plus data rows. Rows may be ragged; missing cells
// read as empty strings.
type Frame struct {
	Columns []string
	Rows    [][]string
}

// Options selects what to read from a source.
type Options struct {
	Sheet    string // xlsx sheet name; empty means the first sheet
	SkipRows int    // rows above the header row
}

// ErrUnsupportedFormat is returned by ReadFile for extensions it cannot read.
var ErrUnsupportedFormat = eris.New("tabular: unsupported file format")

// ReadFile reads path by extension: .xlsx/.xlsm through the workbook reader,
// .csv/.txt through the delimited reader.
func ReadFile(path string, opts Options) (*Frame, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return ReadXLSX(path, opts)
	case ".csv", ".txt":
		return ReadCSVFile(path, opts)
	default:
		return nil, eris.Wrapf(ErrUnsupportedFormat, "tabular: %s", filepath.Base(path))
	}
}

// newFrame turns raw rows into a Frame, taking row opts.SkipRows as header.
func newFrame(raw [][]string, skip int) *Frame {
	if skip >= len(raw) {
		return &Frame{}
	}
	header := raw[skip]
	cols := make([]string, len(header))
	seen := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if h == "" {
			h = fmt.Sprintf("column_%d", i)
		}
		if n := seen[h]; n > 0 {
			seen[h] = n + 1
			h = fmt.Sprintf("%s.%d", h, n)
		} else {
			seen[h] = 1
		}
		cols[i] = h
	}

	var rows [][]string
	for _, r := range raw[skip+1:] {
		if blank(r) {
			continue
		}
		rows = append(rows, r)
	}
	return &Frame{Columns: cols, Rows: rows}
}

func blank(r []string) bool {
	for _, c := range r {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// Len returns the number of data rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// Col returns the index of the column named exactly name, or -1.
func (f *Frame) Col(name string) int {
	for i, c := range f.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Find returns the first column matching any alias, compared case- and
// width-insensitively. Aliases are tried in order.
func (f *Frame) Find(aliases ...string) (string, bool) {
	folded := make([]string, len(f.Columns))
	for i, c := range f.Columns {
		folded[i] = Fold(c)
	}
	for _, a := range aliases {
		fa := Fold(a)
		for i, fc := range folded {
			if fc == fa {
				return f.Columns[i], true
			}
		}
	}
	return "", false
}

// Value returns the trimmed cell at row i, column col. Out of range reads as "".
func (f *Frame) Value(i, col int) string {
	if col < 0 || i < 0 || i >= len(f.Rows) || col >= len(f.Rows[i]) {
		return ""
	}
	return strings.TrimSpace(f.Rows[i][col])
}

// Get is Value by column name.
func (f *Frame) Get(i int, name string) string {
	return f.Value(i, f.Col(name))
}

// Record returns row i as attributes with cell types inferred.
func (f *Frame) Record(i int) map[string]any {
	rec := make(map[string]any, len(f.Columns))
	for c, name := range f.Columns {
		rec[name] = Infer(f.Value(i, c))
	}
	return rec
}

// Infer converts a cell to int64 or float64 when it parses as one, nil when
// blank, and leaves it a string otherwise.
func Infer(s string) any {
	if s == "" {
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return v
	}
	return s
}

// ParseNumber parses s as a float after dropping thousands separators and
// surrounding whitespace.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", ""))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Fold normalises a header or name for case-insensitive comparison.
func Fold(s string) string {
	return cases.Fold().String(norm.NFKC.String(strings.TrimSpace(s)))
}
