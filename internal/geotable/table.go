// Package geotable holds the in-memory geo-table model shared by the loaders,
// the radius engine and the aggregators: rows of attributes plus one geometry,
// a table-level CRS and a read-only spatial index.
package geotable

import (
	"sort"

	"github.com/twpayne/go-geom"
)

// Row is one feature: scalar attributes plus exactly one geometry.
type Row struct {
	Attrs map[string]any
	Geom  geom.T
}

// Table is an ordered sequence of rows tagged with a CRS. Tables held by the
// application context are never mutated after load.
type Table struct {
	CRS     CRS
	Columns []string
	Rows    []Row

	index *Index
}

// New returns an empty table with the given CRS and attribute columns. The
// empty table carries an empty spatial index.
func New(crs CRS, columns []string) *Table {
	cols := make([]string, len(columns))
	copy(cols, columns)
	return &Table{
		CRS:     crs,
		Columns: cols,
		index:   buildIndex(nil),
	}
}

// Empty returns an empty WGS84 table with no columns.
func Empty() *Table {
	return New(WGS84, nil)
}

// Append adds a row. Attributes not named in Columns are appended to Columns
// in sorted order. Appending invalidates the spatial index until BuildIndex
// is called again.
func (t *Table) Append(attrs map[string]any, g geom.T) {
	if attrs == nil {
		attrs = map[string]any{}
	}
	var added []string
	for k := range attrs {
		if !t.HasColumn(k) {
			added = append(added, k)
		}
	}
	sort.Strings(added)
	t.Columns = append(t.Columns, added...)
	t.Rows = append(t.Rows, Row{Attrs: attrs, Geom: g})
	t.index = nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// HasColumn reports whether name is one of the table's attribute columns.
func (t *Table) HasColumn(name string) bool {
	for _, c := range t.Columns {
		if c == name {
			return true
		}
	}
	return false
}

// BuildIndex (re)builds the spatial index over the current rows.
func (t *Table) BuildIndex() {
	geoms := make([]geom.T, len(t.Rows))
	for i, r := range t.Rows {
		geoms[i] = r.Geom
	}
	t.index = buildIndex(geoms)
}

// Index returns the table's spatial index, or nil if none has been built
// since the last mutation.
func (t *Table) Index() *Index {
	return t.index
}

// Derive returns a new table with the same CRS and columns holding rows.
// Row attribute maps are shared with the source, so neither table may be
// mutated afterwards.
func (t *Table) Derive(rows []Row) *Table {
	out := New(t.CRS, t.Columns)
	out.Rows = rows
	if len(rows) > 0 {
		out.index = nil
	}
	return out
}

// Select returns the rows at the given indexes as a derived table.
func (t *Table) Select(idx []int) *Table {
	rows := make([]Row, 0, len(idx))
	for _, i := range idx {
		rows = append(rows, t.Rows[i])
	}
	return t.Derive(rows)
}

// Rename renames an attribute column in place. It is a no-op when from is
// absent or equal to to. Intended for use during load only.
func (t *Table) Rename(from, to string) {
	if from == to || !t.HasColumn(from) {
		return
	}
	cols := t.Columns[:0]
	seen := false
	for _, c := range t.Columns {
		switch c {
		case from:
			if !seen {
				cols = append(cols, to)
				seen = true
			}
		case to:
			if !seen {
				cols = append(cols, to)
				seen = true
			}
		default:
			cols = append(cols, c)
		}
	}
	t.Columns = cols
	for _, r := range t.Rows {
		if v, ok := r.Attrs[from]; ok {
			r.Attrs[to] = v
			delete(r.Attrs, from)
		}
	}
}
