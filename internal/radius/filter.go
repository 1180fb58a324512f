package radius

import (
	"fmt"
	"strings"

	"github.com/sells-group/vicmaps/internal/geotable"
	"github.com/sells-group/vicmaps/internal/tabular"
)

// SearchColumns is the preference order of columns that make up a row's
// search text.
var SearchColumns = []string{
	"Facility Name", "Name", "Facility", "Site Name", "Address", "Suburb", "LGA Name", "ID",
}

// Filter keeps rows whose search text contains q, ignoring case. The search
// text joins whichever SearchColumns t has. A blank q returns t unchanged.
func Filter(t *geotable.Table, q string) *geotable.Table {
	needle := tabular.Fold(q)
	if needle == "" || t.Len() == 0 {
		return t
	}

	var cols []string
	for _, c := range SearchColumns {
		if t.HasColumn(c) {
			cols = append(cols, c)
		}
	}

	var keep []int
	var sb strings.Builder
	for i, r := range t.Rows {
		sb.Reset()
		for _, c := range cols {
			if v := r.Attrs[c]; v != nil {
				sb.WriteString(fmt.Sprint(v))
			}
			sb.WriteByte(' ')
		}
		if strings.Contains(tabular.Fold(sb.String()), needle) {
			keep = append(keep, i)
		}
	}
	return t.Select(keep)
}
