// Package aggregate builds the choropleth, bubble and chart feeds: permits
// joined to postcode boundaries, crime joined to LGA reference data, and
// schools alongside per-postcode permit activity.
package aggregate

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vicmaps/internal/geotable"
	"github.com/sells-group/vicmaps/internal/loader"
	"github.com/sells-group/vicmaps/internal/tabular"
)

// Permit workbook columns.
const (
	PostcodeColumn = "site_postcode__c"
	CostColumn     = "Reported_Cost_of_works"
	UseColumn      = "BASIS_Building_Use"
	NatureColumn   = "BASIS_NOW"
	SectorColumn   = "BASIS_Ownership_Sector"
)

// Category is a building-use value and the count column it feeds.
type Category struct {
	Use    string
	Column string
}

// Categories are the building uses counted per postcode, in display order.
var Categories = []Category{
	{Use: "Domestic", Column: "domestic_count"},
	{Use: "Public Buildings", Column: "public_count"},
	{Use: "Industrial", Column: "industrial_count"},
	{Use: "Commercial", Column: "commercial_count"},
	{Use: "Retail", Column: "retail_count"},
	{Use: "Residential", Column: "residential_count"},
	{Use: "Hospital/Healthcare", Column: "healthcare_count"},
}

// AllCategories selects the total permit count.
const AllCategories = "All"

// ColorColumn returns the choropleth column for a category name.
func ColorColumn(category string) (string, error) {
	if category == "" || category == AllCategories {
		return "permit_count", nil
	}
	for _, c := range Categories {
		if c.Use == category {
			return c.Column, nil
		}
	}
	return "", &geotable.ParameterError{Param: "category", Reason: fmt.Sprintf("unknown category %q", category)}
}

// maxNumericPostcode bounds numeric cells that still convert exactly to an
// integer key. Larger values, infinities and NaN fall through verbatim.
const maxNumericPostcode = 1e15

// NormalizePostcode turns a raw postcode cell into a four-character key. Blank
// and "NAN" give no key; numbers below 1e15 are zero-padded, as are short
// digit strings; anything else is returned as is.
func NormalizePostcode(raw string) (string, bool) {
	v := strings.TrimSpace(raw)
	if v == "" || strings.EqualFold(v, "NAN") {
		return "", false
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && math.Abs(f) < maxNumericPostcode {
		return fmt.Sprintf("%04d", int64(f)), true
	}
	if isDigits(v) && len(v) < 4 {
		return strings.Repeat("0", 4-len(v)) + v, true
	}
	return v, true
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// PermitStats is the per-postcode aggregate.
type PermitStats struct {
	Postcode  string
	Count     int
	TotalCost float64
	costs     int
	ByUse     map[string]int
}

// MeanCost is the mean of parsable costs, NaN when there were none.
func (s *PermitStats) MeanCost() float64 {
	if s.costs == 0 {
		return math.NaN()
	}
	return s.TotalCost / float64(s.costs)
}

// AggregatePermits groups permit rows by normalised postcode. Rows without a
// postcode are skipped. Costs have thousands separators removed; unparsable
// costs count towards permit_count only.
func AggregatePermits(source string, frame *tabular.Frame) (map[string]*PermitStats, error) {
	pcCol := frame.Col(PostcodeColumn)
	if pcCol < 0 {
		return nil, &geotable.SchemaError{Source: source, Missing: []string{PostcodeColumn}}
	}
	costCol, useCol := frame.Col(CostColumn), frame.Col(UseColumn)

	out := make(map[string]*PermitStats)
	var skipped int
	for i := range frame.Rows {
		key, ok := NormalizePostcode(frame.Value(i, pcCol))
		if !ok {
			skipped++
			continue
		}
		s := out[key]
		if s == nil {
			s = &PermitStats{Postcode: key, ByUse: make(map[string]int, len(Categories))}
			out[key] = s
		}
		s.Count++
		if cost, ok := tabular.ParseNumber(frame.Value(i, costCol)); ok {
			s.TotalCost += cost
			s.costs++
		}
		s.ByUse[frame.Value(i, useCol)]++
	}
	if skipped > 0 {
		zap.L().Debug("aggregate: permits without postcode", zap.Int("rows", skipped))
	}
	return out, nil
}

// PermitsByPostcode joins permit aggregates onto postcode boundary files in
// dir. Only files named <key>.json for a key present in the permits are
// opened. Every boundary is kept; postcodes with no permits get zeros.
func PermitsByPostcode(source string, frame *tabular.Frame, dir string) (*geotable.Table, error) {
	stats, err := AggregatePermits(source, frame)
	if err != nil {
		return nil, err
	}
	needed := make(map[string]bool, len(stats))
	for k := range stats {
		needed[k] = true
	}

	bounds, err := LoadBoundaries(dir, needed)
	if err != nil {
		return nil, err
	}

	cols := append([]string{}, bounds.Columns...)
	cols = append(cols, "permit_count", "total_cost", "mean_cost")
	for _, c := range Categories {
		cols = append(cols, c.Column)
	}
	out := geotable.New(geotable.WGS84, cols)

	matched := 0
	for _, r := range bounds.Rows {
		attrs := make(map[string]any, len(r.Attrs)+3+len(Categories))
		for k, v := range r.Attrs {
			attrs[k] = v
		}
		key, _ := attrs["name"].(string)
		s := stats[key]
		if s == nil {
			s = &PermitStats{ByUse: map[string]int{}}
		} else {
			matched++
		}
		attrs["permit_count"] = int64(s.Count)
		attrs["total_cost"] = s.TotalCost
		attrs["mean_cost"] = 0.0
		if m := s.MeanCost(); !math.IsNaN(m) {
			attrs["mean_cost"] = m
		}
		for _, c := range Categories {
			attrs[c.Column] = int64(s.ByUse[c.Use])
		}
		out.Append(attrs, r.Geom)
	}
	out.BuildIndex()

	zap.L().Info("aggregate: permits joined to postcodes",
		zap.Int("postcodes_with_permits", len(stats)),
		zap.Int("boundaries", bounds.Len()),
		zap.Int("matched", matched),
	)
	return out, nil
}

// LoadBoundaries reads one boundary per <key>.json file in dir, taking the
// first feature of each. A nil needed set loads every file. The "name"
// property is normalised like a postcode, falling back to the file stem, and
// "filename" holds the stem. A missing directory yields an empty table.
func LoadBoundaries(dir string, needed map[string]bool) (*geotable.Table, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		zap.L().Warn("aggregate: boundary folder absent", zap.String("dir", dir))
		return geotable.Empty(), nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "aggregate: list boundaries")
	}

	type boundary struct {
		stem string
		row  geotable.Row
	}
	var found []boundary
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".json") {
			continue
		}
		stem := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		if needed != nil && !needed[stem] {
			continue
		}
		t, err := loader.ReadGeoJSON(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, eris.Wrapf(err, "aggregate: boundary %s", e.Name())
		}
		if t.Len() == 0 {
			continue
		}
		found = append(found, boundary{stem: stem, row: t.Rows[0]})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].stem < found[j].stem })

	out := geotable.New(geotable.WGS84, []string{"filename", "name"})
	for _, b := range found {
		attrs := make(map[string]any, len(b.row.Attrs)+2)
		for k, v := range b.row.Attrs {
			attrs[k] = v
		}
		attrs["filename"] = b.stem
		name := b.stem
		if v, ok := attrs["name"]; ok && v != nil {
			name = fmt.Sprint(v)
		}
		if key, ok := NormalizePostcode(name); ok {
			name = key
		}
		attrs["name"] = name
		out.Append(attrs, b.row.Geom)
	}
	return out, nil
}
