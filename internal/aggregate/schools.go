package aggregate

import (
	"math"
	"sort"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/vicmaps/internal/geotable"
	"github.com/sells-group/vicmaps/internal/tabular"
)

// School location and enrolment columns.
const (
	SchoolNameColumn       = "School_Name"
	SchoolXColumn          = "X"
	SchoolYColumn          = "Y"
	EnrolmentTotalColumn   = "Grand Total"
	enrolmentTotalFallback = `"Grand Total"`
)

// SchoolPermitsResult holds the two point layers of the schools map.
type SchoolPermitsResult struct {
	Schools *geotable.Table
	Permits *geotable.Table
}

// SchoolPermits places per-postcode permit activity at the first suburb
// sharing the postcode, and joins school locations to enrolments by school
// name. Postcodes with no suburb and schools with no enrolment row are left
// out.
func SchoolPermits(permits, suburbs, schools, enrolments *tabular.Frame) (*SchoolPermitsResult, error) {
	permitLayer, err := permitPoints(permits, suburbs)
	if err != nil {
		return nil, err
	}
	schoolLayer, err := schoolPoints(schools, enrolments)
	if err != nil {
		return nil, err
	}
	return &SchoolPermitsResult{Schools: schoolLayer, Permits: permitLayer}, nil
}

func permitPoints(permits, suburbs *tabular.Frame) (*geotable.Table, error) {
	stats, err := AggregatePermits("permits", permits)
	if err != nil {
		return nil, err
	}
	if err := requireColumns("suburbs", suburbs, SuburbPostcodeColumn, SuburbLatColumn, SuburbLngColumn); err != nil {
		return nil, err
	}

	type loc struct{ lat, lng float64 }
	first := make(map[string]loc)
	pc, lat, lng := suburbs.Col(SuburbPostcodeColumn), suburbs.Col(SuburbLatColumn), suburbs.Col(SuburbLngColumn)
	for i := range suburbs.Rows {
		key, ok := NormalizePostcode(suburbs.Value(i, pc))
		if !ok {
			continue
		}
		if _, seen := first[key]; seen {
			continue
		}
		y, okY := tabular.ParseNumber(suburbs.Value(i, lat))
		x, okX := tabular.ParseNumber(suburbs.Value(i, lng))
		if okY && okX {
			first[key] = loc{lat: y, lng: x}
		}
	}

	keys := make([]string, 0, len(stats))
	for k := range stats {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := geotable.New(geotable.WGS84, []string{"postcode", "total_permits", "average_reported_cost"})
	for _, k := range keys {
		l, ok := first[k]
		if !ok {
			continue
		}
		s := stats[k]
		var mean any
		if m := s.MeanCost(); !math.IsNaN(m) {
			mean = m
		}
		t.Append(map[string]any{
			"postcode":              k,
			"total_permits":         int64(s.Count),
			"average_reported_cost": mean,
		}, geom.NewPointFlat(geom.XY, []float64{l.lng, l.lat}))
	}
	if t.Len() > 0 {
		t.BuildIndex()
	}
	return t, nil
}

func schoolPoints(schools, enrolments *tabular.Frame) (*geotable.Table, error) {
	if err := requireColumns("school locations", schools, SchoolNameColumn, SchoolXColumn, SchoolYColumn); err != nil {
		return nil, err
	}
	if err := requireColumns("enrolments", enrolments, SchoolNameColumn); err != nil {
		return nil, err
	}
	totalName, ok := enrolments.Find(EnrolmentTotalColumn, enrolmentTotalFallback)
	if !ok {
		return nil, &geotable.SchemaError{Source: "enrolments", Missing: []string{EnrolmentTotalColumn}}
	}

	totals := make(map[string][]float64)
	en, tot := enrolments.Col(SchoolNameColumn), enrolments.Col(totalName)
	for i := range enrolments.Rows {
		v, ok := tabular.ParseNumber(enrolments.Value(i, tot))
		if !ok {
			continue
		}
		name := enrolments.Value(i, en)
		totals[name] = append(totals[name], v)
	}

	t := geotable.New(geotable.WGS84, []string{SchoolNameColumn, EnrolmentTotalColumn})
	sn, sx, sy := schools.Col(SchoolNameColumn), schools.Col(SchoolXColumn), schools.Col(SchoolYColumn)
	var unmatched int
	for i := range schools.Rows {
		name := schools.Value(i, sn)
		x, okX := tabular.ParseNumber(schools.Value(i, sx))
		y, okY := tabular.ParseNumber(schools.Value(i, sy))
		if !okX || !okY {
			continue
		}
		ts, ok := totals[name]
		if !ok {
			unmatched++
			continue
		}
		// An inner join repeats the location once per enrolment row.
		for _, v := range ts {
			t.Append(map[string]any{
				SchoolNameColumn:     name,
				EnrolmentTotalColumn: v,
			}, geom.NewPointFlat(geom.XY, []float64{x, y}))
		}
	}
	if unmatched > 0 {
		zap.L().Info("aggregate: schools without enrolment data", zap.Int("schools", unmatched))
	}
	if t.Len() > 0 {
		t.BuildIndex()
	}
	return t, nil
}
