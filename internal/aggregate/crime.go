package aggregate

import (
	"regexp"
	"sort"
	"strings"

	"github.com/twpayne/go-geom"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/vicmaps/internal/geotable"
	"github.com/sells-group/vicmaps/internal/tabular"
)

// Crime workbook and suburb reference columns. The reference file spells
// "goverment" that way.
const (
	CrimeSheet       = "Table 02"
	CrimeLGAColumn   = "Local Government Area"
	CrimeCountColumn = "Victim Reports"

	SuburbLGAColumn        = "local_goverment_area"
	SuburbPopulationColumn = "population"
	SuburbLatColumn        = "lat"
	SuburbLngColumn        = "lng"
	SuburbPostcodeColumn   = "postcode"
)

var parenSuffix = regexp.MustCompile(`\s*\(.*?\)$`)

// BaseName strips a trailing parenthetical qualifier, as in
// "Melbourne (C)", and trims the result.
func BaseName(s string) string {
	return strings.TrimSpace(parenSuffix.ReplaceAllString(strings.TrimSpace(s), ""))
}

// CrimeRow is one LGA present in both sources.
type CrimeRow struct {
	LGA           string  `json:"lga"`
	Population    float64 `json:"population"`
	Lat           float64 `json:"lat"`
	Lon           float64 `json:"lon"`
	Postcode      string  `json:"postcode"`
	VictimReports float64 `json:"victim_reports"`
}

// CrimeResult is the inner join of crime counts and suburb reference data.
// Names that appear on only one side are reported, not joined.
type CrimeResult struct {
	Rows           []CrimeRow `json:"rows"`
	DroppedCrime   []string   `json:"dropped_crime"`
	DroppedSuburbs []string   `json:"dropped_suburbs"`
}

// Table returns the rows as WGS84 points for serialisation.
func (r *CrimeResult) Table() *geotable.Table {
	t := geotable.New(geotable.WGS84, []string{"lga", "population", "postcode", "victim_reports"})
	for _, row := range r.Rows {
		t.Append(map[string]any{
			"lga":            row.LGA,
			"population":     row.Population,
			"postcode":       row.Postcode,
			"victim_reports": row.VictimReports,
		}, geom.NewPointFlat(geom.XY, []float64{row.Lon, row.Lat}))
	}
	if t.Len() > 0 {
		t.BuildIndex()
	}
	return t
}

type suburbGroup struct {
	population float64
	lats, lngs []float64
	postcode   string
}

// Crime sums victim reports per LGA, groups suburbs by base LGA name (summed
// population, mean coordinates, first postcode) and inner-joins the two on
// the exact base name.
func Crime(crimeSource string, crime *tabular.Frame, suburbSource string, suburbs *tabular.Frame) (*CrimeResult, error) {
	if err := requireColumns(crimeSource, crime, CrimeLGAColumn, CrimeCountColumn); err != nil {
		return nil, err
	}
	if err := requireColumns(suburbSource, suburbs, SuburbLGAColumn, SuburbPopulationColumn, SuburbLatColumn, SuburbLngColumn); err != nil {
		return nil, err
	}

	reports := make(map[string]float64)
	lgaCol, countCol := crime.Col(CrimeLGAColumn), crime.Col(CrimeCountColumn)
	for i := range crime.Rows {
		name := crime.Value(i, lgaCol)
		if name == "" {
			continue
		}
		n, _ := tabular.ParseNumber(crime.Value(i, countCol))
		reports[name] += n
	}

	groups := make(map[string]*suburbGroup)
	sLGA, sPop := suburbs.Col(SuburbLGAColumn), suburbs.Col(SuburbPopulationColumn)
	sLat, sLng, sPC := suburbs.Col(SuburbLatColumn), suburbs.Col(SuburbLngColumn), suburbs.Col(SuburbPostcodeColumn)
	for i := range suburbs.Rows {
		key := BaseName(suburbs.Value(i, sLGA))
		if key == "" {
			continue
		}
		g := groups[key]
		if g == nil {
			g = &suburbGroup{}
			groups[key] = g
		}
		if v, ok := tabular.ParseNumber(suburbs.Value(i, sPop)); ok {
			g.population += v
		}
		if v, ok := tabular.ParseNumber(suburbs.Value(i, sLat)); ok {
			g.lats = append(g.lats, v)
		}
		if v, ok := tabular.ParseNumber(suburbs.Value(i, sLng)); ok {
			g.lngs = append(g.lngs, v)
		}
		if g.postcode == "" {
			g.postcode = suburbs.Value(i, sPC)
		}
	}

	res := &CrimeResult{Rows: []CrimeRow{}, DroppedCrime: []string{}, DroppedSuburbs: []string{}}
	for key, g := range groups {
		n, ok := reports[key]
		if !ok {
			res.DroppedSuburbs = append(res.DroppedSuburbs, key)
			continue
		}
		if len(g.lats) == 0 || len(g.lngs) == 0 {
			res.DroppedSuburbs = append(res.DroppedSuburbs, key)
			continue
		}
		res.Rows = append(res.Rows, CrimeRow{
			LGA:           key,
			Population:    g.population,
			Lat:           stat.Mean(g.lats, nil),
			Lon:           stat.Mean(g.lngs, nil),
			Postcode:      g.postcode,
			VictimReports: n,
		})
	}
	for name := range reports {
		if _, ok := groups[name]; !ok {
			res.DroppedCrime = append(res.DroppedCrime, name)
		}
	}
	sort.Slice(res.Rows, func(i, j int) bool { return res.Rows[i].LGA < res.Rows[j].LGA })
	sort.Strings(res.DroppedCrime)
	sort.Strings(res.DroppedSuburbs)

	if len(res.DroppedCrime) > 0 || len(res.DroppedSuburbs) > 0 {
		zap.L().Warn("aggregate: crime join dropped unmatched LGAs",
			zap.Int("joined", len(res.Rows)),
			zap.Int("dropped_crime", len(res.DroppedCrime)),
			zap.Int("dropped_suburbs", len(res.DroppedSuburbs)),
			zap.Strings("crime_only", res.DroppedCrime),
		)
	}
	return res, nil
}

func requireColumns(source string, f *tabular.Frame, cols ...string) error {
	var absent []string
	for _, c := range cols {
		if f.Col(c) < 0 {
			absent = append(absent, c)
		}
	}
	if len(absent) > 0 {
		return &geotable.SchemaError{Source: source, Missing: absent}
	}
	return nil
}
