package aggregate

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/sells-group/vicmaps/internal/geotable"
	"github.com/sells-group/vicmaps/internal/tabular"
)

// UnknownLabel stands in for blank hierarchy levels.
const UnknownLabel = "Unknown"

// HierarchyNode is one leaf of the use / nature-of-works / ownership
// breakdown.
type HierarchyNode struct {
	Use    string `json:"use"`
	Nature string `json:"nature"`
	Sector string `json:"sector"`
	Count  int    `json:"count"`
}

// PermitHierarchy counts permits by building use, nature of works and
// ownership sector. Missing columns or blank cells count as UnknownLabel.
func PermitHierarchy(frame *tabular.Frame) []HierarchyNode {
	levels := [3]int{frame.Col(UseColumn), frame.Col(NatureColumn), frame.Col(SectorColumn)}
	counts := make(map[[3]string]int)
	for i := range frame.Rows {
		var key [3]string
		for l, col := range levels {
			key[l] = frame.Value(i, col)
			if key[l] == "" {
				key[l] = UnknownLabel
			}
		}
		counts[key]++
	}

	out := make([]HierarchyNode, 0, len(counts))
	for k, n := range counts {
		out = append(out, HierarchyNode{Use: k[0], Nature: k[1], Sector: k[2], Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Use != b.Use {
			return a.Use < b.Use
		}
		if a.Nature != b.Nature {
			return a.Nature < b.Nature
		}
		return a.Sector < b.Sector
	})
	return out
}

// DistributionMetrics are the numeric permit columns offered for
// distribution charts.
var DistributionMetrics = []string{
	"Reported_Cost_of_works",
	"Total_Estimated_Cost_of_Works__c",
	"Total_Floor_Area__c",
}

// Bin is one histogram bucket, [Lo, Hi).
type Bin struct {
	Lo    float64 `json:"lo"`
	Hi    float64 `json:"hi"`
	Count int     `json:"count"`
}

// Summary describes the distribution of one numeric column.
type Summary struct {
	Metric    string  `json:"metric"`
	Log10     bool    `json:"log10"`
	Count     int     `json:"count"`
	Min       float64 `json:"min"`
	Max       float64 `json:"max"`
	Mean      float64 `json:"mean"`
	StdDev    float64 `json:"std_dev"`
	Q1        float64 `json:"q1"`
	Median    float64 `json:"median"`
	Q3        float64 `json:"q3"`
	Histogram []Bin   `json:"histogram"`
}

// Histogram bin counts: the default when none is asked for, and the most a
// caller may request.
const (
	DefaultBins = 60
	MaxBins     = 1000
)

// CheckBins rejects bin counts outside [0, MaxBins]. Zero selects DefaultBins.
func CheckBins(bins int) error {
	if bins < 0 || bins > MaxBins {
		return &geotable.ParameterError{Param: "bins", Reason: fmt.Sprintf("must be an integer in [0, %d]", MaxBins)}
	}
	return nil
}

// Distribution summarises metric over the permits frame after stripping
// thousands separators; unparsable cells are ignored. With log10 set, only
// positive values are kept and summarised on a log10 scale. The metric must
// be one of DistributionMetrics and present in the frame.
func Distribution(frame *tabular.Frame, metric string, bins int, log10 bool) (*Summary, error) {
	if !slices.Contains(DistributionMetrics, metric) {
		return nil, &geotable.ParameterError{Param: "metric", Reason: fmt.Sprintf("unknown metric %q", metric)}
	}
	col := frame.Col(metric)
	if col < 0 {
		return nil, &geotable.ParameterError{Param: "metric", Reason: fmt.Sprintf("column %q not in permits data", metric)}
	}
	if err := CheckBins(bins); err != nil {
		return nil, err
	}
	if bins == 0 {
		bins = DefaultBins
	}

	var xs []float64
	for i := range frame.Rows {
		v, ok := tabular.ParseNumber(frame.Value(i, col))
		if !ok {
			continue
		}
		if log10 {
			if v <= 0 {
				continue
			}
			v = math.Log10(v)
		}
		xs = append(xs, v)
	}

	s := &Summary{Metric: metric, Log10: log10, Count: len(xs), Histogram: []Bin{}}
	if len(xs) == 0 {
		return s, nil
	}
	sort.Float64s(xs)

	s.Min, s.Max = floats.Min(xs), floats.Max(xs)
	s.Mean, s.StdDev = stat.MeanStdDev(xs, nil)
	if len(xs) < 2 {
		s.StdDev = 0
	}
	s.Q1 = stat.Quantile(0.25, stat.Empirical, xs, nil)
	s.Median = stat.Quantile(0.5, stat.Empirical, xs, nil)
	s.Q3 = stat.Quantile(0.75, stat.Empirical, xs, nil)

	if s.Min == s.Max {
		bins = 1
	}
	dividers := make([]float64, bins+1)
	floats.Span(dividers, s.Min, s.Max)
	// stat.Histogram's last bucket is open at the top.
	dividers[bins] = math.Nextafter(s.Max, math.Inf(1))
	counts := stat.Histogram(nil, dividers, xs, nil)

	s.Histogram = make([]Bin, bins)
	for i := range s.Histogram {
		s.Histogram[i] = Bin{Lo: dividers[i], Hi: dividers[i+1], Count: int(counts[i])}
	}
	return s, nil
}
