package geotable

import (
	"math"
	"sort"

	"github.com/tidwall/rtree"
	"github.com/twpayne/go-geom"
)

// Index is a bounding-box R-tree over a table's row geometries, keyed by row
// position. It is built once and only read afterwards.
type Index struct {
	tree rtree.RTreeG[int]
	size int
}

func buildIndex(geoms []geom.T) *Index {
	ix := &Index{}
	for i, g := range geoms {
		min, max, ok := Envelope(g)
		if !ok {
			continue
		}
		ix.tree.Insert(min, max, i)
		ix.size++
	}
	return ix
}

// Len returns the number of indexed geometries.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	return ix.size
}

// Search returns the positions of rows whose bounding box intersects the
// given box, in ascending order. A nil index yields ErrPrefilterUnavailable.
func (ix *Index) Search(min, max [2]float64) ([]int, error) {
	if ix == nil {
		return nil, ErrPrefilterUnavailable
	}
	var hits []int
	ix.tree.Search(min, max, func(_, _ [2]float64, i int) bool {
		hits = append(hits, i)
		return true
	})
	sort.Ints(hits)
	return hits, nil
}

// Envelope returns the 2D bounding box of g. ok is false for nil or empty
// geometries.
func Envelope(g geom.T) (min, max [2]float64, ok bool) {
	if g == nil {
		return min, max, false
	}
	b := g.Bounds()
	if b == nil || b.IsEmpty() {
		return min, max, false
	}
	min = [2]float64{b.Min(0), b.Min(1)}
	max = [2]float64{b.Max(0), b.Max(1)}
	if math.IsNaN(min[0]) || math.IsNaN(min[1]) || math.IsNaN(max[0]) || math.IsNaN(max[1]) {
		return min, max, false
	}
	return min, max, true
}
