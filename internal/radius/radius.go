package radius

import (
	"errors"
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"go.uber.org/zap"

	"github.com/sells-group/vicmaps/internal/geotable"
	"github.com/sells-group/vicmaps/internal/proj"
)

// Query is one radius request.
type Query struct {
	Lat, Lon float64
	RadiusKm float64
	Text     string
}

// ClipLines returns the parts of t's features that fall inside the circle of
// km kilometres around (lat, lon). Geometry is clipped, not just selected,
// and returned in t's CRS. Rows with nothing inside are dropped.
func ClipLines(t *geotable.Table, lat, lon, km float64) (*geotable.Table, error) {
	c, err := NewCircle(lat, lon, km)
	if err != nil {
		return nil, err
	}
	if t.Len() == 0 || c.Radius <= 0 {
		return t.Derive(nil), nil
	}

	toMetric, fromMetric, err := transformers(t.CRS, c.EPSG)
	if err != nil {
		return nil, err
	}
	candidates, err := shortlist(t, c)
	if err != nil {
		return nil, err
	}

	window := newWindow(c.Ring())
	rows := make([]geotable.Row, 0, len(candidates))
	for _, i := range candidates {
		r := t.Rows[i]
		mg, err := toMetric.Geometry(r.Geom)
		if err != nil {
			return nil, &geotable.ComputationError{Op: "radius: project feature", Err: err}
		}
		clipped, err := window.clip(mg)
		if err != nil {
			return nil, &geotable.ComputationError{Op: "radius: clip feature", Err: err}
		}
		if clipped == nil {
			continue
		}
		back, err := fromMetric.Geometry(clipped)
		if err != nil {
			return nil, &geotable.ComputationError{Op: "radius: unproject feature", Err: err}
		}
		rows = append(rows, geotable.Row{Attrs: r.Attrs, Geom: back})
	}
	return t.Derive(rows), nil
}

// ClipPoints returns the rows of t whose point lies within km kilometres of
// (lat, lon), measured in the local metric projection. A point exactly at
// the centre is kept at radius zero.
func ClipPoints(t *geotable.Table, lat, lon, km float64) (*geotable.Table, error) {
	c, err := NewCircle(lat, lon, km)
	if err != nil {
		return nil, err
	}
	if t.Len() == 0 || km < 0 {
		return t.Derive(nil), nil
	}

	toMetric, _, err := transformers(t.CRS, c.EPSG)
	if err != nil {
		return nil, err
	}
	candidates, err := shortlist(t, c)
	if err != nil {
		return nil, err
	}

	cx, cy := c.Centre()
	centre := geom.Coord{cx, cy}
	var keep []int
	for _, i := range candidates {
		d, ok := nearestVertex(toMetric, t.Rows[i].Geom, centre)
		if ok && d <= c.Radius+eps {
			keep = append(keep, i)
		}
	}
	return t.Select(keep), nil
}

// shortlist uses the index to find rows whose box meets the circle's box. A
// table without an index is scanned in full.
func shortlist(t *geotable.Table, c *Circle) ([]int, error) {
	min, max, err := c.BoundsIn(t.CRS)
	if err != nil {
		return nil, &geotable.ComputationError{Op: "radius: prefilter window", Err: err}
	}
	hits, err := t.Index().Search(min, max)
	if errors.Is(err, geotable.ErrPrefilterUnavailable) {
		zap.L().Debug("radius: no spatial index, scanning all rows", zap.Int("rows", t.Len()))
		all := make([]int, t.Len())
		for i := range all {
			all[i] = i
		}
		return all, nil
	}
	if err != nil {
		return nil, &geotable.ComputationError{Op: "radius: prefilter", Err: err}
	}
	return hits, nil
}

func transformers(crs geotable.CRS, metric int) (to, from *proj.Transformer, err error) {
	code := crs.OrWGS84().EPSG
	to, err = proj.NewTransformer(code, metric)
	if err != nil {
		return nil, nil, eris.Wrap(err, "radius: table CRS")
	}
	from, err = proj.NewTransformer(metric, code)
	if err != nil {
		return nil, nil, eris.Wrap(err, "radius: table CRS")
	}
	return to, from, nil
}

// nearestVertex is the metric distance from centre to the closest vertex of
// g. For a point that is simply its distance.
func nearestVertex(tr *proj.Transformer, g geom.T, centre geom.Coord) (float64, bool) {
	if g == nil {
		return 0, false
	}
	if gc, ok := g.(*geom.GeometryCollection); ok {
		best, found := math.Inf(1), false
		for _, child := range gc.Geoms() {
			if d, ok := nearestVertex(tr, child, centre); ok && d < best {
				best, found = d, true
			}
		}
		return best, found
	}
	flat, stride := g.FlatCoords(), g.Stride()
	if stride < 2 || len(flat) < 2 {
		return 0, false
	}
	best := math.Inf(1)
	for i := 0; i+1 < len(flat); i += stride {
		x, y := tr.Transform(flat[i], flat[i+1])
		best = math.Min(best, xy.Distance(centre, geom.Coord{x, y}))
	}
	return best, !math.IsInf(best, 1)
}
