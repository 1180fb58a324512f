package radius

import (
	sfgeom "github.com/peterstace/simplefeatures/geom"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
)

// eps absorbs rounding in the point distance test, in metres.
const eps = 1e-9

// window is the metric circle polygon features are intersected with.
type window struct {
	poly sfgeom.Geometry
}

// newWindow closes ring and builds the overlay polygon.
func newWindow(ring [][2]float64) window {
	flat := make([]float64, 0, 2*len(ring)+2)
	for _, v := range ring {
		flat = append(flat, v[0], v[1])
	}
	if len(ring) > 0 {
		flat = append(flat, ring[0][0], ring[0][1])
	}
	return window{poly: sfgeom.NewPolygonXY(flat).AsGeometry()}
}

// clip returns the part of g inside the window, reduced to XY and to g's own
// dimension, or nil when nothing remains. Single geometries stay single when
// one piece survives; multi geometries stay multi.
func (w window) clip(g geom.T) (geom.T, error) {
	if g == nil {
		return nil, nil
	}
	b, err := wkb.Marshal(g, wkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "radius: encode feature")
	}
	in, err := sfgeom.UnmarshalWKB(b, sfgeom.NoValidate{})
	if err != nil {
		return nil, eris.Wrap(err, "radius: decode feature")
	}
	if in.IsEmpty() {
		return nil, nil
	}
	out, err := sfgeom.Intersection(in.Force2D(), w.poly)
	if err != nil {
		return nil, eris.Wrap(err, "radius: intersect feature")
	}
	if out.IsEmpty() {
		return nil, nil
	}
	res, err := wkb.Unmarshal(out.AsBinary())
	if err != nil {
		return nil, eris.Wrap(err, "radius: decode intersection")
	}
	return reshape(g, res)
}

// parts splits g into its points, lines and polygons.
type parts struct {
	points, lines [][]float64
	polys         [][]float64
	polyEnds      [][]int
}

func (p *parts) add(g geom.T) {
	switch g := g.(type) {
	case *geom.Point:
		if !g.Empty() {
			p.points = append(p.points, []float64{g.X(), g.Y()})
		}
	case *geom.MultiPoint:
		for i := 0; i < g.NumPoints(); i++ {
			p.add(g.Point(i))
		}
	case *geom.LineString:
		if g.NumCoords() >= 2 {
			p.lines = append(p.lines, xyOnly(g.FlatCoords(), g.Stride()))
		}
	case *geom.MultiLineString:
		for i := 0; i < g.NumLineStrings(); i++ {
			p.add(g.LineString(i))
		}
	case *geom.Polygon:
		if g.NumLinearRings() > 0 {
			p.polys = append(p.polys, xyOnly(g.FlatCoords(), g.Stride()))
			ends := make([]int, len(g.Ends()))
			for i, e := range g.Ends() {
				ends[i] = e / g.Stride() * 2
			}
			p.polyEnds = append(p.polyEnds, ends)
		}
	case *geom.MultiPolygon:
		for i := 0; i < g.NumPolygons(); i++ {
			p.add(g.Polygon(i))
		}
	case *geom.GeometryCollection:
		for _, child := range g.Geoms() {
			p.add(child)
		}
	}
}

// reshape rebuilds the intersection res in the shape of the input g.
func reshape(g, res geom.T) (geom.T, error) {
	var p parts
	p.add(res)

	switch g.(type) {
	case *geom.Point, *geom.MultiPoint:
		if len(p.points) == 0 {
			return nil, nil
		}
		if _, single := g.(*geom.Point); single && len(p.points) == 1 {
			return geom.NewPointFlat(geom.XY, p.points[0]), nil
		}
		return geom.NewMultiPointFlat(geom.XY, concat(p.points)), nil

	case *geom.LineString, *geom.MultiLineString:
		lines := mergeLines(p.lines)
		if len(lines) == 0 {
			return nil, nil
		}
		if _, single := g.(*geom.LineString); single && len(lines) == 1 {
			return geom.NewLineStringFlat(geom.XY, lines[0]), nil
		}
		return geom.NewMultiLineStringFlat(geom.XY, concat(lines), ends(lines)), nil

	case *geom.Polygon, *geom.MultiPolygon:
		if len(p.polys) == 0 {
			return nil, nil
		}
		if _, single := g.(*geom.Polygon); single && len(p.polys) == 1 {
			return geom.NewPolygonFlat(geom.XY, p.polys[0], p.polyEnds[0]), nil
		}
		var flat []float64
		endss := make([][]int, 0, len(p.polys))
		for i, poly := range p.polys {
			base := len(flat)
			flat = append(flat, poly...)
			shifted := make([]int, len(p.polyEnds[i]))
			for j, e := range p.polyEnds[i] {
				shifted[j] = base + e
			}
			endss = append(endss, shifted)
		}
		return geom.NewMultiPolygonFlat(geom.XY, flat, endss), nil

	case *geom.GeometryCollection:
		return res, nil
	}
	return nil, eris.Errorf("radius: cannot clip %T", g)
}

// mergeLines joins pieces the overlay split at shared nodes, keeping the
// direction of the piece joined onto.
func mergeLines(lines [][]float64) [][]float64 {
	for merged := true; merged; {
		merged = false
		for i := 0; i < len(lines) && !merged; i++ {
			for j := 0; j < len(lines) && !merged; j++ {
				if i == j {
					continue
				}
				if joined, ok := join(lines[i], lines[j]); ok {
					lines[i] = joined
					lines = append(lines[:j], lines[j+1:]...)
					merged = true
				}
			}
		}
	}
	return lines
}

func join(a, b []float64) ([]float64, bool) {
	as, ae := a[:2], a[len(a)-2:]
	bs, be := b[:2], b[len(b)-2:]
	switch {
	case equalXY(ae, bs):
		return append(append([]float64{}, a...), b[2:]...), true
	case equalXY(ae, be):
		return append(append([]float64{}, a...), reverseXY(b)[2:]...), true
	case equalXY(as, be):
		return append(append([]float64{}, b...), a[2:]...), true
	case equalXY(as, bs):
		return append(reverseXY(b), a[2:]...), true
	}
	return nil, false
}

func equalXY(a, b []float64) bool {
	return a[0] == b[0] && a[1] == b[1]
}

func reverseXY(flat []float64) []float64 {
	out := make([]float64, 0, len(flat))
	for i := len(flat) - 2; i >= 0; i -= 2 {
		out = append(out, flat[i], flat[i+1])
	}
	return out
}

func xyOnly(flat []float64, stride int) []float64 {
	if stride == 2 {
		return append([]float64{}, flat...)
	}
	out := make([]float64, 0, len(flat)/stride*2)
	for i := 0; i+1 < len(flat); i += stride {
		out = append(out, flat[i], flat[i+1])
	}
	return out
}

func concat(pieces [][]float64) []float64 {
	var out []float64
	for _, p := range pieces {
		out = append(out, p...)
	}
	return out
}

func ends(pieces [][]float64) []int {
	out := make([]int, 0, len(pieces))
	n := 0
	for _, p := range pieces {
		n += len(p)
		out = append(out, n)
	}
	return out
}
