package proj

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/wroge/wgs84"

	"github.com/sells-group/vicmaps/internal/geotable"
)

// Transformer converts coordinates from one EPSG code to another.
type Transformer struct {
	fn               wgs84.Func
	identity         bool
	fromCode, toCode int
}

// NewTransformer returns a transformer between two supported EPSG codes.
func NewTransformer(fromEPSG, toEPSG int) (*Transformer, error) {
	from, err := Lookup(fromEPSG)
	if err != nil {
		return nil, err
	}
	to, err := Lookup(toEPSG)
	if err != nil {
		return nil, err
	}
	return &Transformer{
		fn:       wgs84.Transform(from, to),
		identity: fromEPSG == toEPSG || (shiftless(from) && shiftless(to)),
		fromCode: fromEPSG,
		toCode:   toEPSG,
	}, nil
}

// Identity reports whether the transform leaves coordinates unchanged.
func (t *Transformer) Identity() bool {
	return t.identity
}

// Transform converts one coordinate pair.
func (t *Transformer) Transform(x, y float64) (float64, float64) {
	if t.identity {
		return x, y
	}
	x, y, _ = t.fn(x, y, 0)
	return x, y
}

// Geometry returns a transformed copy of g tagged with the target SRID. Z and
// M ordinates are carried through untouched.
func (t *Transformer) Geometry(g geom.T) (geom.T, error) {
	switch g := g.(type) {
	case nil:
		return nil, nil
	case *geom.Point:
		return geom.NewPointFlat(g.Layout(), t.flat(g.FlatCoords(), g.Stride())).SetSRID(t.toCode), nil
	case *geom.LineString:
		return geom.NewLineStringFlat(g.Layout(), t.flat(g.FlatCoords(), g.Stride())).SetSRID(t.toCode), nil
	case *geom.LinearRing:
		return geom.NewLinearRingFlat(g.Layout(), t.flat(g.FlatCoords(), g.Stride())).SetSRID(t.toCode), nil
	case *geom.Polygon:
		return geom.NewPolygonFlat(g.Layout(), t.flat(g.FlatCoords(), g.Stride()), g.Ends()).SetSRID(t.toCode), nil
	case *geom.MultiPoint:
		return geom.NewMultiPointFlat(g.Layout(), t.flat(g.FlatCoords(), g.Stride())).SetSRID(t.toCode), nil
	case *geom.MultiLineString:
		return geom.NewMultiLineStringFlat(g.Layout(), t.flat(g.FlatCoords(), g.Stride()), g.Ends()).SetSRID(t.toCode), nil
	case *geom.MultiPolygon:
		return geom.NewMultiPolygonFlat(g.Layout(), t.flat(g.FlatCoords(), g.Stride()), g.Endss()).SetSRID(t.toCode), nil
	case *geom.GeometryCollection:
		out := geom.NewGeometryCollection()
		for _, child := range g.Geoms() {
			tc, err := t.Geometry(child)
			if err != nil {
				return nil, err
			}
			if err := out.Push(tc); err != nil {
				return nil, eris.Wrap(err, "proj: rebuild geometry collection")
			}
		}
		return out.SetSRID(t.toCode), nil
	default:
		return nil, eris.Errorf("proj: unsupported geometry type %T", g)
	}
}

func (t *Transformer) flat(src []float64, stride int) []float64 {
	out := make([]float64, len(src))
	copy(out, src)
	if stride < 2 {
		return out
	}
	for i := 0; i+1 < len(out); i += stride {
		out[i], out[i+1] = t.Transform(out[i], out[i+1])
	}
	return out
}

// TransformTable returns tbl re-expressed in the target CRS. An unset source
// CRS is treated as WGS84. When no conversion is needed tbl is returned as is;
// otherwise a new table with rebuilt index is returned.
func TransformTable(tbl *geotable.Table, to geotable.CRS) (*geotable.Table, error) {
	from := tbl.CRS.OrWGS84()
	to = to.OrWGS84()

	tr, err := NewTransformer(from.EPSG, to.EPSG)
	if err != nil {
		return nil, err
	}
	if tr.Identity() {
		tbl.CRS = to
		return tbl, nil
	}

	out := geotable.New(to, tbl.Columns)
	for i, r := range tbl.Rows {
		g, err := tr.Geometry(r.Geom)
		if err != nil {
			return nil, eris.Wrapf(err, "proj: transform row %d", i)
		}
		out.Append(r.Attrs, g)
	}
	out.BuildIndex()
	return out, nil
}
