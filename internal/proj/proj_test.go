package proj

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/umahmood/haversine"

	"github.com/sells-group/vicmaps/internal/geotable"
)

func TestUTMZone(t *testing.T) {
	assert.Equal(t, 55, UTMZone(144.96))
	assert.Equal(t, 54, UTMZone(141.5))
	assert.Equal(t, 1, UTMZone(-180))
	assert.Equal(t, 60, UTMZone(179.99))
	assert.Equal(t, 32755, UTMEPSG(144.96, -37.81))
	assert.Equal(t, 32633, UTMEPSG(15.0, 52.0))
}

func mustTransformer(t *testing.T, from, to int) *Transformer {
	t.Helper()
	tr, err := NewTransformer(from, to)
	require.NoError(t, err)
	return tr
}

func TestUTM_CentralMeridianOrigin(t *testing.T) {
	x, y := mustTransformer(t, 4326, 32755).Transform(147, 0)
	assert.InDelta(t, 500000, x, 1e-3)
	assert.InDelta(t, 10000000, y, 1e-3)
}

func TestUTM_RoundTrip(t *testing.T) {
	for _, code := range []int{32755, 28355, 7855} {
		fwd, inv := mustTransformer(t, 4326, code), mustTransformer(t, code, 4326)
		for _, c := range [][2]float64{{144.9631, -37.8136}, {145.5, -38.5}, {146.99, -36.0}, {142.1, -34.2}} {
			x, y := fwd.Transform(c[0], c[1])
			lon, lat := inv.Transform(x, y)
			// A centimetre is about 1e-7 degrees.
			assert.InDelta(t, c[0], lon, 1e-7, "EPSG:%d", code)
			assert.InDelta(t, c[1], lat, 1e-7, "EPSG:%d", code)
		}
	}
}

func TestUTM_KnownMelbourneCoordinate(t *testing.T) {
	// Melbourne GPO in GDA94 / MGA zone 55.
	x, y := mustTransformer(t, 4283, 28355).Transform(144.9631, -37.8136)
	assert.InDelta(t, 320704, x, 5)
	assert.InDelta(t, 5812912, y, 5)
}

func TestUTM_DistanceMatchesHaversine(t *testing.T) {
	tr := mustTransformer(t, 4326, 32755)
	a := haversine.Coord{Lat: -37.80, Lon: 144.96}
	b := haversine.Coord{Lat: -37.83, Lon: 145.01}
	_, km := haversine.Distance(a, b)

	ax, ay := tr.Transform(a.Lon, a.Lat)
	bx, by := tr.Transform(b.Lon, b.Lat)
	planar := math.Hypot(bx-ax, by-ay) / 1000

	assert.InEpsilon(t, km, planar, 0.005)
}

func TestVicgrid_OriginAndRoundTrip(t *testing.T) {
	for _, code := range []int{3111, 7899} {
		fwd, inv := mustTransformer(t, 4326, code), mustTransformer(t, code, 4326)

		x, y := fwd.Transform(145, -37)
		assert.InDelta(t, 2500000, x, 1e-3)
		assert.InDelta(t, 2500000, y, 1e-3)

		x, y = fwd.Transform(144.9631, -37.8136)
		lon, lat := inv.Transform(x, y)
		assert.InDelta(t, 144.9631, lon, 1e-7)
		assert.InDelta(t, -37.8136, lat, 1e-7)
		// Melbourne lies south-west of the Vicgrid origin.
		assert.Less(t, x, 2500000.0)
		assert.Less(t, y, 2500000.0)
	}
}

func TestWebMercator_RoundTrip(t *testing.T) {
	fwd, inv := mustTransformer(t, 4326, 3857), mustTransformer(t, 3857, 4326)
	x, y := fwd.Transform(0, 0)
	assert.InDelta(t, 0, x, 1e-6)
	assert.InDelta(t, 0, y, 1e-6)

	x, y = fwd.Transform(144.96, -37.81)
	lon, lat := inv.Transform(x, y)
	assert.InDelta(t, 144.96, lon, 1e-8)
	assert.InDelta(t, -37.81, lat, 1e-8)

	x, _ = mustTransformer(t, 4326, 900913).Transform(1, 0)
	assert.InDelta(t, 111319.49, x, 0.01)
}

func TestLookup(t *testing.T) {
	for _, code := range []int{4326, 4283, 7844} {
		assert.True(t, IsGeographic(code), code)
	}
	for _, code := range []int{3857, 32755, 28355, 7855, 3111, 7899} {
		_, err := Lookup(code)
		require.NoError(t, err, code)
		assert.False(t, IsGeographic(code), code)
	}
	_, err := Lookup(2193)
	assert.Error(t, err)
	assert.False(t, IsGeographic(2193))

	_, err = NewTransformer(4326, 2193)
	assert.Error(t, err)
}

func TestTransformer_Identity(t *testing.T) {
	assert.True(t, mustTransformer(t, 4283, 4326).Identity())
	assert.True(t, mustTransformer(t, 28355, 28355).Identity())
	assert.False(t, mustTransformer(t, 4326, 28355).Identity())
	// OSGB36 carries a Helmert shift.
	assert.False(t, mustTransformer(t, 4277, 4326).Identity())

	x, y := mustTransformer(t, 7844, 4326).Transform(144.9631, -37.8136)
	assert.Equal(t, 144.9631, x)
	assert.Equal(t, -37.8136, y)
}

func TestTransformer_MGAToWGS84Geometry(t *testing.T) {
	toMGA := mustTransformer(t, 4326, 28355)
	x1, y1 := toMGA.Transform(144.96, -37.80)
	x2, y2 := toMGA.Transform(144.97, -37.81)

	ls := geom.NewLineStringFlat(geom.XY, []float64{x1, y1, x2, y2})
	back := mustTransformer(t, 28355, 4326)

	g, err := back.Geometry(ls)
	require.NoError(t, err)
	flat := g.FlatCoords()
	assert.InDelta(t, 144.96, flat[0], 1e-7)
	assert.InDelta(t, -37.80, flat[1], 1e-7)
	assert.InDelta(t, 144.97, flat[2], 1e-7)
	assert.InDelta(t, -37.81, flat[3], 1e-7)
	assert.Equal(t, 4326, g.SRID())
	// Source untouched.
	assert.Equal(t, x1, ls.FlatCoords()[0])
}

func TestTransformer_Collections(t *testing.T) {
	tr := mustTransformer(t, 4326, 3857)

	mp := geom.NewMultiPolygon(geom.XY)
	poly := geom.NewPolygonFlat(geom.XY, []float64{0, 0, 1, 0, 1, 1, 0, 0}, []int{8})
	require.NoError(t, mp.Push(poly))

	gc := geom.NewGeometryCollection()
	require.NoError(t, gc.Push(geom.NewPointFlat(geom.XY, []float64{1, 1}), mp))

	out, err := tr.Geometry(gc)
	require.NoError(t, err)
	coll, ok := out.(*geom.GeometryCollection)
	require.True(t, ok)
	require.Len(t, coll.Geoms(), 2)
	assert.InDelta(t, 111319.49, coll.Geom(0).FlatCoords()[0], 0.01)
	assert.Equal(t, []int{8}, coll.Geom(1).(*geom.MultiPolygon).Endss()[0])
}

func TestTransformTable(t *testing.T) {
	tbl := geotable.New(geotable.CRS{EPSG: 3857}, []string{"name"})
	tbl.Append(map[string]any{"name": "a"}, geom.NewPointFlat(geom.XY, []float64{111319.49079327357, 0}))

	out, err := TransformTable(tbl, geotable.WGS84)
	require.NoError(t, err)
	assert.Equal(t, geotable.WGS84, out.CRS)
	assert.InDelta(t, 1.0, out.Rows[0].Geom.FlatCoords()[0], 1e-8)
	assert.Equal(t, 1, out.Index().Len())
}

func TestTransformTable_UnsetIsWGS84(t *testing.T) {
	tbl := geotable.New(geotable.CRS{}, nil)
	tbl.Append(nil, geom.NewPointFlat(geom.XY, []float64{144, -37}))

	out, err := TransformTable(tbl, geotable.WGS84)
	require.NoError(t, err)
	assert.Same(t, tbl, out)
	assert.Equal(t, geotable.WGS84, out.CRS)
}

func TestTransformTable_UnsupportedCRS(t *testing.T) {
	tbl := geotable.New(geotable.CRS{EPSG: 2193}, nil)
	_, err := TransformTable(tbl, geotable.WGS84)
	assert.Error(t, err)
}
