// Package radius answers "what lies within R km of (lat, lon)" over a
// geo-table: exact clipping for lines and polygons, metric distance for
// points.
package radius

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/vicmaps/internal/geotable"
	"github.com/sells-group/vicmaps/internal/proj"
)

// circleSegments is the number of polygon vertices approximating the buffer,
// 16 per quadrant.
const circleSegments = 64

// Circle is a metric buffer around a centre point. Metric coordinates are in
// the WGS84 UTM zone containing the centre.
type Circle struct {
	Lat, Lon float64
	Radius   float64 // metres
	EPSG     int     // metric CRS

	cx, cy float64
	ring   [][2]float64 // counter-clockwise, not closed
}

// NewCircle buffers (lat, lon) by km kilometres in the local UTM zone.
func NewCircle(lat, lon, km float64) (*Circle, error) {
	if !finite(lat) || !finite(lon) || !finite(km) {
		return nil, &geotable.ParameterError{Param: "lat/lon/radius_km", Reason: "must be finite numbers"}
	}
	if lat < -90 || lat > 90 {
		return nil, &geotable.ParameterError{Param: "lat", Reason: "must be within [-90, 90]"}
	}
	if lon < -180 || lon > 180 {
		return nil, &geotable.ParameterError{Param: "lon", Reason: "must be within [-180, 180]"}
	}
	c := &Circle{
		Lat:    lat,
		Lon:    lon,
		Radius: math.Max(km, 0) * 1000,
		EPSG:   proj.UTMEPSG(lon, lat),
	}
	tr, err := proj.NewTransformer(geotable.EPSGWGS84, c.EPSG)
	if err != nil {
		return nil, eris.Wrap(err, "radius: metric projection")
	}
	c.cx, c.cy = tr.Transform(lon, lat)

	c.ring = make([][2]float64, circleSegments)
	for i := range c.ring {
		a := 2 * math.Pi * float64(i) / circleSegments
		c.ring[i] = [2]float64{c.cx + c.Radius*math.Cos(a), c.cy + c.Radius*math.Sin(a)}
	}
	return c, nil
}

// Centre returns the metric centre.
func (c *Circle) Centre() (x, y float64) {
	return c.cx, c.cy
}

// Ring returns a copy of the metric polygon vertices, counter-clockwise.
func (c *Circle) Ring() [][2]float64 {
	out := make([][2]float64, len(c.ring))
	copy(out, c.ring)
	return out
}

// Minimum prefilter padding: about 10 cm in degrees or in metres. A zero
// radius collapses the box onto the centre, and the round trip through the
// metric CRS can move it off the centre by more than that.
const (
	minPadDegrees = 1e-6
	minPadMetres  = 0.1
)

// BoundsIn returns the circle's bounding box expressed in crs, used as the
// index prefilter window. The box is padded because polygon edges bow when
// reprojected.
func (c *Circle) BoundsIn(crs geotable.CRS) (min, max [2]float64, err error) {
	code := crs.OrWGS84().EPSG
	tr, err := proj.NewTransformer(c.EPSG, code)
	if err != nil {
		return min, max, eris.Wrap(err, "radius: project circle")
	}
	min = [2]float64{math.Inf(1), math.Inf(1)}
	max = [2]float64{math.Inf(-1), math.Inf(-1)}
	for _, v := range c.ring {
		x, y := tr.Transform(v[0], v[1])
		min[0], min[1] = math.Min(min[0], x), math.Min(min[1], y)
		max[0], max[1] = math.Max(max[0], x), math.Max(max[1], y)
	}
	floor := minPadMetres
	if proj.IsGeographic(code) {
		floor = minPadDegrees
	}
	padX := math.Max((max[0]-min[0])*0.01, floor)
	padY := math.Max((max[1]-min[1])*0.01, floor)
	min[0], min[1] = min[0]-padX, min[1]-padY
	max[0], max[1] = max[0]+padX, max[1]+padY
	return min, max, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
