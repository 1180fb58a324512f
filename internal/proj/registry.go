// Package proj converts coordinates between the geographic and projected
// coordinate reference systems the Victorian datasets arrive in, and picks the
// metric projection used for radius buffering.
package proj

import (
	"fmt"
	"math"
	"sync"

	"github.com/peterstace/simplefeatures/carto"
	sfgeom "github.com/peterstace/simplefeatures/geom"
	"github.com/rotisserie/eris"
	"github.com/wroge/wgs84"
)

// GDA94 and GDA2020 sit on GRS80 and are taken as coincident with WGS84; the
// plate-motion offset is under two metres.
func gda() wgs84.Datum {
	return wgs84.Datum{Spheroid: wgs84.GRS80{}}
}

// utm plugs the simplefeatures UTM series into a wgs84 projected CRS. The
// series is fixed to the WGS84 ellipsoid, which differs from GRS80 by well
// under a millimetre at these scales.
type utm struct {
	p *carto.UTM
}

func (u utm) ToLonLat(east, north float64, _ wgs84.Spheroid) (lon, lat float64) {
	ll := u.p.Reverse(sfgeom.XY{X: east, Y: north})
	return ll.X, ll.Y
}

func (u utm) FromLonLat(lon, lat float64, _ wgs84.Spheroid) (east, north float64) {
	xy := u.p.Forward(sfgeom.XY{X: lon, Y: lat})
	return xy.X, xy.Y
}

func utmCRS(d wgs84.Datum, zone int, south bool) (wgs84.ProjectedReferenceSystem, error) {
	hemi := "N"
	if south {
		hemi = "S"
	}
	p, err := carto.NewUTMFromCode(fmt.Sprintf("%02d%s", zone, hemi))
	if err != nil {
		return wgs84.ProjectedReferenceSystem{}, eris.Wrapf(err, "proj: utm zone %d%s", zone, hemi)
	}
	return wgs84.ProjectedReferenceSystem{Datum: d, Projection: utm{p: p}}, nil
}

var (
	repoOnce sync.Once
	repo     *wgs84.Repository
	repoErr  error
)

// registry returns the EPSG repository: the wgs84 defaults with every UTM
// zone rebound to the simplefeatures series, plus the Australian systems.
func registry() (*wgs84.Repository, error) {
	repoOnce.Do(func() {
		r := wgs84.EPSG()
		add := func(code int, d wgs84.Datum, zone int, south bool) {
			if repoErr != nil {
				return
			}
			crs, err := utmCRS(d, zone, south)
			if err != nil {
				repoErr = err
				return
			}
			r.Add(code, crs)
		}
		for zone := 1; zone <= 60; zone++ {
			add(32600+zone, wgs84.WGS84(), zone, false)
			add(32700+zone, wgs84.WGS84(), zone, true)
		}
		// GDA94 / MGA zones 48-58 and GDA2020 / MGA zones 46-59.
		for zone := 48; zone <= 58; zone++ {
			add(28300+zone, gda(), zone, true)
		}
		for zone := 46; zone <= 59; zone++ {
			add(7800+zone, gda(), zone, true)
		}

		r.Add(4283, gda().LonLat())
		r.Add(7844, gda().LonLat())
		// Vicgrid94 and Vicgrid2020 share their conic parameters.
		vicgrid := gda().LambertConformalConic2SP(145, -37, -36, -38, 2500000, 2500000)
		r.Add(3111, vicgrid)
		r.Add(7899, vicgrid)
		r.Add(900913, wgs84.WebMercator())
		repo = r
	})
	return repo, repoErr
}

// Lookup returns the CRS registered under an EPSG code.
func Lookup(code int) (wgs84.CoordinateReferenceSystem, error) {
	r, err := registry()
	if err != nil {
		return nil, err
	}
	crs, err := r.SafeCode(code)
	if err != nil || crs == nil {
		return nil, eris.Errorf("proj: unsupported CRS EPSG:%d", code)
	}
	return crs, nil
}

// IsGeographic reports whether code is a supported longitude/latitude CRS.
func IsGeographic(code int) bool {
	crs, err := Lookup(code)
	if err != nil {
		return false
	}
	_, ok := crs.(wgs84.GeographicReferenceSystem)
	return ok
}

// shiftless reports whether crs is geographic on a datum with no Helmert
// shift, i.e. its degrees are WGS84 degrees.
func shiftless(crs wgs84.CoordinateReferenceSystem) bool {
	g, ok := crs.(wgs84.GeographicReferenceSystem)
	return ok && g.Datum.Transformation == nil
}

// UTMZone returns the 6° UTM zone number containing lon.
func UTMZone(lon float64) int {
	lon = math.Mod(lon+180, 360)
	if lon < 0 {
		lon += 360
	}
	z := int(lon/6) + 1
	if z > 60 {
		z = 60
	}
	return z
}

// UTMEPSG returns the WGS84 / UTM EPSG code for the zone containing the point
// (326xx north of the equator, 327xx south).
func UTMEPSG(lon, lat float64) int {
	if lat < 0 {
		return 32700 + UTMZone(lon)
	}
	return 32600 + UTMZone(lon)
}
