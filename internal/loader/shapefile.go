package loader

import (
	"os"
	"regexp"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/vicmaps/internal/geotable"
	"github.com/sells-group/vicmaps/internal/tabular"
)

// loadShapefile reads a .shp with its .dbf attributes. The CRS comes from
// the sidecar .prj when it names a projection we know.
func loadShapefile(src *source) (*geotable.Table, error) {
	reader, err := shp.Open(src.path)
	if err != nil {
		return nil, eris.Wrapf(err, "loader: open shapefile %s", src.path)
	}
	defer func() { _ = reader.Close() }()

	fields := reader.Fields()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = strings.TrimRight(f.String(), "\x00")
	}

	t := geotable.New(prjCRS(src.path), names)
	var skipped int
	for reader.Next() {
		_, shape := reader.Shape()
		g := shapeGeometry(shape)
		if g == nil {
			skipped++
			continue
		}
		attrs := make(map[string]any, len(names))
		for i, name := range names {
			val := strings.TrimSpace(strings.TrimRight(reader.Attribute(i), "\x00"))
			attrs[name] = tabular.Infer(val)
		}
		t.Append(attrs, g)
	}
	if skipped > 0 {
		zap.L().Debug("loader: skipped empty or unsupported shapefile records",
			zap.String("path", src.path),
			zap.Int("skipped", skipped),
		)
	}
	return t, nil
}

// shapeGeometry converts a go-shp shape. Unsupported or empty shapes give nil.
func shapeGeometry(shape shp.Shape) geom.T {
	switch s := shape.(type) {
	case *shp.Point:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.PointZ:
		return geom.NewPointFlat(geom.XY, []float64{s.X, s.Y})
	case *shp.MultiPoint:
		if len(s.Points) == 0 {
			return nil
		}
		return geom.NewMultiPointFlat(geom.XY, pointsFlat(s.Points))
	case *shp.PolyLine:
		return partsToMultiLineString(s.Parts, s.Points)
	case *shp.PolyLineZ:
		return partsToMultiLineString(s.Parts, s.Points)
	case *shp.Polygon:
		return partsToMultiPolygon(s.Parts, s.Points)
	case *shp.PolygonZ:
		return partsToMultiPolygon(s.Parts, s.Points)
	}
	return nil
}

// partRanges splits a shapefile point array by its part start offsets.
func partRanges(parts []int32, n int) [][2]int {
	out := make([][2]int, 0, len(parts))
	for i, start := range parts {
		end := n
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if int(start) < end && end <= n {
			out = append(out, [2]int{int(start), end})
		}
	}
	return out
}

func pointsFlat(pts []shp.Point) []float64 {
	flat := make([]float64, 0, len(pts)*2)
	for _, p := range pts {
		flat = append(flat, p.X, p.Y)
	}
	return flat
}

func partsToMultiLineString(parts []int32, pts []shp.Point) geom.T {
	var flat []float64
	var ends []int
	for _, r := range partRanges(parts, len(pts)) {
		if r[1]-r[0] < 2 {
			continue
		}
		flat = append(flat, pointsFlat(pts[r[0]:r[1]])...)
		ends = append(ends, len(flat))
	}
	if len(ends) == 0 {
		return nil
	}
	return geom.NewMultiLineStringFlat(geom.XY, flat, ends)
}

// partsToMultiPolygon groups rings into polygons. Shapefile outer rings run
// clockwise and holes counter-clockwise; a hole belongs to the preceding
// outer ring.
func partsToMultiPolygon(parts []int32, pts []shp.Point) geom.T {
	var flat []float64
	var endss [][]int
	for _, r := range partRanges(parts, len(pts)) {
		ring := pts[r[0]:r[1]]
		if len(ring) < 4 {
			continue
		}
		hole := signedArea(ring) > 0
		flat = append(flat, pointsFlat(ring)...)
		if hole && len(endss) > 0 {
			last := len(endss) - 1
			endss[last] = append(endss[last], len(flat))
			continue
		}
		endss = append(endss, []int{len(flat)})
	}
	if len(endss) == 0 {
		return nil
	}
	return geom.NewMultiPolygonFlat(geom.XY, flat, endss)
}

// signedArea is positive for counter-clockwise rings.
func signedArea(ring []shp.Point) float64 {
	var a float64
	for i := 0; i+1 < len(ring); i++ {
		a += ring[i].X*ring[i+1].Y - ring[i+1].X*ring[i].Y
	}
	return a / 2
}

var (
	mgaZone    = regexp.MustCompile(`(?i)MGA[_ ]?(?:zone[_ ]?)?(\d{2})`)
	utmSouth   = regexp.MustCompile(`(?i)WGS[_ ]?(?:19)?84[_ /]*UTM[_ ]?zone[_ ]?(\d{1,2})([NS])`)
	prjAuthID  = regexp.MustCompile(`(?i)AUTHORITY\["EPSG",\s*"?(\d+)"?\]\s*\]\s*$`)
	gda2020Tag = regexp.MustCompile(`(?i)GDA[_ ]?2020`)
)

// prjCRS maps the WKT in a shapefile's .prj to an EPSG code. Unknown or
// missing .prj files leave the CRS unset, which the loader reads as WGS84.
func prjCRS(shpPath string) geotable.CRS {
	prjPath := strings.TrimSuffix(shpPath, ".shp") + ".prj"
	b, err := os.ReadFile(prjPath)
	if err != nil {
		return geotable.CRS{}
	}
	return wktCRS(string(b))
}

func wktCRS(wkt string) geotable.CRS {
	wkt = strings.TrimSpace(wkt)
	if m := prjAuthID.FindStringSubmatch(wkt); m != nil {
		if c, err := geotable.ParseCRS("EPSG:" + m[1]); err == nil {
			return c
		}
	}

	upper := strings.ToUpper(wkt)
	projected := strings.HasPrefix(upper, "PROJCS") || strings.HasPrefix(upper, "PROJCRS")
	gda2020 := gda2020Tag.MatchString(wkt)

	switch {
	case projected && strings.Contains(upper, "VICGRID"):
		if gda2020 || strings.Contains(upper, "VICGRID2020") {
			return geotable.CRS{EPSG: 7899}
		}
		return geotable.CRS{EPSG: 3111}
	case projected && mgaZone.MatchString(wkt):
		zone := mgaZone.FindStringSubmatch(wkt)[1]
		c, _ := geotable.ParseCRS(zonePrefix(gda2020) + zone)
		return c
	case projected && utmSouth.MatchString(wkt):
		m := utmSouth.FindStringSubmatch(wkt)
		prefix := "EPSG:326"
		if strings.EqualFold(m[2], "S") {
			prefix = "EPSG:327"
		}
		if len(m[1]) == 1 {
			prefix += "0"
		}
		c, _ := geotable.ParseCRS(prefix + m[1])
		return c
	case projected && strings.Contains(upper, "MERCATOR_AUXILIARY_SPHERE"),
		projected && strings.Contains(upper, "PSEUDO-MERCATOR"):
		return geotable.CRS{EPSG: geotable.EPSGWebMercator}
	case projected:
		return geotable.CRS{}
	case gda2020:
		return geotable.CRS{EPSG: geotable.EPSGGDA2020}
	case strings.Contains(upper, "GDA_1994") || strings.Contains(upper, "GDA94"):
		return geotable.CRS{EPSG: geotable.EPSGGDA94}
	}
	return geotable.WGS84
}

func zonePrefix(gda2020 bool) string {
	if gda2020 {
		return "EPSG:78"
	}
	return "EPSG:283"
}
