package geotable

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// CRS identifies a coordinate reference system by EPSG code. The zero value
// means "unset"; loaders treat unset as WGS84.
type CRS struct {
	EPSG int
}

// EPSG codes used across the pipeline.
const (
	EPSGWGS84       = 4326
	EPSGGDA94       = 4283
	EPSGGDA2020     = 7844
	EPSGWebMercator = 3857
)

// WGS84 is geographic longitude/latitude in degrees.
var WGS84 = CRS{EPSG: EPSGWGS84}

// IsSet reports whether the CRS carries a code.
func (c CRS) IsSet() bool { return c.EPSG != 0 }

// OrWGS84 returns c, or WGS84 when c is unset.
func (c CRS) OrWGS84() CRS {
	if !c.IsSet() {
		return WGS84
	}
	return c
}

// String renders the CRS as an authority string, e.g. "EPSG:4326".
func (c CRS) String() string {
	if !c.IsSet() {
		return ""
	}
	return fmt.Sprintf("EPSG:%d", c.EPSG)
}

// ParseCRS accepts "EPSG:4326", "epsg:4326", "urn:ogc:def:crs:EPSG::4326",
// "OGC:CRS84" or a bare code.
func ParseCRS(s string) (CRS, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CRS{}, nil
	}
	upper := strings.ToUpper(s)
	if upper == "OGC:CRS84" || strings.HasSuffix(upper, "CRS84") {
		return WGS84, nil
	}
	if i := strings.LastIndex(upper, ":"); i >= 0 {
		upper = upper[i+1:]
	}
	code, err := strconv.Atoi(upper)
	if err != nil || code <= 0 {
		return CRS{}, eris.Errorf("geotable: unrecognised CRS %q", s)
	}
	return CRS{EPSG: code}, nil
}
