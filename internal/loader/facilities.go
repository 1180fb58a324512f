package loader

import (
	"context"
	"math"
	"strconv"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"go.uber.org/zap"

	"github.com/sells-group/vicmaps/internal/geotable"
	"github.com/sells-group/vicmaps/internal/tabular"
)

// LoadFacilities loads the facilities point dataset from the first sheet of
// an xlsx workbook, or from a csv file. A missing file yields an empty WGS84
// table. Missing coordinate columns are a SchemaError.
func LoadFacilities(ctx context.Context, path string, aliases Aliases) (*geotable.Table, error) {
	if missing(path) {
		zap.L().Warn("loader: facilities dataset absent, serving empty table", zap.String("path", path))
		return geotable.Empty(), nil
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "loader: facilities")
	}

	frame, err := tabular.ReadFile(path, tabular.Options{})
	if err != nil {
		return nil, eris.Wrap(err, "loader: read facilities")
	}
	t, err := FacilitiesTable(path, frame, aliases)
	if err != nil {
		return nil, err
	}
	zap.L().Info("loader: facilities loaded",
		zap.String("path", path),
		zap.Int("rows", t.Len()),
	)
	return t, nil
}

// FacilitiesTable builds the facilities table from an already-read frame.
// Rows whose coordinates do not parse are dropped, duplicates are removed by
// id, else name, else coordinate pair, and the name and LGA columns are
// renamed to their canonical spellings.
func FacilitiesTable(source string, frame *tabular.Frame, aliases Aliases) (*geotable.Table, error) {
	latCol, okLat := frame.Find(aliases.Latitude...)
	lonCol, okLon := frame.Find(aliases.Longitude...)
	if !okLat || !okLon {
		var absent []string
		if !okLat {
			absent = append(absent, "latitude")
		}
		if !okLon {
			absent = append(absent, "longitude")
		}
		return nil, &geotable.SchemaError{Source: source, Missing: absent}
	}

	idCol, hasID := frame.Find(aliases.ID...)
	nameCol, hasName := frame.Find(aliases.Name...)
	lgaCol, hasLGA := frame.Find(aliases.LGA...)
	latIdx, lonIdx := frame.Col(latCol), frame.Col(lonCol)

	t := geotable.New(geotable.WGS84, frame.Columns)
	seen := make(map[string]struct{}, frame.Len())
	var dropped, dupes int
	for i := range frame.Rows {
		lat, okA := parseCoord(frame.Value(i, latIdx))
		lon, okB := parseCoord(frame.Value(i, lonIdx))
		if !okA || !okB {
			dropped++
			continue
		}

		var key string
		switch {
		case hasID:
			key = "id\x00" + frame.Get(i, idCol)
		case hasName:
			key = "name\x00" + frame.Get(i, nameCol)
		default:
			key = strconv.FormatFloat(lat, 'g', -1, 64) + "," + strconv.FormatFloat(lon, 'g', -1, 64)
		}
		if _, dup := seen[key]; dup {
			dupes++
			continue
		}
		seen[key] = struct{}{}

		rec := frame.Record(i)
		rec[latCol] = lat
		rec[lonCol] = lon
		t.Append(rec, geom.NewPointFlat(geom.XY, []float64{lon, lat}).SetSRID(geotable.EPSGWGS84))
	}

	if hasName {
		t.Rename(nameCol, FacilityNameColumn)
	}
	if hasLGA {
		t.Rename(lgaCol, LGANameColumn)
	}
	if t.Len() > 0 {
		t.BuildIndex()
	}

	if dropped > 0 || dupes > 0 {
		zap.L().Info("loader: facilities rows removed",
			zap.String("source", source),
			zap.Int("unparsable_coordinates", dropped),
			zap.Int("duplicates", dupes),
		)
	}
	return t, nil
}

func parseCoord(s string) (float64, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}
