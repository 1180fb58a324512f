// Package loader reads the infrastructure (line/polygon) and facilities
// (point) datasets into WGS84 geo-tables with their spatial index built.
package loader

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vicmaps/internal/geotable"
	"github.com/sells-group/vicmaps/internal/proj"
)

// strategy is one way of reading an infrastructure file. Strategies are tried
// in order and the first success wins.
type strategy struct {
	name string
	exts []string
	load func(src *source) (*geotable.Table, error)
}

var infrastructureStrategies = []strategy{
	{name: "geoparquet", exts: []string{".parquet", ".geoparquet"}, load: loadGeoParquet},
	{name: "parquet", exts: []string{".parquet", ".geoparquet"}, load: loadParquet},
	{name: "shapefile", exts: []string{".shp"}, load: loadShapefile},
	{name: "geojson", exts: []string{".geojson", ".json"}, load: loadGeoJSON},
}

// source is the file being loaded. Parquet contents are read at most once and
// shared by the parquet strategies.
type source struct {
	ctx  context.Context
	path string

	pq     *parquetData
	pqErr  error
	pqRead bool
}

func (s *source) parquet() (*parquetData, error) {
	if !s.pqRead {
		s.pq, s.pqErr = readParquet(s.ctx, s.path)
		s.pqRead = true
	}
	return s.pq, s.pqErr
}

// LoadInfrastructure loads the line/polygon dataset at path. A missing file
// yields an empty WGS84 table. The result is always expressed in WGS84 with
// its index built; when no strategy can read the file a FormatError is
// returned and no partial table.
func LoadInfrastructure(ctx context.Context, path string) (*geotable.Table, error) {
	if missing(path) {
		zap.L().Warn("loader: infrastructure dataset absent, serving empty table", zap.String("path", path))
		return geotable.Empty(), nil
	}

	src := &source{ctx: ctx, path: path}
	ext := strings.ToLower(filepath.Ext(path))

	var failures []error
	for _, s := range infrastructureStrategies {
		if !slices.Contains(s.exts, ext) {
			continue
		}
		t, err := s.load(src)
		if err != nil {
			zap.L().Debug("loader: strategy failed",
				zap.String("strategy", s.name),
				zap.String("path", path),
				zap.Error(err),
			)
			failures = append(failures, eris.Wrap(err, s.name))
			continue
		}
		zap.L().Info("loader: infrastructure loaded",
			zap.String("strategy", s.name),
			zap.String("path", path),
			zap.Int("rows", t.Len()),
			zap.String("source_crs", t.CRS.OrWGS84().String()),
		)
		return toWGS84(t)
	}

	if len(failures) == 0 {
		failures = append(failures, eris.Errorf("no reader for %q files", ext))
	}
	return nil, &geotable.FormatError{Source: path, Err: errors.Join(failures...)}
}

// toWGS84 normalises t to WGS84 and builds its index.
func toWGS84(t *geotable.Table) (*geotable.Table, error) {
	out, err := proj.TransformTable(t, geotable.WGS84)
	if err != nil {
		return nil, eris.Wrap(err, "loader: normalise to WGS84")
	}
	if out.Len() > 0 && out.Index() == nil {
		out.BuildIndex()
	}
	return out, nil
}

func missing(path string) bool {
	if strings.TrimSpace(path) == "" {
		return true
	}
	_, err := os.Stat(path)
	return errors.Is(err, fs.ErrNotExist)
}
