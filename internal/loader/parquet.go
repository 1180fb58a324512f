package loader

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/apache/arrow/go/v11/arrow"
	"github.com/apache/arrow/go/v11/arrow/array"
	"github.com/apache/arrow/go/v11/arrow/memory"
	"github.com/apache/arrow/go/v11/parquet/file"
	"github.com/apache/arrow/go/v11/parquet/pqarrow"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vicmaps/internal/geotable"
)

// geoMetadataKey is the GeoParquet file metadata key.
const geoMetadataKey = "geo"

var errNotGeoParquet = eris.New("loader: no GeoParquet metadata")

// parquetData is a parquet file materialised as attribute rows plus the raw
// GeoParquet metadata document, if any.
type parquetData struct {
	raw geotable.RawRows
	geo string
}

// geoMetadata is the subset of the GeoParquet "geo" document we use.
type geoMetadata struct {
	PrimaryColumn string                       `json:"primary_column"`
	Columns       map[string]geoColumnMetadata `json:"columns"`
}

type geoColumnMetadata struct {
	Encoding string          `json:"encoding"`
	CRS      json.RawMessage `json:"crs"`
}

func readParquet(ctx context.Context, path string) (*parquetData, error) {
	rdr, err := file.OpenParquetFile(path, false)
	if err != nil {
		return nil, eris.Wrap(err, "loader: open parquet")
	}
	defer rdr.Close() //nolint:errcheck

	out := &parquetData{raw: geotable.RawRows{Source: path}}
	if v := rdr.MetaData().KeyValueMetadata().FindValue(geoMetadataKey); v != nil {
		out.geo = *v
	}

	fr, err := pqarrow.NewFileReader(rdr, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	if err != nil {
		return nil, eris.Wrap(err, "loader: arrow reader")
	}
	tbl, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "loader: read parquet table")
	}
	defer tbl.Release()

	if out.geo == "" {
		md := tbl.Schema().Metadata()
		if i := md.FindKey(geoMetadataKey); i >= 0 {
			out.geo = md.Values()[i]
		}
	}

	rows := make([]map[string]any, tbl.NumRows())
	for i := range rows {
		rows[i] = make(map[string]any, tbl.NumCols())
	}
	unsupported := map[string]string{}
	for c := 0; c < int(tbl.NumCols()); c++ {
		name := tbl.Schema().Field(c).Name
		out.raw.Columns = append(out.raw.Columns, name)
		offset := 0
		for _, chunk := range tbl.Column(c).Data().Chunks() {
			for i := 0; i < chunk.Len(); i++ {
				v, ok := arrowValue(chunk, i)
				if !ok {
					unsupported[name] = chunk.DataType().Name()
				}
				rows[offset+i][name] = v
			}
			offset += chunk.Len()
		}
	}
	for col, typ := range unsupported {
		zap.L().Warn("loader: parquet column type not supported, values read as null",
			zap.String("column", col),
			zap.String("type", typ),
		)
	}
	out.raw.Rows = rows
	return out, nil
}

// arrowValue converts one cell to a plain Go value. Byte slices are copied
// because the table's buffers are released after reading.
func arrowValue(arr arrow.Array, i int) (any, bool) {
	if arr.IsNull(i) {
		return nil, true
	}
	switch a := arr.(type) {
	case *array.Binary:
		return append([]byte(nil), a.Value(i)...), true
	case *array.String:
		return a.Value(i), true
	case *array.Boolean:
		return a.Value(i), true
	case *array.Int8:
		return int64(a.Value(i)), true
	case *array.Int16:
		return int64(a.Value(i)), true
	case *array.Int32:
		return int64(a.Value(i)), true
	case *array.Int64:
		return a.Value(i), true
	case *array.Uint8:
		return int64(a.Value(i)), true
	case *array.Uint16:
		return int64(a.Value(i)), true
	case *array.Uint32:
		return int64(a.Value(i)), true
	case *array.Uint64:
		return int64(a.Value(i)), true
	case *array.Float32:
		return float64(a.Value(i)), true
	case *array.Float64:
		return a.Value(i), true
	case *array.Timestamp:
		unit := a.DataType().(*arrow.TimestampType).Unit
		return a.Value(i).ToTime(unit), true
	case *array.Date32:
		return a.Value(i).ToTime(), true
	}
	return nil, false
}

// loadGeoParquet decodes the primary geometry column named by the GeoParquet
// metadata, taking the CRS from the same document.
func loadGeoParquet(src *source) (*geotable.Table, error) {
	pq, err := src.parquet()
	if err != nil {
		return nil, err
	}
	if pq.geo == "" {
		return nil, errNotGeoParquet
	}

	var meta geoMetadata
	if err := json.Unmarshal([]byte(pq.geo), &meta); err != nil {
		return nil, eris.Wrap(err, "loader: parse GeoParquet metadata")
	}
	col := meta.PrimaryColumn
	if col == "" {
		col = "geometry"
	}
	cm := meta.Columns[col]
	if cm.Encoding != "" && !strings.EqualFold(cm.Encoding, "WKB") {
		return nil, eris.Errorf("loader: GeoParquet encoding %q not supported", cm.Encoding)
	}
	crs, err := geoParquetCRS(cm.CRS)
	if err != nil {
		return nil, err
	}

	raw := pq.raw
	raw.CRS = crs
	return geotable.DecodeRows(raw, []geotable.Strategy{geotable.ColumnStrategy(col, geotable.EncodingWKB)})
}

// loadParquet is the generic columnar path: geometry is found by the decoder's
// column detection and the CRS comes from EWKB SRIDs when present.
func loadParquet(src *source) (*geotable.Table, error) {
	pq, err := src.parquet()
	if err != nil {
		return nil, err
	}
	return geotable.DecodeRows(pq.raw, geotable.GeometryStrategies())
}

// geoParquetCRS reads a GeoParquet column CRS: absent or null means
// OGC:CRS84, a string is parsed as an identifier, and a PROJJSON object is
// resolved through its id member.
func geoParquetCRS(raw json.RawMessage) (geotable.CRS, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return geotable.WGS84, nil
	}
	if strings.HasPrefix(s, `"`) {
		var name string
		if err := json.Unmarshal(raw, &name); err != nil {
			return geotable.CRS{}, eris.Wrap(err, "loader: parse GeoParquet crs")
		}
		return geotable.ParseCRS(name)
	}

	var pj struct {
		ID *struct {
			Authority string          `json:"authority"`
			Code      json.RawMessage `json:"code"`
		} `json:"id"`
	}
	if err := json.Unmarshal(raw, &pj); err != nil {
		return geotable.CRS{}, eris.Wrap(err, "loader: parse GeoParquet PROJJSON")
	}
	if pj.ID == nil {
		return geotable.CRS{}, eris.New("loader: PROJJSON crs has no id")
	}
	code := strings.Trim(string(pj.ID.Code), `"`)
	if strings.EqualFold(pj.ID.Authority, "OGC") && strings.EqualFold(code, "CRS84") {
		return geotable.WGS84, nil
	}
	if !strings.EqualFold(pj.ID.Authority, "EPSG") {
		return geotable.CRS{}, eris.Errorf("loader: crs authority %q not supported", pj.ID.Authority)
	}
	n, err := strconv.Atoi(code)
	if err != nil {
		return geotable.CRS{}, eris.Wrapf(err, "loader: crs code %q", code)
	}
	return geotable.CRS{EPSG: n}, nil
}
