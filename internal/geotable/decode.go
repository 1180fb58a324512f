package geotable

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/encoding/wkb"
	"go.uber.org/zap"
)

// Encoding names the representation of a source geometry column.
type Encoding int

const (
	EncodingUnknown Encoding = iota
	EncodingWKB
	EncodingGeoJSON
	EncodingTypeCoords
)

func (e Encoding) String() string {
	switch e {
	case EncodingWKB:
		return "wkb"
	case EncodingGeoJSON:
		return "geojson"
	case EncodingTypeCoords:
		return "type+coordinates"
	default:
		return "unknown"
	}
}

// TypeCoords is the raw value of an explicit type + coordinates pair of columns.
// Coords is either JSON text or already-parsed nested slices.
type TypeCoords struct {
	Type   string
	Coords any
}

// DecodeGeometry decodes one raw geometry value according to enc.
func DecodeGeometry(raw any, enc Encoding) (geom.T, error) {
	switch enc {
	case EncodingWKB:
		return DecodeWKB(raw)
	case EncodingGeoJSON:
		return DecodeGeoJSON(raw)
	case EncodingTypeCoords:
		tc, ok := raw.(TypeCoords)
		if !ok {
			return nil, eris.Errorf("geotable: expected TypeCoords, got %T", raw)
		}
		return DecodeTypeCoords(tc.Type, tc.Coords)
	default:
		return nil, eris.Errorf("geotable: unknown encoding %d", enc)
	}
}

// DecodeWKB decodes well-known-binary bytes (or their hex text). EWKB with an
// embedded SRID is accepted.
func DecodeWKB(raw any) (geom.T, error) {
	var data []byte
	switch v := raw.(type) {
	case []byte:
		data = v
	case string:
		b, err := hex.DecodeString(strings.TrimSpace(v))
		if err != nil {
			return nil, eris.Wrap(err, "geotable: decode wkb hex")
		}
		data = b
	default:
		return nil, eris.Errorf("geotable: wkb value has type %T", raw)
	}
	if len(data) == 0 {
		return nil, eris.New("geotable: empty wkb value")
	}
	g, err := wkb.Unmarshal(data)
	if err == nil {
		return g, nil
	}
	g, eerr := ewkb.Unmarshal(data)
	if eerr != nil {
		return nil, eris.Wrap(err, "geotable: decode wkb")
	}
	return g, nil
}

// DecodeGeoJSON decodes a GeoJSON geometry given as text, bytes or a parsed
// object. A Feature object yields its geometry member.
func DecodeGeoJSON(raw any) (geom.T, error) {
	var data []byte
	switch v := raw.(type) {
	case string:
		data = []byte(strings.TrimSpace(v))
	case []byte:
		data = v
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, eris.Wrap(err, "geotable: re-encode geojson object")
		}
		data = b
	default:
		return nil, eris.Errorf("geotable: geojson value has type %T", raw)
	}
	if len(data) == 0 || data[0] != '{' {
		return nil, eris.New("geotable: geojson value is not an object")
	}

	var head struct {
		Type     string          `json:"type"`
		Geometry json.RawMessage `json:"geometry"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, eris.Wrap(err, "geotable: parse geojson")
	}
	if head.Type == "" {
		return nil, eris.New("geotable: geojson object has no type")
	}
	if head.Type == "Feature" {
		data = head.Geometry
	}

	var g geom.T
	if err := geojson.Unmarshal(data, &g); err != nil {
		return nil, eris.Wrap(err, "geotable: decode geojson geometry")
	}
	if g == nil {
		return nil, eris.New("geotable: null geojson geometry")
	}
	return g, nil
}

// DecodeTypeCoords builds a geometry from an explicit type name and a nested
// coordinate array. MultiLineString parts are assembled one LineString at a
// time so ragged part lengths never trip generic shape construction.
func DecodeTypeCoords(typ string, coords any) (geom.T, error) {
	if s, ok := coords.(string); ok {
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			return nil, eris.Wrap(err, "geotable: parse coordinates text")
		}
		coords = parsed
	}

	switch normalizeGeomType(typ) {
	case "point":
		c, err := toCoord(coords)
		if err != nil {
			return nil, err
		}
		return geom.NewPointFlat(layoutOf(len(c)), c), nil
	case "linestring":
		cs, err := toCoords1(coords)
		if err != nil {
			return nil, err
		}
		return geom.NewLineString(layoutOf(stride1(cs))).SetCoords(cs)
	case "polygon":
		cs, err := toCoords2(coords)
		if err != nil {
			return nil, err
		}
		return geom.NewPolygon(layoutOf(stride2(cs))).SetCoords(cs)
	case "multipoint":
		cs, err := toCoords1(coords)
		if err != nil {
			return nil, err
		}
		return geom.NewMultiPoint(layoutOf(stride1(cs))).SetCoords(cs)
	case "multilinestring":
		parts, err := toCoords2(coords)
		if err != nil {
			return nil, err
		}
		mls := geom.NewMultiLineString(layoutOf(stride2(parts)))
		for i, part := range parts {
			ls, err := geom.NewLineString(mls.Layout()).SetCoords(part)
			if err != nil {
				return nil, eris.Wrapf(err, "geotable: multilinestring part %d", i)
			}
			if err := mls.Push(ls); err != nil {
				return nil, eris.Wrapf(err, "geotable: multilinestring part %d", i)
			}
		}
		return mls, nil
	case "multipolygon":
		cs, err := toCoords3(coords)
		if err != nil {
			return nil, err
		}
		layout := geom.XY
		for _, p := range cs {
			if s := stride2(p); s > 0 {
				layout = layoutOf(s)
				break
			}
		}
		return geom.NewMultiPolygon(layout).SetCoords(cs)
	default:
		return nil, eris.Errorf("geotable: unsupported geometry type %q", typ)
	}
}

func normalizeGeomType(s string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), "_", ""))
}

func layoutOf(stride int) geom.Layout {
	switch stride {
	case 3:
		return geom.XYZ
	case 4:
		return geom.XYZM
	default:
		return geom.XY
	}
}

func stride1(cs []geom.Coord) int {
	if len(cs) == 0 {
		return 2
	}
	return len(cs[0])
}

func stride2(cs [][]geom.Coord) int {
	for _, c := range cs {
		if len(c) > 0 {
			return len(c[0])
		}
	}
	return 2
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, eris.Errorf("geotable: coordinate value has type %T", v)
	}
}

func toCoord(v any) (geom.Coord, error) {
	switch c := v.(type) {
	case []float64:
		if len(c) < 2 || len(c) > 4 {
			return nil, eris.Errorf("geotable: coordinate has %d values", len(c))
		}
		return geom.Coord(c), nil
	case []any:
		if len(c) < 2 || len(c) > 4 {
			return nil, eris.Errorf("geotable: coordinate has %d values", len(c))
		}
		out := make(geom.Coord, len(c))
		for i, x := range c {
			f, err := toFloat(x)
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, eris.Errorf("geotable: coordinate has type %T", v)
	}
}

func toCoords1(v any) ([]geom.Coord, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, eris.Errorf("geotable: expected coordinate list, got %T", v)
	}
	out := make([]geom.Coord, 0, len(items))
	for _, it := range items {
		c, err := toCoord(it)
		if err != nil {
			return nil, err
		}
		if len(out) > 0 && len(c) != len(out[0]) {
			return nil, eris.New("geotable: mixed coordinate dimensions")
		}
		out = append(out, c)
	}
	return out, nil
}

func toCoords2(v any) ([][]geom.Coord, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, eris.Errorf("geotable: expected nested coordinate list, got %T", v)
	}
	out := make([][]geom.Coord, 0, len(items))
	for _, it := range items {
		cs, err := toCoords1(it)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, nil
}

func toCoords3(v any) ([][][]geom.Coord, error) {
	items, ok := v.([]any)
	if !ok {
		return nil, eris.Errorf("geotable: expected polygon list, got %T", v)
	}
	out := make([][][]geom.Coord, 0, len(items))
	for _, it := range items {
		cs, err := toCoords2(it)
		if err != nil {
			return nil, err
		}
		out = append(out, cs)
	}
	return out, nil
}

// RawRows is a loaded attribute table whose geometry has not been decoded yet.
type RawRows struct {
	Source  string
	CRS     CRS
	Columns []string
	Rows    []map[string]any
}

// Strategy is one way of turning RawRows into a Table. Strategies are tried in
// order by DecodeRows; the first to succeed wins.
type Strategy struct {
	Name   string
	Decode func(raw RawRows) (*Table, error)
}

// errNotApplicable marks a strategy that found no matching columns.
var errNotApplicable = errors.New("strategy not applicable")

// Column names recognised as geometry holders, lower-case.
var (
	wkbColumnNames     = []string{"geometry", "geom", "wkb_geometry", "the_geom", "wkb", "shape"}
	geojsonColumnNames = []string{"geometry", "geom", "geojson", "geo_shape", "shape", "the_geom"}
	typeColumnNames    = []string{"type", "geometry_type", "geom_type", "geometrytype"}
	coordsColumnNames  = []string{"coordinates", "coords", "geometry_coordinates"}
)

// GeometryStrategies returns the default ordered decoder strategies: WKB
// column, GeoJSON column, then explicit type + coordinates columns.
func GeometryStrategies() []Strategy {
	return []Strategy{
		{Name: "wkb", Decode: decodeSingleColumn(EncodingWKB, wkbColumnNames, looksLikeWKB)},
		{Name: "geojson", Decode: decodeSingleColumn(EncodingGeoJSON, geojsonColumnNames, looksLikeGeoJSON)},
		{Name: "type+coordinates", Decode: decodeTypeCoordColumns},
	}
}

// ColumnStrategy decodes the named column with a fixed encoding, for sources
// whose metadata already says where the geometry lives.
func ColumnStrategy(col string, enc Encoding) Strategy {
	return Strategy{
		Name: fmt.Sprintf("%s column %q", enc, col),
		Decode: func(raw RawRows) (*Table, error) {
			found := false
			for _, c := range raw.Columns {
				found = found || c == col
			}
			if !found {
				return nil, errNotApplicable
			}
			return buildTable(raw, []string{col}, func(r map[string]any) (geom.T, error) {
				if r[col] == nil {
					return nil, nil
				}
				return DecodeGeometry(r[col], enc)
			})
		},
	}
}

// DecodeRows runs strategies in order. If none applies or all fail, the
// result is a FormatError and no partial table is returned.
func DecodeRows(raw RawRows, strategies []Strategy) (*Table, error) {
	var failures []string
	for _, s := range strategies {
		t, err := s.Decode(raw)
		if err == nil {
			zap.L().Debug("geotable: decoded geometry",
				zap.String("source", raw.Source),
				zap.String("strategy", s.Name),
				zap.Int("rows", t.Len()),
			)
			return t, nil
		}
		failures = append(failures, fmt.Sprintf("%s: %v", s.Name, err))
	}
	return nil, &FormatError{Source: raw.Source, Err: errors.New(strings.Join(failures, "; "))}
}

func findColumn(columns []string, names []string, accept func(col string) bool) (string, bool) {
	for _, want := range names {
		for _, c := range columns {
			if strings.EqualFold(strings.TrimSpace(c), want) && accept(c) {
				return c, true
			}
		}
	}
	return "", false
}

func firstNonNil(rows []map[string]any, col string) any {
	for _, r := range rows {
		if v := r[col]; v != nil {
			return v
		}
	}
	return nil
}

func looksLikeWKB(v any) bool {
	switch b := v.(type) {
	case []byte:
		return len(b) > 0 && (b[0] == 0 || b[0] == 1)
	case string:
		s := strings.TrimSpace(b)
		return len(s) >= 10 && (strings.HasPrefix(s, "00") || strings.HasPrefix(s, "01")) && isHex(s)
	}
	return false
}

func looksLikeGeoJSON(v any) bool {
	switch s := v.(type) {
	case string:
		return strings.HasPrefix(strings.TrimSpace(s), "{")
	case []byte:
		return len(s) > 0 && s[0] == '{'
	case map[string]any:
		return true
	}
	return false
}

func isHex(s string) bool {
	for _, r := range s {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return false
		}
	}
	return true
}

func decodeSingleColumn(enc Encoding, names []string, looks func(any) bool) func(RawRows) (*Table, error) {
	return func(raw RawRows) (*Table, error) {
		col, ok := findColumn(raw.Columns, names, func(c string) bool {
			return looks(firstNonNil(raw.Rows, c))
		})
		if !ok {
			return nil, errNotApplicable
		}
		return buildTable(raw, []string{col}, func(r map[string]any) (geom.T, error) {
			v := r[col]
			if v == nil {
				return nil, nil
			}
			return DecodeGeometry(v, enc)
		})
	}
}

func decodeTypeCoordColumns(raw RawRows) (*Table, error) {
	acceptAll := func(string) bool { return true }
	typeCol, ok := findColumn(raw.Columns, typeColumnNames, acceptAll)
	if !ok {
		return nil, errNotApplicable
	}
	coordCol, ok := findColumn(raw.Columns, coordsColumnNames, acceptAll)
	if !ok {
		return nil, errNotApplicable
	}
	return buildTable(raw, []string{typeCol, coordCol}, func(r map[string]any) (geom.T, error) {
		typ, _ := r[typeCol].(string)
		coords := r[coordCol]
		if typ == "" || coords == nil {
			return nil, nil
		}
		return DecodeGeometry(TypeCoords{Type: typ, Coords: coords}, EncodingTypeCoords)
	})
}

// buildTable decodes every row; any decode failure fails the whole strategy.
// Rows whose geometry value is null are dropped.
func buildTable(raw RawRows, geomCols []string, decode func(map[string]any) (geom.T, error)) (*Table, error) {
	attrCols := make([]string, 0, len(raw.Columns))
	for _, c := range raw.Columns {
		skip := false
		for _, g := range geomCols {
			if c == g {
				skip = true
			}
		}
		if !skip {
			attrCols = append(attrCols, c)
		}
	}

	t := New(raw.CRS, attrCols)
	var nulls int
	for i, r := range raw.Rows {
		g, err := decode(r)
		if err != nil {
			return nil, eris.Wrapf(err, "row %d", i)
		}
		if g == nil {
			nulls++
			continue
		}
		attrs := make(map[string]any, len(attrCols))
		for _, c := range attrCols {
			attrs[c] = r[c]
		}
		t.Append(attrs, g)
	}
	if nulls > 0 {
		zap.L().Warn("geotable: dropped rows with null geometry",
			zap.String("source", raw.Source),
			zap.Int("dropped", nulls),
		)
	}
	if raw.CRS.IsSet() {
		return t, nil
	}
	if srid := firstSRID(t); srid != 0 {
		t.CRS = CRS{EPSG: srid}
	}
	return t, nil
}

func firstSRID(t *Table) int {
	for _, r := range t.Rows {
		if srid := r.Geom.SRID(); srid != 0 {
			return srid
		}
	}
	return 0
}
