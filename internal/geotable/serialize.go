package geotable

import (
	"database/sql/driver"
	"encoding/json"
	"math"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
)

// Serialize converts t into a GeoJSON FeatureCollection. Every attribute
// column becomes a property, coerced with CoerceValue. An empty table yields a
// collection with an empty (non-null) features array.
func Serialize(t *Table) *geojson.FeatureCollection {
	fc := &geojson.FeatureCollection{Features: []*geojson.Feature{}}
	if t == nil {
		return fc
	}
	for _, r := range t.Rows {
		props := make(map[string]any, len(t.Columns))
		for _, c := range t.Columns {
			props[c] = CoerceValue(r.Attrs[c])
		}
		fc.Features = append(fc.Features, &geojson.Feature{
			Geometry:   r.Geom,
			Properties: props,
		})
	}
	return fc
}

// MarshalFeatureCollection serialises t straight to GeoJSON bytes.
func MarshalFeatureCollection(t *Table) ([]byte, error) {
	data, err := json.Marshal(Serialize(t))
	if err != nil {
		return nil, eris.Wrap(err, "geotable: marshal feature collection")
	}
	return data, nil
}

// CoerceValue makes an attribute value JSON-safe: missing and not-a-number
// become nil, wrapper types become their plain scalar, timestamps become
// ISO-8601 strings. Anything else passes through unchanged.
func CoerceValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		return x
	case float32:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		if x > math.MaxInt64 {
			return float64(x)
		}
		return int64(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return CoerceValue(f)
		}
		return x.String()
	case time.Time:
		if x.IsZero() {
			return nil
		}
		return x.Format(time.RFC3339Nano)
	case *time.Time:
		if x == nil {
			return nil
		}
		return CoerceValue(*x)
	case driver.Valuer:
		inner, err := x.Value()
		if err != nil {
			return nil
		}
		return CoerceValue(inner)
	default:
		return v
	}
}
