package loader

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vicmaps/internal/geotable"
)

type geojsonFeature struct {
	Type       string          `json:"type"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

type geojsonDocument struct {
	geojsonFeature
	Features []geojsonFeature `json:"features"`
	CRS      *struct {
		Properties struct {
			Name string `json:"name"`
		} `json:"properties"`
	} `json:"crs"`
}

// ReadGeoJSON reads a GeoJSON file holding a FeatureCollection, a single
// Feature or a bare geometry. Features with null geometry are skipped. A
// legacy "crs" member sets the table CRS; otherwise it is left unset.
func ReadGeoJSON(path string) (*geotable.Table, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "loader: read geojson")
	}
	return ParseGeoJSON(path, b)
}

// ParseGeoJSON is ReadGeoJSON over bytes already in memory. source names the
// data in errors and logs.
func ParseGeoJSON(source string, b []byte) (*geotable.Table, error) {
	var doc geojsonDocument
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, &geotable.FormatError{Source: source, Err: err}
	}

	var crs geotable.CRS
	if doc.CRS != nil {
		c, err := geotable.ParseCRS(doc.CRS.Properties.Name)
		if err != nil {
			return nil, err
		}
		crs = c
	}

	var features []geojsonFeature
	switch doc.Type {
	case "FeatureCollection":
		features = doc.Features
	case "Feature":
		features = []geojsonFeature{doc.geojsonFeature}
	case "":
		return nil, &geotable.FormatError{Source: source, Err: eris.New("missing GeoJSON type")}
	default:
		features = []geojsonFeature{{Geometry: json.RawMessage(b)}}
	}

	t := geotable.New(crs, nil)
	var nulls int
	for i, f := range features {
		raw := bytes.TrimSpace(f.Geometry)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			nulls++
			continue
		}
		g, err := geotable.DecodeGeoJSON([]byte(raw))
		if err != nil {
			return nil, &geotable.FormatError{Source: source, Err: eris.Wrapf(err, "feature %d", i)}
		}
		t.Append(f.Properties, g)
	}
	if nulls > 0 {
		zap.L().Debug("loader: skipped features without geometry",
			zap.String("source", source),
			zap.Int("skipped", nulls),
		)
	}
	return t, nil
}

func loadGeoJSON(src *source) (*geotable.Table, error) {
	return ReadGeoJSON(src.path)
}
