package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"

	"github.com/sells-group/vicmaps/internal/app"
	"github.com/sells-group/vicmaps/internal/geotable"
	"github.com/sells-group/vicmaps/internal/loader"
	"github.com/sells-group/vicmaps/internal/tabular"
	"github.com/sells-group/vicmaps/pkg/anthropic"
)

func facilities(t *testing.T) *geotable.Table {
	t.Helper()
	frame := &tabular.Frame{
		Columns: []string{"Facility Name", "lat", "lon", "LGA"},
		Rows: [][]string{
			{"Cafe A", "-37.80", "144.96", "Melbourne"},
			{"Cafe B", "-38.50", "145.00", "Bass Coast"},
			{"Fitzroy Library", "-37.7990", "144.9780", "Yarra"},
		},
	}
	tbl, err := loader.FacilitiesTable("test", frame, loader.DefaultAliases())
	require.NoError(t, err)
	return tbl
}

func bikes() *geotable.Table {
	tbl := geotable.New(geotable.WGS84, []string{"name"})
	tbl.Append(map[string]any{"name": "through"},
		geom.NewLineStringFlat(geom.XY, []float64{144.90, -37.80, 145.02, -37.80}).SetSRID(4326))
	tbl.Append(map[string]any{"name": "far"},
		geom.NewLineStringFlat(geom.XY, []float64{146.0, -38.0, 146.1, -38.0}).SetSRID(4326))
	tbl.BuildIndex()
	return tbl
}

func write(t *testing.T, path, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func paths(t *testing.T) app.Paths {
	dir := t.TempDir()
	p := app.Paths{
		Permits: write(t, filepath.Join(dir, "permits.csv"),
			"site_postcode__c,BASIS_Building_Use,Reported_Cost_of_works\n3000,Domestic,100\n3000,Retail,300\n"),
		Postcodes: filepath.Join(dir, "postcodes"),
		Crime: write(t, filepath.Join(dir, "crime.csv"),
			"Local Government Area,Victim Reports\nMelbourne,10\nYarra,5\n"),
		Suburbs: write(t, filepath.Join(dir, "suburbs.csv"),
			"local_goverment_area,population,lat,lng,postcode\nMelbourne (C),100,-37.81,144.96,3000\n"),
	}
	write(t, filepath.Join(p.Postcodes, "3000.json"),
		`{"type":"Feature","properties":{"name":"3000"},"geometry":{"type":"Polygon","coordinates":[[[144.9,-37.8],[145,-37.8],[145,-37.9],[144.9,-37.8]]]}}`)
	return p
}

func newTestServer(t *testing.T, opts ...Option) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(NewServer(app.New(paths(t), bikes(), facilities(t)), opts...).Routes())
	t.Cleanup(ts.Close)
	return ts
}

func getJSON(t *testing.T, url string, out any) *http.Response {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close() //nolint:errcheck
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp
}

type featureCollection struct {
	Type     string `json:"type"`
	Features []struct {
		Properties map[string]any  `json:"properties"`
		Geometry   json.RawMessage `json:"geometry"`
	} `json:"features"`
}

func TestFacilitiesRadius_OnlyNearbyCafe(t *testing.T) {
	ts := newTestServer(t)
	var fc featureCollection
	resp := getJSON(t, ts.URL+"/api/facilities_radius?lat=-37.80&lon=144.96&radius_km=5&q=cafe", &fc)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "FeatureCollection", fc.Type)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "Cafe A", fc.Features[0].Properties[loader.FacilityNameColumn])
}

func TestFacilitiesRadius_DefaultRadiusWithoutFilter(t *testing.T) {
	ts := newTestServer(t)
	var fc featureCollection
	getJSON(t, ts.URL+"/api/facilities_radius?lat=-37.80&lon=144.96", &fc)
	// The library is about 1.6 km away, inside the 2 km default.
	assert.Len(t, fc.Features, 2)
}

func TestFacilitiesAll_Filter(t *testing.T) {
	ts := newTestServer(t)
	var fc featureCollection
	getJSON(t, ts.URL+"/api/facilities_all", &fc)
	assert.Len(t, fc.Features, 3)

	getJSON(t, ts.URL+"/api/facilities_all?q=yarra", &fc)
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "Fitzroy Library", fc.Features[0].Properties[loader.FacilityNameColumn])
}

func TestBikesRadius(t *testing.T) {
	ts := newTestServer(t)
	var fc featureCollection
	resp := getJSON(t, ts.URL+"/api/bikes_radius?lat=-37.80&lon=144.96&radius_km=1", &fc)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/geo+json", resp.Header.Get("Content-Type"))
	require.Len(t, fc.Features, 1)
	assert.Equal(t, "through", fc.Features[0].Properties["name"])
}

func TestBikesRadius_BadParameters(t *testing.T) {
	ts := newTestServer(t)
	for _, q := range []string{
		"lat=abc&lon=144.96",
		"lon=144.96",
		"lat=-37.8&lon=144.96&radius_km=x",
		"lat=-97&lon=144.96",
	} {
		var body map[string]any
		resp := getJSON(t, ts.URL+"/api/bikes_radius?"+q, &body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
		assert.Contains(t, body, "error", q)
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	var body map[string]any
	resp := getJSON(t, ts.URL+"/health", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))
	assert.Equal(t, map[string]any{
		"ok":              true,
		"bike_features":   2.0,
		"bike_crs":        "EPSG:4326",
		"facilities_rows": 3.0,
		"facilities_crs":  "EPSG:4326",
	}, body)
}

func TestHealth_UnsetCRSIsNull(t *testing.T) {
	c := app.New(app.Paths{}, geotable.New(geotable.CRS{}, nil), nil)
	ts := httptest.NewServer(NewServer(c).Routes())
	defer ts.Close()

	var body map[string]any
	getJSON(t, ts.URL+"/health", &body)
	assert.Contains(t, body, "bike_crs")
	assert.Nil(t, body["bike_crs"])
}

func TestRequestIDIsEchoed(t *testing.T) {
	ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/health", nil)
	require.NoError(t, err)
	req.Header.Set(requestIDHeader, "abc-123")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "abc-123", resp.Header.Get(requestIDHeader))
}

func TestPermitsChoropleth(t *testing.T) {
	ts := newTestServer(t)
	var body struct {
		ColorColumn string            `json:"color_column"`
		GeoJSON     featureCollection `json:"geojson"`
	}
	resp := getJSON(t, ts.URL+"/api/permits_choropleth?category=Retail", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "retail_count", body.ColorColumn)
	require.Len(t, body.GeoJSON.Features, 1)
	props := body.GeoJSON.Features[0].Properties
	assert.Equal(t, 2.0, props["permit_count"])
	assert.Equal(t, 200.0, props["mean_cost"])

	var errBody map[string]any
	resp = getJSON(t, ts.URL+"/api/permits_choropleth?category=Farm", &errBody)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPermitsDistribution(t *testing.T) {
	ts := newTestServer(t)
	var body map[string]any
	resp := getJSON(t, ts.URL+"/api/permits_distribution?bins=4", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "Reported_Cost_of_works", body["metric"])
	assert.Equal(t, 2.0, body["count"])

	resp = getJSON(t, ts.URL+"/api/permits_distribution?log=maybe", &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = getJSON(t, ts.URL+"/api/permits_distribution?metric=Nope", &body)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPermitsDistribution_BinsBounded(t *testing.T) {
	ts := newTestServer(t)
	for _, bins := range []string{"-1", "1001", "200000000", "9223372036854775807", "99999999999999999999", "ten"} {
		var body map[string]any
		resp := getJSON(t, ts.URL+"/api/permits_distribution?bins="+bins, &body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "bins=%s", bins)
		assert.Contains(t, body, "error", "bins=%s", bins)
	}

	var body map[string]any
	resp := getJSON(t, ts.URL+"/api/permits_distribution?bins=1000", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var stats map[string]any
	getJSON(t, ts.URL+"/api/cache_stats", &stats)
	assert.Equal(t, 2.0, stats["entries"], "rejected bin counts are never cached")
}

func TestPermitsHierarchy(t *testing.T) {
	ts := newTestServer(t)
	var nodes []map[string]any
	resp := getJSON(t, ts.URL+"/api/permits_hierarchy", &nodes)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, nodes, 2)
}

func TestCrimeBubbles(t *testing.T) {
	ts := newTestServer(t)
	var body map[string]any
	resp := getJSON(t, ts.URL+"/api/crime_bubbles", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["rows"], 1)
	assert.Equal(t, 1.0, body["dropped_crime_count"])
	assert.Equal(t, []any{"Yarra"}, body["dropped_crime"])
}

func TestSchoolsPermits_AbsentDatasets(t *testing.T) {
	ts := newTestServer(t)
	var body map[string]featureCollection
	resp := getJSON(t, ts.URL+"/api/schools_permits", &body)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["schools"].Features)
	assert.Empty(t, body["permits"].Features)
}

func TestCacheStats(t *testing.T) {
	ts := newTestServer(t)
	var fc map[string]any
	getJSON(t, ts.URL+"/api/permits_choropleth", &fc)
	getJSON(t, ts.URL+"/api/permits_choropleth", &fc)

	var stats app.CacheStats
	getJSON(t, ts.URL+"/api/cache_stats", &stats)
	assert.GreaterOrEqual(t, stats.Hits, int64(1))
	assert.GreaterOrEqual(t, stats.Entries, 2)
}

type stubCaptioner struct {
	prompt string
	err    error
}

func (s *stubCaptioner) Describe(_ context.Context, image []byte, prompt string) (string, error) {
	s.prompt = prompt
	if s.err != nil {
		return "", s.err
	}
	return "answer for " + string(image[:3]), nil
}

func upload(t *testing.T, url string, image []byte, prompt string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if image != nil {
		fw, err := mw.CreateFormFile("image", "chart.png")
		require.NoError(t, err)
		_, err = fw.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.WriteField("prompt", prompt))
	require.NoError(t, mw.Close())

	resp, err := http.Post(url, mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	return resp
}

func TestAnalyze_NotConfigured(t *testing.T) {
	ts := newTestServer(t)
	resp := upload(t, ts.URL+"/api/analyze", []byte("png"), "q")
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestAnalyze(t *testing.T) {
	stub := &stubCaptioner{}
	ts := newTestServer(t, WithCaptioner(stub))

	resp := upload(t, ts.URL+"/api/analyze", []byte("png-bytes"), "What peaks?")
	defer resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "answer for png", body["answer"])
	assert.Equal(t, "What peaks?", stub.prompt)
}

func TestAnalyze_Errors(t *testing.T) {
	stub := &stubCaptioner{}
	ts := newTestServer(t, WithCaptioner(stub))

	resp := upload(t, ts.URL+"/api/analyze", nil, "q")
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	stub.err = anthropic.ErrUnsupportedImage
	resp = upload(t, ts.URL+"/api/analyze", []byte("pdf"), "q")
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	stub.err = errors.New("upstream down")
	resp = upload(t, ts.URL+"/api/analyze", []byte("png"), "q")
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	ts := newTestServer(t)
	req, err := http.NewRequest(http.MethodOptions, ts.URL+"/api/facilities_all", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close() //nolint:errcheck
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}
