package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/vicmaps/internal/aggregate"
	"github.com/sells-group/vicmaps/internal/app"
	"github.com/sells-group/vicmaps/internal/config"
)

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"serve", "data"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}

	names = make(map[string]bool)
	for _, c := range dataCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"status", "permits", "crime"} {
		assert.True(t, names[name], "expected data subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "vicmaps", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestRootCommand_LogOverrides(t *testing.T) {
	for _, name := range []string{"log-level", "log-format"} {
		require.NotNil(t, rootCmd.PersistentFlags().Lookup(name), name)
	}

	logLevel, logFormat = "debug", "console"
	t.Cleanup(func() { logLevel, logFormat = "", "" })
	require.NoError(t, rootCmd.PersistentPreRunE(rootCmd, nil))
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	logLevel = "loud"
	assert.Error(t, rootCmd.PersistentPreRunE(rootCmd, nil))
}

func TestServeCommand_Flags(t *testing.T) {
	flag := serveCmd.Flags().Lookup("port")
	require.NotNil(t, flag, "serve command should have --port flag")
	assert.Equal(t, "0", flag.DefValue)
}

func TestDataPermitsCommand_Flags(t *testing.T) {
	flag := dataPermitsCmd.Flags().Lookup("category")
	require.NotNil(t, flag)
	assert.Equal(t, aggregate.AllCategories, flag.DefValue)
	require.NotNil(t, dataPermitsCmd.Flags().ShorthandLookup("o"))
}

func write(t *testing.T, path, body string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	c := &config.Config{
		Server: config.ServerConfig{Port: 8000},
		Log:    config.LogConfig{Level: "info", Format: "json"},
		Query:  config.QueryConfig{DefaultRadiusKm: 2},
		Data: config.DataConfig{
			Facilities: write(t, filepath.Join(dir, "facilities.csv"),
				"Facility Name,Latitude,Longitude\nCafe A,-37.80,144.96\n"),
			Permits: write(t, filepath.Join(dir, "permits.csv"),
				"site_postcode__c,BASIS_Building_Use,Reported_Cost_of_works\n3000,Retail,300\n"),
			Postcodes: filepath.Join(dir, "postcodes"),
			Crime: write(t, filepath.Join(dir, "crime.csv"),
				"Local Government Area,Victim Reports\nMelbourne,10\nYarra,5\n"),
			Suburbs: write(t, filepath.Join(dir, "suburbs.csv"),
				"local_goverment_area,population,lat,lng,postcode\nMelbourne (C),100,-37.81,144.96,3000\n"),
		},
	}
	write(t, filepath.Join(c.Data.Postcodes, "3000.json"),
		`{"type":"Polygon","coordinates":[[[144.9,-37.8],[145,-37.8],[145,-37.9],[144.9,-37.8]]]}`)
	return c
}

func TestNewHTTPServer(t *testing.T) {
	c := testConfig(t)
	srv, err := newHTTPServer(context.Background(), c)
	require.NoError(t, err)
	assert.Equal(t, ":8000", srv.Addr)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"facilities_rows":1`)

	rec = httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analyze", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestNewHTTPServer_WithCaptioner(t *testing.T) {
	c := testConfig(t)
	c.Anthropic = config.AnthropicConfig{Key: "k", Model: "m", MaxTokens: 16, RequestsPerMinute: 1}
	srv, err := newHTTPServer(context.Background(), c)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/analyze", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "configured endpoint rejects a missing upload")
}

func TestFormatDataStatus(t *testing.T) {
	c := testConfig(t)
	paths := app.PathsFromConfig(c)
	appCtx, err := app.Load(context.Background(), paths)
	require.NoError(t, err)

	var buf bytes.Buffer
	formatDataStatus(&buf, paths, appCtx)
	out := buf.String()
	assert.Contains(t, out, "DATASET")
	assert.Contains(t, out, "facilities")
	assert.Contains(t, out, "EPSG:4326")
	assert.Contains(t, out, "not configured")
	assert.Contains(t, out, "present")
}

func TestDataCommands(t *testing.T) {
	cfg = testConfig(t)

	var out bytes.Buffer
	dataCrimeCmd.SetOut(&out)
	require.NoError(t, dataCrimeCmd.RunE(dataCrimeCmd, nil))
	assert.Contains(t, out.String(), "Melbourne")
	assert.Contains(t, out.String(), "crime only: Yarra")

	path := filepath.Join(t.TempDir(), "choropleth.geojson")
	permitsOutput = path
	permitsCategory = "Retail"
	t.Cleanup(func() { permitsOutput, permitsCategory = "-", aggregate.AllCategories })
	dataPermitsCmd.SetErr(&bytes.Buffer{})
	require.NoError(t, dataPermitsCmd.RunE(dataPermitsCmd, nil))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"retail_count":1`)

	permitsCategory = "Farm"
	assert.Error(t, dataPermitsCmd.RunE(dataPermitsCmd, nil))
}
