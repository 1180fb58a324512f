package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/vicmaps/internal/aggregate"
	"github.com/sells-group/vicmaps/internal/geotable"
	"github.com/sells-group/vicmaps/internal/radius"
	"github.com/sells-group/vicmaps/pkg/anthropic"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: write response", zap.Error(err))
	}
}

// fail maps err to a status: parameter errors are the caller's fault, the
// rest are ours.
func fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	if geotable.IsParameterError(err) {
		status = http.StatusBadRequest
	} else {
		zap.L().Error("api: request failed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeTable(w http.ResponseWriter, r *http.Request, t *geotable.Table) {
	data, err := geotable.MarshalFeatureCollection(t)
	if err != nil {
		fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func floatParam(r *http.Request, name string, def *float64) (float64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		if def != nil {
			return *def, nil
		}
		return 0, &geotable.ParameterError{Param: name, Reason: "required"}
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, &geotable.ParameterError{Param: name, Reason: "must be a number"}
	}
	return v, nil
}

func (s *Server) query(r *http.Request) (radius.Query, error) {
	lat, err := floatParam(r, "lat", nil)
	if err != nil {
		return radius.Query{}, err
	}
	lon, err := floatParam(r, "lon", nil)
	if err != nil {
		return radius.Query{}, err
	}
	km, err := floatParam(r, "radius_km", &s.radiusKm)
	if err != nil {
		return radius.Query{}, err
	}
	return radius.Query{Lat: lat, Lon: lon, RadiusKm: km, Text: r.URL.Query().Get("q")}, nil
}

func (s *Server) bikesRadius(w http.ResponseWriter, r *http.Request) {
	q, err := s.query(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	out, err := radius.ClipLines(s.app.Bikes, q.Lat, q.Lon, q.RadiusKm)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeTable(w, r, out)
}

func (s *Server) facilitiesRadius(w http.ResponseWriter, r *http.Request) {
	q, err := s.query(r)
	if err != nil {
		fail(w, r, err)
		return
	}
	out, err := radius.ClipPoints(s.app.Facilities, q.Lat, q.Lon, q.RadiusKm)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeTable(w, r, radius.Filter(out, q.Text))
}

func (s *Server) facilitiesAll(w http.ResponseWriter, r *http.Request) {
	writeTable(w, r, radius.Filter(s.app.Facilities, r.URL.Query().Get("q")))
}

type healthResponse struct {
	OK             bool    `json:"ok"`
	BikeFeatures   int     `json:"bike_features"`
	BikeCRS        *string `json:"bike_crs"`
	FacilitiesRows int     `json:"facilities_rows"`
	FacilitiesCRS  *string `json:"facilities_crs"`
}

func crsName(t *geotable.Table) *string {
	if t == nil || !t.CRS.IsSet() {
		return nil
	}
	name := t.CRS.String()
	return &name
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		OK:             true,
		BikeFeatures:   s.app.Bikes.Len(),
		BikeCRS:        crsName(s.app.Bikes),
		FacilitiesRows: s.app.Facilities.Len(),
		FacilitiesCRS:  crsName(s.app.Facilities),
	})
}

func (s *Server) permitsChoropleth(w http.ResponseWriter, r *http.Request) {
	col, err := aggregate.ColorColumn(r.URL.Query().Get("category"))
	if err != nil {
		fail(w, r, err)
		return
	}
	t, err := s.app.Choropleth()
	if err != nil {
		fail(w, r, err)
		return
	}
	fc, err := geotable.MarshalFeatureCollection(t)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		ColorColumn string          `json:"color_column"`
		GeoJSON     json.RawMessage `json:"geojson"`
	}{col, fc})
}

func (s *Server) permitsHierarchy(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.app.Hierarchy()
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) permitsDistribution(w http.ResponseWriter, r *http.Request) {
	qs := r.URL.Query()
	metric := qs.Get("metric")
	if metric == "" {
		metric = aggregate.DistributionMetrics[0]
	}
	bins := 0
	if raw := qs.Get("bins"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			fail(w, r, &geotable.ParameterError{Param: "bins", Reason: "must be an integer"})
			return
		}
		if err := aggregate.CheckBins(n); err != nil {
			fail(w, r, err)
			return
		}
		bins = n
	}
	logScale := false
	if raw := qs.Get("log"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			fail(w, r, &geotable.ParameterError{Param: "log", Reason: "must be true or false"})
			return
		}
		logScale = b
	}

	summary, err := s.app.Distribution(metric, bins, logScale)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) crimeBubbles(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.Crime()
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		*aggregate.CrimeResult
		DroppedCrimeCount   int `json:"dropped_crime_count"`
		DroppedSuburbsCount int `json:"dropped_suburbs_count"`
	}{res, len(res.DroppedCrime), len(res.DroppedSuburbs)})
}

func (s *Server) schoolsPermits(w http.ResponseWriter, r *http.Request) {
	res, err := s.app.SchoolPermits()
	if err != nil {
		fail(w, r, err)
		return
	}
	schools, err := geotable.MarshalFeatureCollection(res.Schools)
	if err != nil {
		fail(w, r, err)
		return
	}
	permits, err := geotable.MarshalFeatureCollection(res.Permits)
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Schools json.RawMessage `json:"schools"`
		Permits json.RawMessage `json:"permits"`
	}{schools, permits})
}

func (s *Server) cacheStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.app.CacheStats())
}

func (s *Server) analyze(w http.ResponseWriter, r *http.Request) {
	if s.captioner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "image analysis is not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		fail(w, r, &geotable.ParameterError{Param: "image", Reason: "expected a multipart upload under 10 MiB"})
		return
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		fail(w, r, &geotable.ParameterError{Param: "image", Reason: "required"})
		return
	}
	defer file.Close() //nolint:errcheck

	data, err := io.ReadAll(file)
	if err != nil {
		fail(w, r, eris.Wrap(err, "api: read upload"))
		return
	}

	answer, err := s.captioner.Describe(r.Context(), data, r.FormValue("prompt"))
	if errors.Is(err, anthropic.ErrUnsupportedImage) {
		fail(w, r, &geotable.ParameterError{Param: "image", Reason: "must be png, jpeg, gif or webp"})
		return
	}
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": answer})
}
