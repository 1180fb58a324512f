// Package api serves the dashboard's JSON and GeoJSON endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sells-group/vicmaps/internal/app"
)

// DefaultRadiusKm is used when a radius query omits radius_km.
const DefaultRadiusKm = 2.0

// maxUploadBytes bounds the chart image accepted by /api/analyze.
const maxUploadBytes = 10 << 20

// Captioner answers a question about a chart image.
type Captioner interface {
	Describe(ctx context.Context, image []byte, prompt string) (string, error)
}

// Server holds handler dependencies.
type Server struct {
	app       *app.Context
	captioner Captioner
	radiusKm  float64
	timeout   time.Duration
}

// Option configures a Server.
type Option func(*Server)

// WithCaptioner enables POST /api/analyze.
func WithCaptioner(c Captioner) Option {
	return func(s *Server) {
		s.captioner = c
	}
}

// WithDefaultRadius overrides DefaultRadiusKm.
func WithDefaultRadius(km float64) Option {
	return func(s *Server) {
		if km > 0 {
			s.radiusKm = km
		}
	}
}

// WithTimeout bounds each request. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.timeout = d
	}
}

// NewServer creates a Server over c.
func NewServer(c *app.Context, opts ...Option) *Server {
	s := &Server{app: c, radiusKm: DefaultRadiusKm, timeout: 60 * time.Second}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the HTTP handler with all middleware applied.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", requestIDHeader},
		ExposedHeaders: []string{requestIDHeader},
		MaxAge:         300,
	}))
	if s.timeout > 0 {
		r.Use(middleware.Timeout(s.timeout))
	}

	r.Get("/health", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/bikes_radius", s.bikesRadius)
		r.Get("/facilities_radius", s.facilitiesRadius)
		r.Get("/facilities_all", s.facilitiesAll)
		r.Get("/permits_choropleth", s.permitsChoropleth)
		r.Get("/permits_hierarchy", s.permitsHierarchy)
		r.Get("/permits_distribution", s.permitsDistribution)
		r.Get("/crime_bubbles", s.crimeBubbles)
		r.Get("/schools_permits", s.schoolsPermits)
		r.Get("/cache_stats", s.cacheStats)
		r.Post("/analyze", s.analyze)
	})
	return r
}
