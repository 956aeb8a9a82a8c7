package httpapi

import (
	"net/http"

	"github.com/CAFxX/httpcompression"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"

	"github.com/assetcorp/sirannon/internal/metrics"
	"github.com/assetcorp/sirannon/internal/registry"
)

// Options configures NewRouter — spec §6.
type Options struct {
	Sirannon       *registry.Sirannon
	Metrics        *metrics.Collector
	OnRequest      OnRequestHook
	AllowedOrigins []string
}

// NewRouter builds the full chi route tree: per-database query/execute/
// transaction endpoints, health, readiness and metrics — spec §6.
func NewRouter(opts Options) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(httpLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(bodyLimitMiddleware)

	compressor, err := httpcompression.DefaultAdapter()
	if err != nil {
		log.Error().Err(err).Msg("failed to create HTTP compression adapter")
	} else {
		r.Use(compressor)
	}

	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
			AllowCredentials: true,
		}).Handler)
	}

	h := NewHandlers(opts.Sirannon)

	r.Get("/health", h.Health)
	r.Get("/health/ready", h.Ready)

	if opts.Metrics != nil {
		r.Handle("/metrics", Metrics(opts.Metrics.Registry()))
	}

	r.Route("/db/{id}", func(r chi.Router) {
		r.Use(onRequestMiddleware(opts.OnRequest))
		r.Post("/query", h.Query)
		r.Post("/execute", h.Execute)
		r.Post("/transaction", h.Transaction)
	})

	return r
}
