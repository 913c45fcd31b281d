package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter builds and returns the Chi router with all routes configured.
// Rate limiting is applied globally per client IP; ratePerMinute <= 0 disables it.
func NewRouter(handlers *Handlers, svc CityService, cache Pinger, ratePerMinute int, log *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	if ratePerMinute > 0 {
		r.Use(httprate.LimitByIP(ratePerMinute, time.Minute))
	}

	r.Get("/location-data/{city}", handlers.GetLocationData)
	r.Get("/location-comparison", handlers.CompareLocations)
	r.Get("/location-comparison/{query}", handlers.CompareLocationsPath)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", HealthHandlerFunc(svc, cache, log))
		r.Get("/cities", handlers.ListCities)
		r.Post("/cities/reload", handlers.ReloadCities)
		r.Post("/weather/flush", handlers.FlushWeather)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Ensure chi.Mux implements http.Handler.
var _ http.Handler = (*chi.Mux)(nil)
