package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/neexbeast/cityrank/internal/city"
)

var validate = validator.New()

// Handlers holds the dependencies for all HTTP handlers.
type Handlers struct {
	svc       CityService
	reloadSrc city.Source
	maxCities int
	log       *slog.Logger
}

// NewHandlers constructs Handlers. reloadSrc is read by the reload endpoint;
// maxCities bounds the comparison endpoint.
func NewHandlers(svc CityService, reloadSrc city.Source, maxCities int, log *slog.Logger) *Handlers {
	return &Handlers{
		svc:       svc,
		reloadSrc: reloadSrc,
		maxCities: maxCities,
		log:       log,
	}
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// locationData is the body of GET /location-data/{city}. Weather fields and the
// score are null when no weather is available.
type locationData struct {
	CityName                  string   `json:"city_name"`
	CurrentTemperature        *float64 `json:"current_temperature"`
	CurrentWeatherDescription *string  `json:"current_weather_description"`
	Population                int      `json:"population"`
	Bars                      int      `json:"bars"`
	CityScore                 *float64 `json:"city_score"`
}

// GetLocationData handles GET /location-data/{city}.
func (h *Handlers) GetLocationData(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "city")

	p, err := h.svc.GetProfile(r.Context(), name)
	if err != nil {
		if errors.Is(err, city.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown city %q", name))
			return
		}
		h.log.Error("profile lookup failed", "city", name, "err", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	body := locationData{
		CityName:   p.City.Key(),
		Population: p.City.Population,
		Bars:       p.City.Bars,
	}
	if p.Weather != nil {
		temp, desc := p.Weather.Temperature, p.Weather.Description
		body.CurrentTemperature = &temp
		body.CurrentWeatherDescription = &desc
	}
	if score, ok := h.svc.Score(p); ok {
		body.CityScore = &score
	}

	writeJSON(w, http.StatusOK, body)
}

// CompareLocations handles GET /location-comparison?cities=a,b.
func (h *Handlers) CompareLocations(w http.ResponseWriter, r *http.Request) {
	h.compare(w, r, r.URL.Query().Get("cities"))
}

// CompareLocationsPath handles the bracketed path form
// GET /location-comparison/cities=[a,b].
func (h *Handlers) CompareLocationsPath(w http.ResponseWriter, r *http.Request) {
	// chi matches on the raw path when it holds brackets, so the param may
	// still be percent-encoded.
	arg, err := url.PathUnescape(chi.URLParam(r, "query"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed city list")
		return
	}
	list, ok := strings.CutPrefix(arg, "cities=")
	if !ok {
		writeError(w, http.StatusBadRequest, "expected cities=[name,...]")
		return
	}
	list = strings.TrimSuffix(strings.TrimPrefix(list, "["), "]")
	h.compare(w, r, list)
}

// comparisonRequest is validated before any lookup.
type comparisonRequest struct {
	Cities []string `validate:"min=1,dive,required"`
}

func (h *Handlers) compare(w http.ResponseWriter, r *http.Request, list string) {
	req := comparisonRequest{Cities: splitCities(list)}

	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "at least one city is required")
		return
	}
	if err := validate.Var(req.Cities, fmt.Sprintf("max=%d", h.maxCities)); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d cities can be compared", h.maxCities))
		return
	}

	ranking := h.svc.GetRanking(r.Context(), req.Cities)
	writeJSON(w, http.StatusOK, map[string]any{"city_data": ranking})
}

// splitCities splits a comma-separated list and drops blank entries.
func splitCities(list string) []string {
	var out []string
	for _, part := range strings.Split(list, ",") {
		part = strings.Trim(strings.TrimSpace(part), `"'`)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ListCities handles GET /api/v1/cities.
func (h *Handlers) ListCities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"cities": h.svc.Cities()})
}

// FlushWeather handles POST /api/v1/weather/flush.
func (h *Handlers) FlushWeather(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.FlushWeatherCache(r.Context()); err != nil {
		h.log.Error("weather cache flush failed", "err", err)
		writeError(w, http.StatusInternalServerError, "failed to flush weather cache")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ReloadCities handles POST /api/v1/cities/reload. A malformed table leaves
// the current registry in place and answers 422.
func (h *Handlers) ReloadCities(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.ReloadRegistry(r.Context(), h.reloadSrc); err != nil {
		if errors.Is(err, city.ErrLoad) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to reload cities")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cities": h.svc.CityCount()})
}

// HealthHandlerFunc returns an http.HandlerFunc reporting the registry size
// and cache connectivity. It answers 503 when the cache is unreachable or no
// city is loaded.
func HealthHandlerFunc(svc CityService, cache Pinger, log *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		status := http.StatusOK
		cacheStatus := "ok"

		if err := cache.Ping(ctx); err != nil {
			log.Error("health check: cache ping failed", "err", err)
			cacheStatus = "error"
			status = http.StatusServiceUnavailable
		}

		n := svc.CityCount()
		if n == 0 {
			log.Error("health check: city registry is empty")
			status = http.StatusServiceUnavailable
		}

		overall := "ok"
		if status != http.StatusOK {
			overall = "degraded"
		}
		writeJSON(w, status, map[string]any{
			"status": overall,
			"cities": n,
			"cache":  cacheStatus,
		})
	}
}
