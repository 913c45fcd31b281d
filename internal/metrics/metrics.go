// Package metrics holds the Prometheus collectors shared by the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Provider request outcomes.
const (
	OutcomeOK        = "ok"
	OutcomeEmpty     = "empty"
	OutcomeTransport = "transport_error"
)

var (
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cityrank_weather_cache_hits_total",
			Help: "Weather lookups answered from the cache, negative entries included",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cityrank_weather_cache_misses_total",
			Help: "Weather lookups that went to the provider",
		},
	)

	CacheFlushes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cityrank_weather_cache_flushes_total",
			Help: "Full weather cache flushes",
		},
	)

	ProviderRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityrank_weather_provider_requests_total",
			Help: "Weather provider requests by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	RegistryReloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cityrank_registry_reloads_total",
			Help: "City registry loads by outcome",
		},
		[]string{"outcome"},
	)

	RegistryCities = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cityrank_registry_cities",
			Help: "Number of cities in the active registry",
		},
	)
)
