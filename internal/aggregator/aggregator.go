package aggregator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/neexbeast/cityrank/internal/city"
	"github.com/neexbeast/cityrank/internal/metrics"
	"github.com/neexbeast/cityrank/internal/weather"
)

// DefaultMaxConcurrency caps the number of weather lookups in flight per batch.
const DefaultMaxConcurrency = 8

// cityRegistry is the interface satisfied by *city.Registry.
type cityRegistry interface {
	Get(name string) (city.Record, bool)
	All() []city.Record
	Len() int
	Reload(ctx context.Context, src city.Source) error
}

// weatherCache is the interface satisfied by *cache.WeatherCache.
type weatherCache interface {
	Get(ctx context.Context, name string) (*weather.Record, error)
	Flush(ctx context.Context) error
}

// Profile is a city enriched with its current weather. Weather is nil when the
// provider has no data or the lookup failed; WeatherErr holds the failure.
type Profile struct {
	City       city.Record     `json:"city"`
	Weather    *weather.Record `json:"weather"`
	WeatherErr error           `json:"-"`
}

// RankingEntry is one position of a ranking.
type RankingEntry struct {
	CityName string  `json:"city_name"`
	Rank     int     `json:"city_rank"`
	Score    float64 `json:"city_score"`
}

// Scorer computes the ranking score of a city under the given weather.
type Scorer func(c city.Record, w weather.Record) float64

// MuseumsTimesTemperature is the default Scorer.
func MuseumsTimesTemperature(c city.Record, w weather.Record) float64 {
	return float64(c.Museums) * w.Temperature
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithScorer replaces the default scoring function.
func WithScorer(s Scorer) Option {
	return func(a *Aggregator) { a.scorer = s }
}

// WithMaxConcurrency bounds concurrent weather lookups per batch. n <= 0 keeps the default.
func WithMaxConcurrency(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.maxConcurrency = n
		}
	}
}

// Aggregator combines registry data with cached weather.
type Aggregator struct {
	registry       cityRegistry
	weather        weatherCache
	scorer         Scorer
	maxConcurrency int
	log            *slog.Logger
}

// New constructs an Aggregator.
func New(registry cityRegistry, weather weatherCache, log *slog.Logger, opts ...Option) *Aggregator {
	a := &Aggregator{
		registry:       registry,
		weather:        weather,
		scorer:         MuseumsTimesTemperature,
		maxConcurrency: DefaultMaxConcurrency,
		log:            log,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// GetProfile returns the profile of one city. It fails only when the city is
// not in the registry; weather problems leave Weather nil.
func (a *Aggregator) GetProfile(ctx context.Context, name string) (Profile, error) {
	rec, ok := a.registry.Get(name)
	if !ok {
		a.log.Warn("unknown city", "city", name)
		return Profile{}, fmt.Errorf("%w: %q", city.ErrNotFound, name)
	}
	return a.profile(ctx, rec), nil
}

func (a *Aggregator) profile(ctx context.Context, rec city.Record) Profile {
	w, err := a.weather.Get(ctx, rec.Key())
	if err != nil {
		a.log.Error("weather lookup failed", "city", rec.Key(), "err", err)
		return Profile{City: rec, WeatherErr: err}
	}
	return Profile{City: rec, Weather: w}
}

// distinctKeys lowercases names, drops blanks and duplicates, and keeps the
// order of first occurrence.
func distinctKeys(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	keys := make([]string, 0, len(names))
	for _, n := range names {
		k := city.NormalizeName(n)
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keys = append(keys, k)
	}
	return keys
}

// GetProfiles looks up every distinct name concurrently and waits for all of
// them. Names missing from the registry are logged and left out. A failed
// weather lookup never cancels the others; a lookup that panics yields a
// profile with no weather and the panic as its WeatherErr.
func (a *Aggregator) GetProfiles(ctx context.Context, names []string) map[string]Profile {
	keys := distinctKeys(names)

	profiles := make([]Profile, len(keys))
	resolved := make([]bool, len(keys))

	// No WithContext: one task must not cancel its siblings.
	var g errgroup.Group
	g.SetLimit(a.maxConcurrency)

	for i, k := range keys {
		i, k := i, k
		rec, ok := a.registry.Get(k)
		if !ok {
			a.log.Warn("unknown city", "city", k)
			continue
		}

		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					a.log.Error("profile lookup panicked", "city", k, "recover", r)
					err = fmt.Errorf("profile lookup for %s panicked: %v", k, r)
					profiles[i] = Profile{City: rec, WeatherErr: err}
					resolved[i] = true
				}
			}()
			profiles[i] = a.profile(ctx, rec)
			resolved[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		a.log.Error("profile batch finished with errors", "err", err)
	}

	out := make(map[string]Profile, len(keys))
	for i, k := range keys {
		if resolved[i] {
			out[k] = profiles[i]
		}
	}
	return out
}

// Score returns the profile's score, or false when it has no weather.
func (a *Aggregator) Score(p Profile) (float64, bool) {
	if p.Weather == nil {
		return 0, false
	}
	return a.scorer(p.City, *p.Weather), true
}

// GetRanking ranks the named cities by score, highest first. Equal scores keep
// the order in which the names were given. Cities without weather are left out.
func (a *Aggregator) GetRanking(ctx context.Context, names []string) []RankingEntry {
	keys := distinctKeys(names)
	position := make(map[string]int, len(keys))
	for i, k := range keys {
		position[k] = i
	}

	profiles := a.GetProfiles(ctx, names)

	type scored struct {
		name  string
		score float64
		pos   int
	}
	candidates := make([]scored, 0, len(profiles))
	for k, p := range profiles {
		s, ok := a.Score(p)
		if !ok {
			a.log.Info("city left out of ranking: no weather", "city", k)
			continue
		}
		candidates = append(candidates, scored{name: k, score: s, pos: position[k]})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].pos < candidates[j].pos
	})

	ranking := make([]RankingEntry, len(candidates))
	for i, c := range candidates {
		ranking[i] = RankingEntry{CityName: c.name, Rank: i + 1, Score: c.score}
	}
	return ranking
}

// Cities returns every registered city.
func (a *Aggregator) Cities() []city.Record {
	return a.registry.All()
}

// CityCount returns the number of registered cities.
func (a *Aggregator) CityCount() int {
	return a.registry.Len()
}

// FlushWeatherCache drops all cached weather. Safe to call at any time.
func (a *Aggregator) FlushWeatherCache(ctx context.Context) error {
	return a.weather.Flush(ctx)
}

// ReloadRegistry replaces the city registry from src. On failure the current
// registry stays active and the error wraps city.ErrLoad.
func (a *Aggregator) ReloadRegistry(ctx context.Context, src city.Source) error {
	if err := a.registry.Reload(ctx, src); err != nil {
		metrics.RegistryReloads.WithLabelValues("error").Inc()
		a.log.Error("city registry reload failed", "err", err)
		return err
	}

	n := a.registry.Len()
	metrics.RegistryReloads.WithLabelValues("ok").Inc()
	metrics.RegistryCities.Set(float64(n))
	a.log.Info("city registry reloaded", "cities", n)
	return nil
}
