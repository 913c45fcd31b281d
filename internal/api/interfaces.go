package api

import (
	"context"

	"github.com/neexbeast/cityrank/internal/aggregator"
	"github.com/neexbeast/cityrank/internal/city"
)

// CityService defines the aggregator operations needed by handlers.
// *aggregator.Aggregator satisfies this interface.
type CityService interface {
	GetProfile(ctx context.Context, name string) (aggregator.Profile, error)
	GetRanking(ctx context.Context, names []string) []aggregator.RankingEntry
	Score(p aggregator.Profile) (float64, bool)
	Cities() []city.Record
	CityCount() int
	FlushWeatherCache(ctx context.Context) error
	ReloadRegistry(ctx context.Context, src city.Source) error
}

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}
