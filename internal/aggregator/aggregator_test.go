package aggregator_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neexbeast/cityrank/internal/aggregator"
	"github.com/neexbeast/cityrank/internal/cache"
	"github.com/neexbeast/cityrank/internal/city"
	"github.com/neexbeast/cityrank/internal/weather"
)

// ---- helpers ----

type rowsSource [][]string

func (s rowsSource) Rows(_ context.Context) ([][]string, error) { return s, nil }

var cityRows = rowsSource{
	{"name", "country", "population", "bars", "museums", "public_transport", "crime_rate", "average_hotel_cost"},
	{"Moscow", "Russia", "8297000", "1659", "1936", "4", "9", "258"},
	{"London", "UK", "7074000", "12733", "707", "9", "1", "286"},
	{"Paris", "France", "2141000", "4000", "130", "8", "4", "250"},
	{"Rome", "Italy", "2873000", "2000", "130", "6", "5", "180"},
}

func newRegistry(t *testing.T) *city.Registry {
	t.Helper()
	reg, err := city.NewRegistry(context.Background(), cityRows)
	require.NoError(t, err)
	return reg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockWeather struct {
	getFn   func(ctx context.Context, name string) (*weather.Record, error)
	flushFn func(ctx context.Context) error
}

func (m *mockWeather) Get(ctx context.Context, name string) (*weather.Record, error) {
	return m.getFn(ctx, name)
}

func (m *mockWeather) Flush(ctx context.Context) error {
	return m.flushFn(ctx)
}

// temps serves the given temperatures; missing names have no weather.
func temps(byName map[string]float64) *mockWeather {
	return &mockWeather{
		getFn: func(_ context.Context, name string) (*weather.Record, error) {
			t, ok := byName[name]
			if !ok {
				return nil, nil
			}
			return &weather.Record{Temperature: t, Description: "Clear"}, nil
		},
		flushFn: func(_ context.Context) error { return nil },
	}
}

func names(r []aggregator.RankingEntry) []string {
	out := make([]string, len(r))
	for i, e := range r {
		out[i] = e.CityName
	}
	return out
}

// ---- GetProfile ----

func TestGetProfile_Found(t *testing.T) {
	agg := aggregator.New(newRegistry(t), temps(map[string]float64{"moscow": 5}), discardLogger())

	p, err := agg.GetProfile(context.Background(), "MOSCOW")
	require.NoError(t, err)
	assert.Equal(t, "Moscow", p.City.Name)
	require.NotNil(t, p.Weather)
	assert.Equal(t, 5.0, p.Weather.Temperature)
	assert.NoError(t, p.WeatherErr)
}

func TestGetProfile_NotFound(t *testing.T) {
	agg := aggregator.New(newRegistry(t), temps(nil), discardLogger())

	_, err := agg.GetProfile(context.Background(), "Atlantis")
	require.Error(t, err)
	assert.True(t, errors.Is(err, city.ErrNotFound))
}

func TestGetProfile_NoWeatherIsNotAnError(t *testing.T) {
	agg := aggregator.New(newRegistry(t), temps(nil), discardLogger())

	p, err := agg.GetProfile(context.Background(), "Paris")
	require.NoError(t, err)
	assert.Nil(t, p.Weather)
	assert.NoError(t, p.WeatherErr)
}

func TestGetProfile_TransportFailureRecorded(t *testing.T) {
	w := &mockWeather{
		getFn: func(_ context.Context, _ string) (*weather.Record, error) {
			return nil, fmt.Errorf("%w: connection reset", weather.ErrTransport)
		},
	}
	agg := aggregator.New(newRegistry(t), w, discardLogger())

	p, err := agg.GetProfile(context.Background(), "Paris")
	require.NoError(t, err)
	assert.Nil(t, p.Weather)
	assert.True(t, errors.Is(p.WeatherErr, weather.ErrTransport))
}

// ---- GetProfiles ----

func TestGetProfiles_KeysLowercasedAndDeduplicated(t *testing.T) {
	var calls atomic.Int32
	w := temps(map[string]float64{"moscow": 5, "london": 10})
	inner := w.getFn
	w.getFn = func(ctx context.Context, name string) (*weather.Record, error) {
		calls.Add(1)
		return inner(ctx, name)
	}
	agg := aggregator.New(newRegistry(t), w, discardLogger())

	got := agg.GetProfiles(context.Background(), []string{"Moscow", "MOSCOW", "london", " ", "Atlantis"})
	require.Len(t, got, 2)
	assert.Contains(t, got, "moscow")
	assert.Contains(t, got, "london")
	assert.NotContains(t, got, "atlantis")
	assert.Equal(t, int32(2), calls.Load(), "one weather lookup per distinct resolvable name")
}

func TestGetProfiles_FailureDoesNotAbortBatch(t *testing.T) {
	w := &mockWeather{
		getFn: func(_ context.Context, name string) (*weather.Record, error) {
			switch name {
			case "london":
				return nil, fmt.Errorf("%w: timeout", weather.ErrTransport)
			case "rome":
				panic("boom")
			}
			return &weather.Record{Temperature: 3}, nil
		},
	}
	agg := aggregator.New(newRegistry(t), w, discardLogger())

	got := agg.GetProfiles(context.Background(), []string{"Moscow", "London", "Paris", "Rome"})
	require.Len(t, got, 4)

	assert.NotNil(t, got["moscow"].Weather)
	assert.NotNil(t, got["paris"].Weather)
	assert.Nil(t, got["london"].Weather)
	assert.True(t, errors.Is(got["london"].WeatherErr, weather.ErrTransport))

	require.Contains(t, got, "rome", "a panicking lookup still reports its city")
	assert.Equal(t, "Rome", got["rome"].City.Name)
	assert.Nil(t, got["rome"].Weather)
	require.Error(t, got["rome"].WeatherErr)
	assert.Contains(t, got["rome"].WeatherErr.Error(), "panicked")

	ranking := agg.GetRanking(context.Background(), []string{"Moscow", "London", "Paris", "Rome"})
	for _, e := range ranking {
		assert.NotEqual(t, "rome", e.CityName)
	}
	assert.Len(t, ranking, 2)
}

func TestGetProfiles_Empty(t *testing.T) {
	agg := aggregator.New(newRegistry(t), temps(nil), discardLogger())
	assert.Empty(t, agg.GetProfiles(context.Background(), nil))
}

func TestGetProfiles_RespectsMaxConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	w := &mockWeather{
		getFn: func(_ context.Context, _ string) (*weather.Record, error) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			inFlight.Add(-1)
			return &weather.Record{Temperature: 1}, nil
		},
	}
	agg := aggregator.New(newRegistry(t), w, discardLogger(), aggregator.WithMaxConcurrency(2))

	got := agg.GetProfiles(context.Background(), []string{"Moscow", "London", "Paris", "Rome"})
	assert.Len(t, got, 4)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

// ---- GetRanking ----

func TestGetRanking_OrdersByScore(t *testing.T) {
	agg := aggregator.New(newRegistry(t), temps(map[string]float64{"moscow": 5, "london": 10}), discardLogger())

	r := agg.GetRanking(context.Background(), []string{"Moscow", "London"})
	require.Len(t, r, 2)
	assert.Equal(t, aggregator.RankingEntry{CityName: "moscow", Rank: 1, Score: 9680}, r[0])
	assert.Equal(t, aggregator.RankingEntry{CityName: "london", Rank: 2, Score: 7070}, r[1])
}

func TestGetRanking_ScoreFormula(t *testing.T) {
	rec := city.Record{Museums: 1936}
	assert.Equal(t, 9680.0, aggregator.MuseumsTimesTemperature(rec, weather.Record{Temperature: 5.0}))
}

func TestGetRanking_UnresolvableNameDropped(t *testing.T) {
	agg := aggregator.New(newRegistry(t), temps(map[string]float64{"moscow": 5}), discardLogger())

	r := agg.GetRanking(context.Background(), []string{"Moscow", "Atlantis"})
	require.Len(t, r, 1)
	assert.Equal(t, "moscow", r[0].CityName)
	assert.Equal(t, 1, r[0].Rank)
}

func TestGetRanking_TiesKeepInputOrder(t *testing.T) {
	// Paris and Rome both have 130 museums.
	agg := aggregator.New(newRegistry(t), temps(map[string]float64{"paris": 10, "rome": 10, "moscow": 5}), discardLogger())

	r := agg.GetRanking(context.Background(), []string{"Rome", "Moscow", "Paris"})
	assert.Equal(t, []string{"moscow", "rome", "paris"}, names(r))

	r = agg.GetRanking(context.Background(), []string{"Paris", "Moscow", "Rome", "paris"})
	assert.Equal(t, []string{"moscow", "paris", "rome"}, names(r))
	assert.Equal(t, r[1].Score, r[2].Score)
	assert.Equal(t, []int{1, 2, 3}, []int{r[0].Rank, r[1].Rank, r[2].Rank})
}

func TestGetRanking_NoWeatherExcluded(t *testing.T) {
	agg := aggregator.New(newRegistry(t), temps(map[string]float64{"moscow": 5}), discardLogger())

	r := agg.GetRanking(context.Background(), []string{"Paris", "Moscow"})
	assert.Equal(t, []string{"moscow"}, names(r))
}

func TestGetRanking_CustomScorer(t *testing.T) {
	byBars := func(c city.Record, _ weather.Record) float64 { return float64(c.Bars) }
	agg := aggregator.New(newRegistry(t), temps(map[string]float64{"moscow": 5, "london": 10}), discardLogger(),
		aggregator.WithScorer(byBars))

	r := agg.GetRanking(context.Background(), []string{"Moscow", "London"})
	assert.Equal(t, []string{"london", "moscow"}, names(r))
	assert.Equal(t, 12733.0, r[0].Score)
}

func TestGetRanking_Empty(t *testing.T) {
	agg := aggregator.New(newRegistry(t), temps(nil), discardLogger())
	r := agg.GetRanking(context.Background(), []string{"Atlantis"})
	assert.Empty(t, r)
	assert.NotNil(t, r)
}

// ---- with the real cache ----

type fakeProvider struct {
	searches atomic.Int32
}

func (f *fakeProvider) Search(_ context.Context, query string) ([]weather.SearchResult, error) {
	f.searches.Add(1)
	time.Sleep(5 * time.Millisecond)
	switch query {
	case "moscow":
		return []weather.SearchResult{{Title: "Moscow", LocationID: 2122265}}, nil
	case "london":
		return []weather.SearchResult{{Title: "London", LocationID: 44418}}, nil
	}
	return nil, nil
}

func (f *fakeProvider) Detail(_ context.Context, id int64) ([]weather.Observation, error) {
	temp := 10.0
	if id == 2122265 {
		temp = 5.0
	}
	return []weather.Observation{{ApplicableDate: "2024-01-01", TheTemp: temp, WeatherStateName: "Snow"}}, nil
}

func TestGetProfiles_NoMatchIncludedButNotRanked(t *testing.T) {
	p := &fakeProvider{}
	wc := cache.NewWeatherCache(p, cache.NewMemoryStore(), discardLogger())
	agg := aggregator.New(newRegistry(t), wc, discardLogger())

	profiles := agg.GetProfiles(context.Background(), []string{"Moscow", "Paris"})
	require.Contains(t, profiles, "paris")
	assert.Nil(t, profiles["paris"].Weather)
	assert.NoError(t, profiles["paris"].WeatherErr)

	r := agg.GetRanking(context.Background(), []string{"Moscow", "Paris"})
	assert.Equal(t, []string{"moscow"}, names(r))
	assert.Equal(t, 9680.0, r[0].Score)
}

func TestGetProfiles_ConcurrentOverlappingBatches(t *testing.T) {
	p := &fakeProvider{}
	wc := cache.NewWeatherCache(p, cache.NewMemoryStore(), discardLogger())
	agg := aggregator.New(newRegistry(t), wc, discardLogger())

	batches := [][]string{
		{"Moscow", "London", "Paris"},
		{"london", "Rome", "MOSCOW"},
		{"Paris", "Moscow"},
		{"London", "Moscow", "Rome", "Paris"},
	}

	var wg sync.WaitGroup
	results := make([]map[string]aggregator.Profile, len(batches))
	for i, b := range batches {
		i, b := i, b
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = agg.GetProfiles(context.Background(), b)
		}()
	}

	done := make(chan struct{})
	go func() { wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("concurrent GetProfiles did not finish")
	}

	for i, b := range batches {
		assert.Len(t, results[i], len(b))
		if p, ok := results[i]["moscow"]; ok {
			require.NotNil(t, p.Weather)
			assert.Equal(t, 5.0, p.Weather.Temperature)
		}
		if p, ok := results[i]["london"]; ok {
			require.NotNil(t, p.Weather)
			assert.Equal(t, 10.0, p.Weather.Temperature)
		}
	}
	// Two unknown-to-provider cities plus two known ones, at most one search each.
	assert.LessOrEqual(t, p.searches.Load(), int32(4))
}

// ---- pass-throughs ----

func TestFlushWeatherCache(t *testing.T) {
	flushed := false
	w := temps(nil)
	w.flushFn = func(_ context.Context) error {
		flushed = true
		return nil
	}
	agg := aggregator.New(newRegistry(t), w, discardLogger())

	require.NoError(t, agg.FlushWeatherCache(context.Background()))
	assert.True(t, flushed)
}

func TestReloadRegistry(t *testing.T) {
	reg := newRegistry(t)
	agg := aggregator.New(reg, temps(nil), discardLogger())
	ctx := context.Background()

	err := agg.ReloadRegistry(ctx, rowsSource{{"name"}, {"Oslo"}})
	require.NoError(t, err)
	assert.Equal(t, 1, reg.Len())
	require.Len(t, agg.Cities(), 1)
	assert.Equal(t, "Oslo", agg.Cities()[0].Name)

	err = agg.ReloadRegistry(ctx, rowsSource{{"country"}, {"Norway"}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, city.ErrLoad))
	assert.Equal(t, 1, reg.Len(), "failed reload keeps the previous registry")

	_, err = agg.GetProfile(ctx, "oslo")
	require.NoError(t, err)
}
