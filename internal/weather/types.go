package weather

import (
	"errors"
	"fmt"
	"time"
)

// ErrTransport marks a failed provider round trip (network error, bad status,
// undecodable body, open circuit). It is never a confirmed absence of data.
var ErrTransport = errors.New("weather provider unavailable")

// dateLayout is the ISO date format of Observation.ApplicableDate.
const dateLayout = "2006-01-02"

// Record is the observation served for a city.
type Record struct {
	Temperature  float64   `json:"temperature"`
	Description  string    `json:"description"`
	ObservedDate time.Time `json:"observed_date"`
}

// SearchResult is one candidate location returned by a provider search.
type SearchResult struct {
	Title        string `json:"title"`
	LocationType string `json:"location_type"`
	LocationID   int64  `json:"woeid"`
	LattLong     string `json:"latt_long"`
}

// Observation is one daily entry of a location's consolidated weather.
type Observation struct {
	ApplicableDate   string  `json:"applicable_date"`
	TheTemp          float64 `json:"the_temp"`
	WeatherStateName string  `json:"weather_state_name"`
}

// Record converts the observation, parsing its date.
func (o Observation) Record() (Record, error) {
	d, err := time.Parse(dateLayout, o.ApplicableDate)
	if err != nil {
		return Record{}, fmt.Errorf("parsing applicable_date %q: %w", o.ApplicableDate, err)
	}
	return Record{
		Temperature:  o.TheTemp,
		Description:  o.WeatherStateName,
		ObservedDate: d,
	}, nil
}

// Latest returns the observation with the greatest date. On equal dates the
// earliest one in the slice wins. It fails only on an unparsable date.
func Latest(obs []Observation) (Record, error) {
	var (
		best  Record
		found bool
	)
	for _, o := range obs {
		rec, err := o.Record()
		if err != nil {
			return Record{}, err
		}
		if !found || rec.ObservedDate.After(best.ObservedDate) {
			best = rec
			found = true
		}
	}
	if !found {
		return Record{}, errors.New("no observations")
	}
	return best, nil
}
