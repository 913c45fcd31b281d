package city

import "errors"

var (
	// ErrNotFound is returned when a city is absent from the registry.
	ErrNotFound = errors.New("city not found")

	// ErrLoad is wrapped by every error that rejects a reference-data load.
	ErrLoad = errors.New("loading city reference data")
)

// Record is one immutable row of city reference data.
type Record struct {
	Name             string            `json:"name"`
	Country          string            `json:"country"`
	Population       int               `json:"population"`
	Bars             int               `json:"bars"`
	Museums          int               `json:"museums"`
	PublicTransport  string            `json:"public_transport"`
	CrimeRate        string            `json:"crime_rate"`
	AverageHotelCost string            `json:"average_hotel_cost"`
	Extra            map[string]string `json:"extra,omitempty"`
}

// Key returns the registry key for the record.
func (r Record) Key() string {
	return NormalizeName(r.Name)
}
