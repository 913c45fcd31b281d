package city

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strconv"
	"strings"
	"sync/atomic"
)

// Column names recognised in the header row. "city" is accepted for the name
// column because the published european_cities.csv uses it.
const (
	colName             = "name"
	colCity             = "city"
	colCountry          = "country"
	colPopulation       = "population"
	colBars             = "bars"
	colMuseums          = "museums"
	colPublicTransport  = "public_transport"
	colCrimeRate        = "crime_rate"
	colAverageHotelCost = "average_hotel_cost"
)

// Source produces a header-described table: the first row names the columns.
type Source interface {
	Rows(ctx context.Context) ([][]string, error)
}

// NormalizeName returns the case-insensitive lookup key for a city name.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Index is an immutable, fully built lowercase-name index.
type Index struct {
	byName map[string]Record
}

// Len returns the number of indexed cities.
func (ix *Index) Len() int {
	return len(ix.byName)
}

// Get returns the record for name, matched case-insensitively.
func (ix *Index) Get(name string) (Record, bool) {
	r, ok := ix.byName[NormalizeName(name)]
	if !ok {
		return Record{}, false
	}
	return r.clone(), true
}

// All returns every record ordered by lowercased name.
func (ix *Index) All() []Record {
	out := make([]Record, 0, len(ix.byName))
	for _, rec := range ix.byName {
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

// clone returns a copy that shares no mutable state with the index.
func (r Record) clone() Record {
	r.Extra = maps.Clone(r.Extra)
	return r
}

// Build parses rows into an Index. The first row is the header.
// Any malformed input rejects the whole table.
func Build(rows [][]string) (*Index, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: missing header row", ErrLoad)
	}

	header := make([]string, len(rows[0]))
	cols := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		h = strings.ToLower(strings.TrimSpace(h))
		header[i] = h
		if _, dup := cols[h]; !dup {
			cols[h] = i
		}
	}

	nameCol, ok := cols[colName]
	if !ok {
		nameCol, ok = cols[colCity]
	}
	if !ok {
		return nil, fmt.Errorf("%w: header has no %q column", ErrLoad, colName)
	}

	byName := make(map[string]Record, len(rows)-1)
	for i, row := range rows[1:] {
		line := i + 2
		if len(row) != len(header) {
			return nil, fmt.Errorf("%w: row %d has %d fields, header has %d", ErrLoad, line, len(row), len(header))
		}

		rec, err := buildRecord(header, cols, nameCol, row)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrLoad, line, err)
		}

		key := rec.Key()
		if _, dup := byName[key]; dup {
			return nil, fmt.Errorf("%w: row %d: duplicate city %q", ErrLoad, line, rec.Name)
		}
		byName[key] = rec
	}

	return &Index{byName: byName}, nil
}

func buildRecord(header []string, cols map[string]int, nameCol int, row []string) (Record, error) {
	cell := func(col string) string {
		if i, ok := cols[col]; ok {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	rec := Record{
		Name:             strings.TrimSpace(row[nameCol]),
		Country:          cell(colCountry),
		PublicTransport:  cell(colPublicTransport),
		CrimeRate:        cell(colCrimeRate),
		AverageHotelCost: cell(colAverageHotelCost),
	}
	if rec.Name == "" {
		return Record{}, fmt.Errorf("empty city name")
	}

	ints := []struct {
		col string
		dst *int
	}{
		{colPopulation, &rec.Population},
		{colBars, &rec.Bars},
		{colMuseums, &rec.Museums},
	}
	for _, f := range ints {
		v := cell(f.col)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return Record{}, fmt.Errorf("column %s: %q is not an integer", f.col, v)
		}
		*f.dst = n
	}

	for i, h := range header {
		if i == nameCol || isKnownColumn(h) {
			continue
		}
		if rec.Extra == nil {
			rec.Extra = make(map[string]string)
		}
		rec.Extra[h] = strings.TrimSpace(row[i])
	}

	return rec, nil
}

func isKnownColumn(h string) bool {
	switch h {
	case colName, colCity, colCountry, colPopulation, colBars, colMuseums,
		colPublicTransport, colCrimeRate, colAverageHotelCost:
		return true
	}
	return false
}

// Registry serves lookups from the active Index and swaps in a new one on reload.
// The zero value is an empty registry ready for use.
type Registry struct {
	active atomic.Pointer[Index]
}

// NewRegistry loads src and returns a registry serving it.
func NewRegistry(ctx context.Context, src Source) (*Registry, error) {
	r := &Registry{}
	if err := r.Reload(ctx, src); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload reads src, builds a new index, and swaps it in atomically.
// On failure the previous index stays active.
func (r *Registry) Reload(ctx context.Context, src Source) error {
	rows, err := src.Rows(ctx)
	if err != nil {
		return fmt.Errorf("%w: reading source: %v", ErrLoad, err)
	}

	ix, err := Build(rows)
	if err != nil {
		return err
	}

	r.active.Store(ix)
	return nil
}

func (r *Registry) index() *Index {
	if ix := r.active.Load(); ix != nil {
		return ix
	}
	return &Index{}
}

// Get returns the record for name, matched case-insensitively.
// Unknown names return false.
func (r *Registry) Get(name string) (Record, bool) {
	return r.index().Get(name)
}

// Len returns the number of cities in the active index.
func (r *Registry) Len() int {
	return r.index().Len()
}

// All returns every record of the active index ordered by lowercased name.
func (r *Registry) All() []Record {
	return r.index().All()
}
