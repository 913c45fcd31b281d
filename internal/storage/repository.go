package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/neexbeast/cityrank/internal/city"
)

// Querier abstracts the subset of pgxpool.Pool used by Repository.
// This allows injection of a mock in tests.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// cityColumns is the header returned by Rows, in select order.
var cityColumns = []string{
	"name", "country", "population", "bars", "museums",
	"public_transport", "crime_rate", "average_hotel_cost",
}

// Repository reads and writes the cities table. It satisfies city.Source.
type Repository struct {
	q Querier
}

// NewRepository constructs a Repository backed by the given pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{q: pool}
}

// NewRepositoryWithQuerier constructs a Repository with a custom Querier (for tests).
func NewRepositoryWithQuerier(q Querier) *Repository {
	return &Repository{q: q}
}

// Rows returns the cities table as a header row followed by one text row per
// city, the same shape a CSV source produces. Validation is left to city.Build.
func (r *Repository) Rows(ctx context.Context) ([][]string, error) {
	const q = `
		SELECT name, country, population::text, bars::text, museums::text,
		       public_transport, crime_rate, average_hotel_cost
		FROM cities
		ORDER BY id
	`

	rows, err := r.q.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("querying cities: %w", err)
	}
	defer rows.Close()

	out := [][]string{append([]string(nil), cityColumns...)}
	for rows.Next() {
		row := make([]string, len(cityColumns))
		dest := make([]any, len(row))
		for i := range row {
			dest[i] = &row[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scanning city row: %w", err)
		}
		out = append(out, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating city rows: %w", err)
	}

	return out, nil
}

// UpsertCity inserts or updates a city. On conflict (name) every other column
// is overwritten.
func (r *Repository) UpsertCity(ctx context.Context, rec city.Record) error {
	const q = `
		INSERT INTO cities (name, country, population, bars, museums,
		                    public_transport, crime_rate, average_hotel_cost, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (name) DO UPDATE
		SET country            = EXCLUDED.country,
		    population         = EXCLUDED.population,
		    bars               = EXCLUDED.bars,
		    museums            = EXCLUDED.museums,
		    public_transport   = EXCLUDED.public_transport,
		    crime_rate         = EXCLUDED.crime_rate,
		    average_hotel_cost = EXCLUDED.average_hotel_cost,
		    updated_at         = EXCLUDED.updated_at
	`

	if _, err := r.q.Exec(ctx, q,
		rec.Name, rec.Country, rec.Population, rec.Bars, rec.Museums,
		rec.PublicTransport, rec.CrimeRate, rec.AverageHotelCost,
	); err != nil {
		return fmt.Errorf("upserting city %s: %w", rec.Name, err)
	}

	return nil
}

// Import upserts every record of src. src is validated with city.Build first,
// so a malformed table writes nothing.
func (r *Repository) Import(ctx context.Context, src city.Source) (int, error) {
	rows, err := src.Rows(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: reading source: %v", city.ErrLoad, err)
	}

	ix, err := city.Build(rows)
	if err != nil {
		return 0, err
	}

	recs := ix.All()
	for _, rec := range recs {
		if err := r.UpsertCity(ctx, rec); err != nil {
			return 0, err
		}
	}
	return len(recs), nil
}
