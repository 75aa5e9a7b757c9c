// Package records serves structured program and intake facts from
// Postgres. It complements retrieval: dates, fees, and seat counts come
// from rows, not from embedded prose.
package records

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AdmissionsAI/kai-engine/engine/domain"
)

// querier is the subset of pgxpool.Pool the store needs, kept narrow so
// tests can stub it.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Program is one row of the programs table.
type Program struct {
	ID            int64   `json:"id"`
	Name          string  `json:"name"`
	Mode          string  `json:"mode"`
	DurationWeeks int     `json:"duration_weeks"`
	FeeUSD        float64 `json:"fee_usd"`
	Eligibility   string  `json:"eligibility"`
}

// Intake is one admission window of a program.
type Intake struct {
	ProgramName         string    `json:"program"`
	IntakeName          string    `json:"intake"`
	StartDate           time.Time `json:"start_date"`
	ApplicationDeadline time.Time `json:"application_deadline"`
	Seats               int       `json:"seats"`
	Timezone            string    `json:"timezone"`
}

// Store reads admissions records.
type Store struct {
	db querier
}

// New creates a Store over a connection pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

func newWithQuerier(db querier) *Store {
	return &Store{db: db}
}

// Connect opens a pool against the given DSN and verifies it.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("records: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("records: ping: %w", err)
	}
	return pool, nil
}

// ProgramOverview returns programs matching name (case-insensitive
// substring), at most three.
func (s *Store) ProgramOverview(ctx context.Context, name string) ([]Program, error) {
	if name == "" {
		return nil, fmt.Errorf("program name is required: %w", domain.ErrInvalidConfig)
	}

	rows, err := s.db.Query(ctx, `
		SELECT id, name, mode, duration_weeks, fee_usd, eligibility
		FROM programs
		WHERE name ILIKE '%' || $1 || '%'
		ORDER BY name
		LIMIT 3`, name)
	if err != nil {
		return nil, fmt.Errorf("records: query programs: %w", err)
	}
	defer rows.Close()

	var out []Program
	for rows.Next() {
		var p Program
		if err := rows.Scan(&p.ID, &p.Name, &p.Mode, &p.DurationWeeks, &p.FeeUSD, &p.Eligibility); err != nil {
			return nil, fmt.Errorf("records: scan program: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("records: read programs: %w", err)
	}
	return out, nil
}

// ListIntakes returns upcoming intakes for programs matching name,
// soonest start first, at most ten.
func (s *Store) ListIntakes(ctx context.Context, name string) ([]Intake, error) {
	if name == "" {
		return nil, fmt.Errorf("program name is required: %w", domain.ErrInvalidConfig)
	}

	rows, err := s.db.Query(ctx, `
		SELECT p.name, i.intake_name, i.start_date, i.application_deadline, i.seats, i.timezone
		FROM intakes i
		JOIN programs p ON p.id = i.program_id
		WHERE p.name ILIKE '%' || $1 || '%'
		ORDER BY i.start_date
		LIMIT 10`, name)
	if err != nil {
		return nil, fmt.Errorf("records: query intakes: %w", err)
	}
	defer rows.Close()

	var out []Intake
	for rows.Next() {
		var in Intake
		if err := rows.Scan(&in.ProgramName, &in.IntakeName, &in.StartDate, &in.ApplicationDeadline, &in.Seats, &in.Timezone); err != nil {
			return nil, fmt.Errorf("records: scan intake: %w", err)
		}
		out = append(out, in)
	}
	if err := rows.Err(); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("records: read intakes: %w", err)
	}
	return out, nil
}
