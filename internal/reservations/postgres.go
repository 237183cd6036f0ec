package reservations

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"voice-reservation-assistant/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS reservations (
    id         BIGSERIAL PRIMARY KEY,
    name       TEXT NOT NULL,
    phone      TEXT NOT NULL,
    date       TEXT NOT NULL,
    time       TEXT NOT NULL,
    people     INTEGER NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Postgres stores reservations in PostgreSQL via a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
	log  zerolog.Logger
}

// NewPostgres connects to the database and verifies the connection.
func NewPostgres(ctx context.Context, dsn string, log zerolog.Logger) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool, log: log}, nil
}

// EnsureSchema creates the reservations table when it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (p *Postgres) CreateReservation(ctx context.Context, draft models.ReservationDraft) (int64, error) {
	if err := ValidateDraft(&draft); err != nil {
		return 0, err
	}

	var id int64
	err := p.pool.QueryRow(ctx,
		`INSERT INTO reservations (name, phone, date, time, people)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		draft.Name, draft.Phone, draft.Date, draft.Time, draft.PartySize,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert reservation: %w", err)
	}

	p.log.Info().
		Int64("id", id).
		Str("date", draft.Date).
		Str("time", draft.Time).
		Int("people", draft.PartySize).
		Msg("reservation saved")
	return id, nil
}

func (p *Postgres) ListReservations(ctx context.Context, date string) ([]Reservation, error) {
	query := `SELECT id, name, phone, date, time, people, created_at
	          FROM reservations`
	args := []any{}
	if date != "" {
		query += ` WHERE date = $1`
		args = append(args, date)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	var out []Reservation
	for rows.Next() {
		var r Reservation
		if err := rows.Scan(&r.ID, &r.Name, &r.Phone, &r.Date, &r.Time, &r.PartySize, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reservation: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
