package store

import (
	"context"
	_ "embed"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/xerrors"

	"github.com/PratikDhanave/wheel-activity-tracker/internal/models"
)

// schemaSQL is embedded so the service can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore is the durable storage for finalized daily statistics.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, xerrors.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, xerrors.Errorf("ping database: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schemaSQL); err != nil {
		return xerrors.Errorf("apply schema: %w", err)
	}
	return nil
}

// Ping is used by readiness endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

// UpsertDailyStats writes every row of date in one transaction. Existing rows
// are overwritten, so re-exporting a day is safe.
func (p *PostgresStore) UpsertDailyStats(ctx context.Context, date models.Date, rows []models.DailyStatRow) error {
	if len(rows) == 0 {
		return nil
	}
	day := date.Midnight(time.UTC)

	err := pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, row := range rows {
			if row.HamsterID == "" {
				return xerrors.New("hamster id required")
			}
			batch.Queue(`
				INSERT INTO daily_stats(date, hamster_id, total_rounds, is_active, updated_at)
				VALUES ($1, $2, $3, $4, now())
				ON CONFLICT (date, hamster_id) DO UPDATE
				SET total_rounds = EXCLUDED.total_rounds,
				    is_active    = EXCLUDED.is_active,
				    updated_at   = now()
			`, day, row.HamsterID, row.TotalRounds, row.IsActive)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
	if err != nil {
		return xerrors.Errorf("upsert daily stats for %s: %w", date, err)
	}
	return nil
}

// LoadDailyStats returns the persisted rows of date. found is false when the
// day has never been exported.
func (p *PostgresStore) LoadDailyStats(ctx context.Context, date models.Date) (map[string]models.HamsterStats, bool, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT hamster_id, total_rounds, is_active
		FROM daily_stats
		WHERE date = $1
	`, date.Midnight(time.UTC))
	if err != nil {
		return nil, false, xerrors.Errorf("query daily stats: %w", err)
	}
	defer rows.Close()

	out := map[string]models.HamsterStats{}
	for rows.Next() {
		var (
			hamsterID string
			stats     models.HamsterStats
		)
		if err := rows.Scan(&hamsterID, &stats.TotalRounds, &stats.IsActive); err != nil {
			return nil, false, xerrors.Errorf("scan daily stats: %w", err)
		}
		out[hamsterID] = stats
	}
	if err := rows.Err(); err != nil {
		return nil, false, xerrors.Errorf("read daily stats: %w", err)
	}
	return out, len(out) > 0, nil
}
