// Package postgres implements the persistent side of the ingestion run:
// city registry, raw archive, idempotent weather merge, and the audit log.
// The schema is consumed, not defined here.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/citywx/weather-ingest/internal/config"
	"github.com/citywx/weather-ingest/internal/domain"
)

// Store owns the single connection of a run. Each invocation opens its own
// connection; nothing is shared across runs.
type Store struct {
	conn   *pgx.Conn
	logger *slog.Logger
}

// Connect opens and pings the run's connection.
func Connect(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Store, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s",
		url.QueryEscape(cfg.DBUser), url.QueryEscape(cfg.DBPassword), cfg.DBDSN)

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Debug("connected to postgres", "dsn", cfg.DBDSN, "user", cfg.DBUser)
	return &Store{conn: conn, logger: logger}, nil
}

// Close releases the connection.
func (s *Store) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

// Begin opens the run transaction. All writes of one run go through the
// returned handle and become visible atomically on Commit.
func (s *Store) Begin(ctx context.Context) (*RunTx, error) {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &RunTx{tx: tx}, nil
}

// RunTx is the transaction-scoped store handle passed through the pipeline.
type RunTx struct {
	tx pgx.Tx
}

// Commit makes the run's writes durable.
func (t *RunTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback discards the run's writes. Calling it after Commit is a no-op
// error (pgx.ErrTxClosed), which makes an unconditional deferred Rollback
// safe on every exit path.
func (t *RunTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}

// ListActiveCities returns the active ingestion targets ordered by id
// ascending. Deterministic order is load-bearing: the provider response is
// paired with cities by position.
func (t *RunTx) ListActiveCities(ctx context.Context) ([]domain.City, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT city_id, latitude, longitude
		FROM cities
		WHERE is_active
		ORDER BY city_id`)
	if err != nil {
		return nil, fmt.Errorf("list active cities: %w", err)
	}
	defer rows.Close()

	var cities []domain.City
	for rows.Next() {
		var c domain.City
		if err := rows.Scan(&c.ID, &c.Latitude, &c.Longitude); err != nil {
			return nil, fmt.Errorf("scan city: %w", err)
		}
		cities = append(cities, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active cities: %w", err)
	}
	return cities, nil
}

// ArchiveRaw appends one raw payload row (success or failure) and returns
// the assigned raw id. A failed id read-back is fatal to the run: without
// the raw-batch anchor nothing derived from the payload is traceable.
func (t *RunTx) ArchiveRaw(ctx context.Context, batch domain.RawBatch) (int64, error) {
	var rawID int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO raw_import (source, request_url, payload_format, payload, status, err_msg, payload_hash)
		VALUES ('open-meteo', $1, 'JSON', $2, $3, $4, $5)
		RETURNING raw_id`,
		batch.RequestURL, batch.Payload, string(batch.Status), batch.ErrMsg, batch.PayloadHash,
	).Scan(&rawID)
	if err != nil {
		return 0, fmt.Errorf("archive raw payload: %w", err)
	}
	return rawID, nil
}

// MergeObservations inserts rows whose (city_id, observed_at_utc) key is not
// already present and reports how many actually landed. Existing keys are
// left untouched, which makes re-running the pipeline against the same
// provider state safe. Executed as one batched round trip.
func (t *RunTx) MergeObservations(ctx context.Context, rows []domain.Observation) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO weather (city_id, raw_id, observed_at_utc, utc_offset_seconds,
			                     temperature_c, humidity_pct, precipitation_mm, wind_speed_kmh)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (city_id, observed_at_utc) DO NOTHING`,
			r.CityID, r.RawID, r.ObservedAtUTC, r.UTCOffsetSeconds,
			r.TemperatureC, r.HumidityPct, r.PrecipitationMM, r.WindSpeedKmh)
	}

	results := t.tx.SendBatch(ctx, batch)

	var inserted int64
	for range rows {
		tag, err := results.Exec()
		if err != nil {
			results.Close()
			return 0, fmt.Errorf("merge observations: %w", err)
		}
		inserted += tag.RowsAffected()
	}
	if err := results.Close(); err != nil {
		return 0, fmt.Errorf("merge observations: %w", err)
	}
	return inserted, nil
}

// LogEvent appends one audit row. Audit rows ride the run transaction, so
// they commit or vanish together with the data they describe.
func (t *RunTx) LogEvent(ctx context.Context, ev domain.AuditEvent) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO logs (log_level, source, action, result, sqlcode, error_message,
		                  city_id, raw_id, weather_id, app_user, run_id, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		ev.Level, ev.Source, ev.Action, ev.Result, ev.SQLCode, ev.ErrorMessage,
		ev.CityID, ev.RawID, ev.WeatherID, ev.AppUser, ev.RunID, ev.Details)
	if err != nil {
		return fmt.Errorf("write audit event: %w", err)
	}
	return nil
}

// SQLCode extracts the engine error code from a pgx error chain, for the
// sqlcode column of audit events. Nil when the error is not a server error.
func SQLCode(err error) *string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code != "" {
		code := pgErr.Code
		return &code
	}
	return nil
}
