package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	upsertObservationSQL = `INSERT INTO rate_observations (
        bucket_ts,
        source,
        rate,
        details,
        stale,
        status,
        error
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7
    )
    ON CONFLICT (bucket_ts, source) DO UPDATE
    SET
        rate    = EXCLUDED.rate,
        details = EXCLUDED.details,
        stale   = EXCLUDED.stale,
        status  = EXCLUDED.status,
        error   = EXCLUDED.error;`

	listObservationsBetweenSQL = `SELECT
        bucket_ts,
        source,
        rate,
        details,
        stale,
        status,
        error,
        created_at
    FROM rate_observations
    WHERE source = $1
      AND bucket_ts >= $2
      AND bucket_ts < $3
    ORDER BY bucket_ts;`

	listRecentObservationsSQL = `SELECT
        bucket_ts,
        source,
        rate,
        details,
        stale,
        status,
        error,
        created_at
    FROM rate_observations
    WHERE source = $1
    ORDER BY bucket_ts DESC
    LIMIT $2;`

	countObservationsSQL = `SELECT COUNT(*) FROM rate_observations;`

	insertTrendAlertSQL = `INSERT INTO trend_alerts (
        sample_ts,
        rate,
        change_pct,
        threshold_pct,
        trend,
        channels
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (sample_ts) DO UPDATE
    SET rate          = EXCLUDED.rate,
        change_pct    = EXCLUDED.change_pct,
        threshold_pct = EXCLUDED.threshold_pct,
        trend         = EXCLUDED.trend,
        channels      = EXCLUDED.channels
    RETURNING id, sample_ts, rate, change_pct, threshold_pct, trend, channels, created_at;`

	listRecentTrendAlertsSQL = `SELECT
        id,
        sample_ts,
        rate,
        change_pct,
        threshold_pct,
        trend,
        channels,
        created_at
    FROM trend_alerts
    ORDER BY created_at DESC
    LIMIT $1;`

	deleteTrendAlertsBeforeSQL = `DELETE FROM trend_alerts WHERE created_at < $1;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ObservationStore defines operations for archived readings.
type ObservationStore interface {
	UpsertObservation(ctx context.Context, obs RateObservation) error
	ListObservationsBetween(ctx context.Context, source string, from, to time.Time) ([]RateObservation, error)
	ListRecentObservations(ctx context.Context, source string, limit int) ([]RateObservation, error)
	CountObservations(ctx context.Context) (int64, error)
}

// TrendAlertStore defines operations for alert auditing.
type TrendAlertStore interface {
	InsertTrendAlert(ctx context.Context, alert TrendAlertRecord) (TrendAlertRecord, error)
	ListRecentTrendAlerts(ctx context.Context, limit int) ([]TrendAlertRecord, error)
	DeleteTrendAlertsBefore(ctx context.Context, olderThan time.Time) error
}

// AdvisoryLocker exposes advisory lock helpers.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to observations and trend alerts.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := conn.Exec(ctxUnlock, advisoryUnlockSQL, key); err != nil {
			// unlock best effort; log omitted in storage package
		}
		conn.Release()
	}
	return unlock, true, nil
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// UpsertObservation persists or updates a reading for its bucket and source.
func (s *Store) UpsertObservation(ctx context.Context, obs RateObservation) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var details interface{}
	if len(obs.Details) > 0 {
		details = []byte(obs.Details)
	}

	var errMsg interface{}
	if obs.Error != nil {
		errMsg = *obs.Error
	}

	_, execErr := pool.Exec(ctx, upsertObservationSQL,
		obs.Bucket,
		obs.Source,
		obs.Rate.String(),
		details,
		obs.Stale,
		obs.Status,
		errMsg,
	)
	if execErr != nil {
		return fmt.Errorf("upsert observation: %w", execErr)
	}
	return nil
}

// ListObservationsBetween lists one source's observations within a time window.
func (s *Store) ListObservationsBetween(ctx context.Context, source string, from, to time.Time) ([]RateObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listObservationsBetweenSQL, source, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list observations between: %w", queryErr)
	}
	defer rows.Close()

	observations := make([]RateObservation, 0)
	for rows.Next() {
		obs, scanErr := scanObservation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

// ListRecentObservations lists one source's latest observations, newest first.
func (s *Store) ListRecentObservations(ctx context.Context, source string, limit int) ([]RateObservation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentObservationsSQL, source, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent observations: %w", queryErr)
	}
	defer rows.Close()

	observations := make([]RateObservation, 0, limit)
	for rows.Next() {
		obs, scanErr := scanObservation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

// CountObservations counts stored observations across all sources.
func (s *Store) CountObservations(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countObservationsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count observations: %w", scanErr)
	}
	return count, nil
}

// InsertTrendAlert persists an alert emission.
func (s *Store) InsertTrendAlert(ctx context.Context, alert TrendAlertRecord) (TrendAlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return TrendAlertRecord{}, err
	}

	row := pool.QueryRow(ctx, insertTrendAlertSQL,
		alert.SampleTS,
		alert.Rate.String(),
		alert.ChangePct.String(),
		alert.ThresholdPct.String(),
		alert.Trend,
		alert.Channels,
	)

	rec, scanErr := scanTrendAlert(row)
	if scanErr != nil {
		return TrendAlertRecord{}, fmt.Errorf("insert trend alert: %w", scanErr)
	}
	return rec, nil
}

// ListRecentTrendAlerts lists most recent alerts.
func (s *Store) ListRecentTrendAlerts(ctx context.Context, limit int) ([]TrendAlertRecord, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentTrendAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent trend alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]TrendAlertRecord, 0, limit)
	for rows.Next() {
		rec, scanErr := scanTrendAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, rec)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// DeleteTrendAlertsBefore deletes historical alerts.
func (s *Store) DeleteTrendAlertsBefore(ctx context.Context, olderThan time.Time) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteTrendAlertsBeforeSQL, olderThan); execErr != nil {
		return fmt.Errorf("delete trend alerts before: %w", execErr)
	}
	return nil
}

func scanObservation(rows pgx.Rows) (RateObservation, error) {
	var (
		bucket    time.Time
		source    string
		rateStr   string
		details   []byte
		stale     bool
		status    string
		errMsg    sql.NullString
		createdAt time.Time
	)

	if err := rows.Scan(
		&bucket,
		&source,
		&rateStr,
		&details,
		&stale,
		&status,
		&errMsg,
		&createdAt,
	); err != nil {
		return RateObservation{}, err
	}

	rate, err := decimal.NewFromString(rateStr)
	if err != nil {
		return RateObservation{}, fmt.Errorf("parse observation rate: %w", err)
	}

	obs := RateObservation{
		Bucket:    bucket,
		Source:    source,
		Rate:      rate,
		Stale:     stale,
		Status:    status,
		CreatedAt: createdAt,
	}
	if len(details) > 0 {
		obs.Details = json.RawMessage(details)
	}
	if errMsg.Valid {
		msg := errMsg.String
		obs.Error = &msg
	}

	return obs, nil
}

func scanTrendAlert(row pgx.Row) (TrendAlertRecord, error) {
	var rec TrendAlertRecord
	var rateStr, changeStr, thresholdStr string
	if err := row.Scan(
		&rec.ID,
		&rec.SampleTS,
		&rateStr,
		&changeStr,
		&thresholdStr,
		&rec.Trend,
		&rec.Channels,
		&rec.CreatedAt,
	); err != nil {
		return TrendAlertRecord{}, err
	}

	var convErr error
	rec.Rate, convErr = decimal.NewFromString(rateStr)
	if convErr != nil {
		return TrendAlertRecord{}, fmt.Errorf("parse alert rate: %w", convErr)
	}
	rec.ChangePct, convErr = decimal.NewFromString(changeStr)
	if convErr != nil {
		return TrendAlertRecord{}, fmt.Errorf("parse alert change pct: %w", convErr)
	}
	rec.ThresholdPct, convErr = decimal.NewFromString(thresholdStr)
	if convErr != nil {
		return TrendAlertRecord{}, fmt.Errorf("parse alert threshold pct: %w", convErr)
	}

	return rec, nil
}
