package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pastel-deals/internal/models"
)

const (
	insertRecordSQL = `INSERT OR IGNORE INTO deal_records
		(source, game_id, bucket_ts, title, observed_at)
		VALUES (?, ?, ?, ?, ?);`

	existsRecordSQL = `SELECT 1 FROM deal_records
		WHERE source = ? AND game_id = ? AND bucket_ts = ?;`

	pruneRecordsSQL = `DELETE FROM deal_records WHERE observed_at < ?;`

	countRecordsSQL = `SELECT COUNT(*) FROM deal_records;`

	listRecentRecordsSQL = `SELECT source, game_id, bucket_ts, title, observed_at
		FROM deal_records
		ORDER BY observed_at DESC
		LIMIT ?;`

	getThreadRootSQL = `SELECT event_id FROM thread_roots WHERE category = ?;`

	setThreadRootSQL = `INSERT INTO thread_roots (category, event_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT (category) DO NOTHING;`

	saveRateSQL = `INSERT INTO exchange_rates (base, quote, rate, fetched_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (base, quote) DO UPDATE
		SET rate = excluded.rate, fetched_at = excluded.fetched_at;`

	loadRatesSQL = `SELECT quote, rate, fetched_at FROM exchange_rates WHERE base = ?;`
)

// DealRecordStore defines the dedup-store operations used by the pipeline.
type DealRecordStore interface {
	InsertRecord(ctx context.Context, rec models.DealRecord) error
	ExistsRecord(ctx context.Context, source models.Source, gameID string, bucket time.Time) (bool, error)
	PruneRecords(ctx context.Context, olderThan time.Duration) (int64, error)
	CountRecords(ctx context.Context) (int64, error)
}

// ThreadRootStore persists per-category thread roots for the publisher.
type ThreadRootStore interface {
	ThreadRoot(ctx context.Context, category string) (string, error)
	SetThreadRoot(ctx context.Context, category, eventID string) error
}

// RateSnapshot is one persisted exchange-rate entry.
type RateSnapshot struct {
	Quote     string
	Rate      decimal.Decimal
	FetchedAt time.Time
}

// RateSnapshotStore persists the exchange-rate cache across restarts.
type RateSnapshotStore interface {
	SaveRates(ctx context.Context, base string, rates []RateSnapshot) error
	LoadRates(ctx context.Context, base string) ([]RateSnapshot, error)
}

// InsertRecord inserts a deal record, returning ErrDuplicateRecord when the
// (source, game_id, bucket) key is already present.
func (s *Store) InsertRecord(ctx context.Context, rec models.DealRecord) error {
	res, err := s.db.ExecContext(ctx, insertRecordSQL,
		string(rec.Source), rec.GameID, rec.Bucket.UTC().Unix(),
		rec.Title, rec.ObservedAt.UTC().Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert deal record: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert deal record: %w", err)
	}
	if affected == 0 {
		return ErrDuplicateRecord
	}
	return nil
}

// ExistsRecord reports whether the dedup key has been seen.
func (s *Store) ExistsRecord(ctx context.Context, source models.Source, gameID string, bucket time.Time) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, existsRecordSQL,
		string(source), gameID, bucket.UTC().Unix(),
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check deal record: %w", err)
	}
	return true, nil
}

// PruneRecords deletes records observed before now-olderThan and returns the
// number removed. An active deal is always re-observed (and re-inserted with
// a fresh observed_at) within its poll interval, so pruning never drops a
// record still needed for suppression.
func (s *Store) PruneRecords(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.db.ExecContext(ctx, pruneRecordsSQL, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("prune deal records: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune deal records: %w", err)
	}
	return deleted, nil
}

// CountRecords returns the number of persisted deal records.
func (s *Store) CountRecords(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, countRecordsSQL).Scan(&count); err != nil {
		return 0, fmt.Errorf("count deal records: %w", err)
	}
	return count, nil
}

// ListRecentRecords returns the newest records by observation time.
func (s *Store) ListRecentRecords(ctx context.Context, limit int) ([]models.DealRecord, error) {
	rows, err := s.db.QueryContext(ctx, listRecentRecordsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("list deal records: %w", err)
	}
	defer rows.Close()

	var records []models.DealRecord
	for rows.Next() {
		var rec models.DealRecord
		var source string
		var bucketUnix, observedUnix int64
		if err := rows.Scan(&source, &rec.GameID, &bucketUnix, &rec.Title, &observedUnix); err != nil {
			return nil, fmt.Errorf("scan deal record: %w", err)
		}
		rec.Source = models.Source(source)
		rec.Bucket = time.Unix(bucketUnix, 0).UTC()
		rec.ObservedAt = time.Unix(observedUnix, 0).UTC()
		records = append(records, rec)
	}
	return records, rows.Err()
}

// ThreadRoot returns the recorded root event id for a category, or "" when
// no root exists yet.
func (s *Store) ThreadRoot(ctx context.Context, category string) (string, error) {
	var eventID string
	err := s.db.QueryRowContext(ctx, getThreadRootSQL, category).Scan(&eventID)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get thread root: %w", err)
	}
	return eventID, nil
}

// SetThreadRoot records the root event id for a category. The first write
// wins; roots are never replaced during normal operation.
func (s *Store) SetThreadRoot(ctx context.Context, category, eventID string) error {
	if _, err := s.db.ExecContext(ctx, setThreadRootSQL, category, eventID, time.Now().UTC().Unix()); err != nil {
		return fmt.Errorf("set thread root: %w", err)
	}
	return nil
}

// SaveRates upserts the rate table for a base currency.
func (s *Store) SaveRates(ctx context.Context, base string, rates []RateSnapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save rates: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range rates {
		if _, err := tx.ExecContext(ctx, saveRateSQL,
			base, r.Quote, r.Rate.String(), r.FetchedAt.UTC().Unix(),
		); err != nil {
			return fmt.Errorf("save rate %s/%s: %w", base, r.Quote, err)
		}
	}
	return tx.Commit()
}

// LoadRates returns the persisted rate snapshot for a base currency.
func (s *Store) LoadRates(ctx context.Context, base string) ([]RateSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, loadRatesSQL, base)
	if err != nil {
		return nil, fmt.Errorf("load rates: %w", err)
	}
	defer rows.Close()

	var rates []RateSnapshot
	for rows.Next() {
		var snap RateSnapshot
		var rateStr string
		var fetchedUnix int64
		if err := rows.Scan(&snap.Quote, &rateStr, &fetchedUnix); err != nil {
			return nil, fmt.Errorf("scan rate: %w", err)
		}
		rate, err := decimal.NewFromString(rateStr)
		if err != nil {
			return nil, fmt.Errorf("parse rate %s: %w", rateStr, err)
		}
		snap.Rate = rate
		snap.FetchedAt = time.Unix(fetchedUnix, 0).UTC()
		rates = append(rates, snap)
	}
	return rates, rows.Err()
}

var (
	_ DealRecordStore   = (*Store)(nil)
	_ ThreadRootStore   = (*Store)(nil)
	_ RateSnapshotStore = (*Store)(nil)
)
