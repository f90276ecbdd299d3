// Package storage provides the two Backend implementations: a local profile
// (filesystem blobs + embedded SQLite event log) and a cloud profile
// (S3 blobs + DynamoDB event log). Both satisfy identical success and
// failure semantics; the weather service never knows which is active.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/skycache/weather-api/internal/weather"
)

const blobTimeFormat = "20060102_150405"

const createEventsTable = `
CREATE TABLE IF NOT EXISTS weather_events (
	event_id        TEXT PRIMARY KEY,
	city            TEXT NOT NULL,
	city_display    TEXT NOT NULL,
	status          TEXT NOT NULL,
	cache_outcome   TEXT NOT NULL,
	timestamp       TEXT NOT NULL,
	timestamp_epoch INTEGER NOT NULL,
	storage_path    TEXT,
	error_message   TEXT,
	latency_ms      INTEGER,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

// Local is the filesystem + SQLite storage backend. Snapshot blobs are
// written one file per capture under the content root; events are rows in
// the weather_events table.
type Local struct {
	root string
	db   *sql.DB
}

// NewLocal opens (creating if needed) the content root and the events
// database and runs the schema migration.
func NewLocal(root, dbPath string) (*Local, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open events db: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate events db: %w", err)
	}

	return &Local{root: root, db: db}, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(createEventsTable); err != nil {
		return err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_epoch ON weather_events(timestamp_epoch)`); err != nil {
		return err
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_city_display ON weather_events(city_display)`); err != nil {
		return err
	}
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_events_city_epoch ON weather_events(city, timestamp_epoch DESC)`)
	return err
}

// StoreSnapshot writes the snapshot payload to
// {normalized_city}_{UTC second timestamp}.json under the content root.
// An existing file under the same name is a conflict, surfaced but
// non-fatal to the lookup.
func (l *Local) StoreSnapshot(ctx context.Context, city string, snap weather.Snapshot) (string, error) {
	name := fmt.Sprintf("%s_%s.json", weather.NormalizeCity(city), snap.Timestamp.UTC().Format(blobTimeFormat))
	path := filepath.Join(l.root, name)

	payload, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode snapshot: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", weather.ErrStorageConflict, path)
		}
		return "", fmt.Errorf("create snapshot file: %w", err)
	}

	if _, err := f.Write(payload); err != nil {
		f.Close()
		return "", fmt.Errorf("write snapshot file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close snapshot file: %w", err)
	}

	return path, nil
}

// ReadSnapshot loads a snapshot blob previously written by StoreSnapshot.
// Inspection helper; not part of the Backend contract.
func (l *Local) ReadSnapshot(path string) (weather.Snapshot, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return weather.Snapshot{}, fmt.Errorf("read snapshot file: %w", err)
	}
	var snap weather.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return weather.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

// AppendEvent inserts one event row. Independent of snapshot writes: an
// event lands even when the blob write failed.
func (l *Local) AppendEvent(ctx context.Context, rec weather.EventRecord) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO weather_events
		(event_id, city, city_display, status, cache_outcome, timestamp,
		 timestamp_epoch, storage_path, error_message, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.EventID, weather.NormalizeCity(rec.City), rec.CityDisplay,
		string(rec.Status), string(rec.CacheOutcome),
		rec.Timestamp.UTC().Format(time.RFC3339Nano), rec.TimestampEpoch,
		rec.StoragePath, rec.ErrorMessage, rec.LatencyMS,
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// QueryEvents returns matching events, most recent first.
func (l *Local) QueryEvents(ctx context.Context, f weather.EventFilter) ([]weather.EventRecord, error) {
	q := `SELECT event_id, city, city_display, status, cache_outcome, timestamp,
		timestamp_epoch, storage_path, error_message, latency_ms
		FROM weather_events WHERE 1=1`
	var args []any

	if f.City != "" {
		q += " AND city = ?"
		args = append(args, f.City)
	}
	if !f.Since.IsZero() {
		q += " AND timestamp_epoch >= ?"
		args = append(args, f.Since.Unix())
	}

	q += " ORDER BY timestamp_epoch DESC, created_at DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var records []weather.EventRecord
	for rows.Next() {
		var (
			rec         weather.EventRecord
			ts          string
			storagePath sql.NullString
			errMsg      sql.NullString
			latency     sql.NullInt64
		)
		if err := rows.Scan(
			&rec.EventID, &rec.City, &rec.CityDisplay,
			(*string)(&rec.Status), (*string)(&rec.CacheOutcome),
			&ts, &rec.TimestampEpoch, &storagePath, &errMsg, &latency,
		); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		if parsed, perr := time.Parse(time.RFC3339Nano, ts); perr == nil {
			rec.Timestamp = parsed
		}
		rec.StoragePath = storagePath.String
		rec.ErrorMessage = errMsg.String
		rec.LatencyMS = latency.Int64
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountByCity returns per-city request counts since the given time,
// highest count first.
func (l *Local) CountByCity(ctx context.Context, since time.Time) ([]weather.CityCount, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT city_display, COUNT(*) AS cnt
		 FROM weather_events
		 WHERE timestamp_epoch >= ?
		 GROUP BY city_display
		 ORDER BY cnt DESC, city_display`,
		since.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	defer rows.Close()

	var counts []weather.CityCount
	for rows.Next() {
		var c weather.CityCount
		if err := rows.Scan(&c.City, &c.Count); err != nil {
			return nil, fmt.Errorf("scan count row: %w", err)
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// PurgeEvents deletes events older than before and returns the count.
func (l *Local) PurgeEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM weather_events WHERE timestamp_epoch < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("purge events: %w", err)
	}
	return res.RowsAffected()
}

// Ping checks that the content root exists and the database answers.
func (l *Local) Ping(ctx context.Context) error {
	info, err := os.Stat(l.root)
	if err != nil {
		return fmt.Errorf("%w: %v", weather.ErrStorageUnavailable, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", weather.ErrStorageUnavailable, l.root)
	}
	if err := l.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", weather.ErrStorageUnavailable, err)
	}
	return nil
}

// Close releases the database connection.
func (l *Local) Close() error {
	return l.db.Close()
}

var _ weather.Backend = (*Local)(nil)
