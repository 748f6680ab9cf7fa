package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS blobs (
	key TEXT PRIMARY KEY,
	data BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS history_records (
	id TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	prompt_text TEXT NOT NULL,
	result_text TEXT NOT NULL,
	image_ref TEXT,
	turn_image_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_history_records_created_at ON history_records(created_at);
`

// SQLite implements BlobStore and RecordStore on a single database file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database in dataDir.
func OpenSQLite(dataDir string) (*SQLite, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return openSQLite(filepath.Join(dataDir, "nano-banana.db"))
}

func openSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection serializes writes and guarantees read-your-writes.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &SQLite{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return s, nil
}

func (s *SQLite) initialize() error {
	if _, err := s.db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		return err
	}
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) Save(ctx context.Context, key string, blob []byte) error {
	if blob == nil {
		blob = []byte{}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (key, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		key, blob, time.Now().UnixMilli())
	return storeError("save image", err)
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE key = ?`, key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, storeError("read image", err)
	}
	return data, true, nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE key = ?`, key)
	return storeError("delete image", err)
}

func (s *SQLite) Clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blobs`)
	return storeError("clear images", err)
}

func (s *SQLite) SaveRecord(ctx context.Context, rec HistoryRecord) error {
	var imageRef sql.NullString
	if rec.ImageRef != "" {
		imageRef = sql.NullString{String: rec.ImageRef, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO history_records (id, created_at, prompt_text, result_text, image_ref, turn_image_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			created_at = excluded.created_at,
			prompt_text = excluded.prompt_text,
			result_text = excluded.result_text,
			image_ref = excluded.image_ref,
			turn_image_count = excluded.turn_image_count`,
		rec.ID, rec.Timestamp.UnixMilli(), rec.PromptText, rec.ResultText, imageRef, rec.TurnImageCount)
	return storeError("save history record", err)
}

func (s *SQLite) ListRecords(ctx context.Context) ([]HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, prompt_text, result_text, image_ref, turn_image_count
		FROM history_records ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, storeError("list history", err)
	}
	defer rows.Close()

	var out []HistoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, storeError("list history", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, storeError("list history", err)
	}
	return out, nil
}

func (s *SQLite) GetRecord(ctx context.Context, id string) (HistoryRecord, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, created_at, prompt_text, result_text, image_ref, turn_image_count
		FROM history_records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return HistoryRecord{}, false, nil
	}
	if err != nil {
		return HistoryRecord{}, false, storeError("read history record", err)
	}
	return rec, true, nil
}

func (s *SQLite) DeleteRecord(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM history_records WHERE id = ?`, id)
	return storeError("delete history record", err)
}

func (s *SQLite) ClearRecords(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM history_records`)
	return storeError("clear history", err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (HistoryRecord, error) {
	var (
		rec      HistoryRecord
		created  int64
		imageRef sql.NullString
	)
	if err := sc.Scan(&rec.ID, &created, &rec.PromptText, &rec.ResultText, &imageRef, &rec.TurnImageCount); err != nil {
		return HistoryRecord{}, err
	}
	rec.Timestamp = time.UnixMilli(created)
	rec.ImageRef = imageRef.String
	return rec, nil
}
