package tokenstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"signin/pkg/logging"
	"signin/pkg/oauth"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS credential (
	slot       INTEGER PRIMARY KEY CHECK (slot = 1),
	record     BLOB    NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore keeps the credential record in a single-row SQLite table.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (and creates when missing) the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create credential table: %w", err)
	}
	if err := os.Chmod(path, 0600); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set database permissions: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, cred *oauth.Credential) error {
	data, err := encodeRecord(cred)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO credential (slot, record, updated_at) VALUES (1, ?, ?)
		 ON CONFLICT(slot) DO UPDATE SET record = excluded.record, updated_at = excluded.updated_at`,
		data, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("failed to store credential in sqlite: %w", err)
	}
	logging.Audit("TokenStore", "credential_stored",
		slog.String("backend", BackendSQLite),
		slog.String("issuer", cred.Issuer))
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context) (*oauth.Credential, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx, `SELECT record FROM credential WHERE slot = 1`).Scan(&data)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read credential from sqlite: %w", err)
	}
	return decodeRecord(data)
}

func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM credential WHERE slot = 1`); err != nil {
		return fmt.Errorf("failed to delete credential from sqlite: %w", err)
	}
	logging.Audit("TokenStore", "credential_cleared", slog.String("backend", BackendSQLite))
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
