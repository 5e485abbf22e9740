package storage

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/url"

	_ "modernc.org/sqlite"
)

var (
	// ErrNotFound is returned when a device or profile does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateProfile is returned when a profile name is already taken.
	ErrDuplicateProfile = errors.New("profile name already exists")
)

// maxQueryVariables keeps IN lists under SQLite's bound parameter limit.
const maxQueryVariables = 999

type Repository struct {
	db     *sql.DB
	logger *slog.Logger
}

// New opens the database at dbPath and applies pending migrations.
func New(ctx context.Context, dbPath string, logger *slog.Logger) (*Repository, error) {
	db, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewWithDB(db, logger), nil
}

// Open returns a single-connection handle so writes are serialized.
func Open(dbPath string) (*sql.DB, error) {
	query := url.Values{}
	query.Add("_pragma", "journal_mode(WAL)")
	query.Add("_pragma", "busy_timeout(5000)")
	query.Add("_pragma", "foreign_keys(1)")
	db, err := sql.Open("sqlite", "file:"+dbPath+"?"+query.Encode())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	return db, nil
}

// NewWithDB wraps an already migrated handle.
func NewWithDB(db *sql.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{db: db, logger: logger}
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}
