package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/mattn/go-sqlite3" // register sqlite3 driver

	"github.com/codeready-toolchain/relay/pkg/wire"
)

// SQLiteStore persists thread history in a single-file SQLite database. It is
// the default backend: one process, one file, nothing else to run.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the database at dbPath and
// applies pending migrations. An empty dbPath defaults to "./data/relay.db".
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		dbPath = "./data/relay.db"
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	driver, err := sqlitemigrate.WithInstance(db, &sqlitemigrate.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create sqlite migration driver: %w", err)
	}
	if err := runMigrations(driver, "relay"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate sqlite database: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying connection for health checks.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) SaveMessage(ctx context.Context, sessionID string, msg wire.ThreadMessage) error {
	if err := validateMessage(sessionID, msg); err != nil {
		return err
	}
	meta, err := encodeMetadata(msg.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO thread_messages (session_id, id, role, content, ts, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (session_id, id) DO NOTHING
	`, sessionID, msg.ID, string(msg.Role), msg.Content, msg.Ts.UnixNano(), meta)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ThreadPage(ctx context.Context, sessionID string, limit int, after string) (Page, error) {
	limit = normalizeLimit(limit)

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM thread_messages WHERE session_id = ?`, sessionID).Scan(&total)
	if err != nil {
		return Page{}, fmt.Errorf("count messages: %w", err)
	}

	var rows *sql.Rows
	if after == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, role, content, ts, metadata FROM thread_messages
			WHERE session_id = ?
			ORDER BY ts DESC, id DESC
			LIMIT ?
		`, sessionID, limit+1)
	} else {
		ts, id, derr := decodeCursor(after)
		if derr != nil {
			return Page{}, fmt.Errorf("thread page: %w", derr)
		}
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, role, content, ts, metadata FROM thread_messages
			WHERE session_id = ? AND (ts < ? OR (ts = ? AND id < ?))
			ORDER BY ts DESC, id DESC
			LIMIT ?
		`, sessionID, ts.UnixNano(), ts.UnixNano(), id, limit+1)
	}
	if err != nil {
		return Page{}, fmt.Errorf("query thread page: %w", err)
	}
	defer rows.Close()

	msgs, err := scanMessages(rows)
	if err != nil {
		return Page{}, err
	}
	return buildPage(msgs, limit, total), nil
}

func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM thread_messages WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session messages: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM thread_messages WHERE ts < ?`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete expired messages: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count expired messages: %w", err)
	}
	return removed, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
