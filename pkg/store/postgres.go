package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	pgmigrate "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver for database/sql

	"github.com/codeready-toolchain/relay/pkg/wire"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// PostgresStore persists thread history in PostgreSQL. Used when relay runs
// with more than one node or history must outlive the host.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore connects with pooling configured from cfg and applies
// pending migrations.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres database: %w", err)
	}

	driver, err := pgmigrate.WithInstance(db, &pgmigrate.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create postgres migration driver: %w", err)
	}
	if err := runMigrations(driver, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate postgres database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDSN is the connection-string variant of
// NewPostgresStore, used when the caller already holds a DSN: relay.yaml's
// store.dsn, or a test container.
func NewPostgresStoreFromDSN(ctx context.Context, dsn, dbName string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres database: %w", err)
	}
	driver, err := pgmigrate.WithInstance(db, &pgmigrate.Config{})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create postgres migration driver: %w", err)
	}
	if err := runMigrations(driver, dbName); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate postgres database: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// DB returns the underlying connection pool for health checks.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) SaveMessage(ctx context.Context, sessionID string, msg wire.ThreadMessage) error {
	if err := validateMessage(sessionID, msg); err != nil {
		return err
	}
	meta, err := encodeMetadata(msg.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO thread_messages (session_id, id, role, content, ts, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, id) DO NOTHING
	`, sessionID, msg.ID, string(msg.Role), msg.Content, msg.Ts.UnixNano(), meta)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ThreadPage(ctx context.Context, sessionID string, limit int, after string) (Page, error) {
	limit = normalizeLimit(limit)

	var total int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM thread_messages WHERE session_id = $1`, sessionID).Scan(&total)
	if err != nil {
		return Page{}, fmt.Errorf("count messages: %w", err)
	}

	var rows *sql.Rows
	if after == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, role, content, ts, metadata FROM thread_messages
			WHERE session_id = $1
			ORDER BY ts DESC, id DESC
			LIMIT $2
		`, sessionID, limit+1)
	} else {
		ts, id, derr := decodeCursor(after)
		if derr != nil {
			return Page{}, fmt.Errorf("thread page: %w", derr)
		}
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, role, content, ts, metadata FROM thread_messages
			WHERE session_id = $1 AND (ts < $2 OR (ts = $2 AND id < $3))
			ORDER BY ts DESC, id DESC
			LIMIT $4
		`, sessionID, ts.UnixNano(), id, limit+1)
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

func (s *PostgresStore) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM thread_messages WHERE session_id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session messages: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM thread_messages WHERE ts < $1`, cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("delete expired messages: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count expired messages: %w", err)
	}
	return removed, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
