package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

type Dialect string

const (
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite3"
)

// Storage persists the audit trail: decisions, trades, positions, risk events,
// fee claims, snapshots and distributions.
type Storage struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Open connects with the given driver and creates the schema if missing.
func Open(ctx context.Context, dialect Dialect, dsn string) (*Storage, error) {
	switch dialect {
	case Postgres, SQLite:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", dialect)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if dialect == SQLite {
		// single writer
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Storage{db: db, dialect: dialect, now: time.Now}
	if err := s.initTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}
	return s, nil
}

// NewPostgresStorage opens a Postgres backed store.
func NewPostgresStorage(ctx context.Context, connStr string) (*Storage, error) {
	return Open(ctx, Postgres, connStr)
}

// NewSQLiteStorage opens a file backed store, used for local and dry-run deployments.
func NewSQLiteStorage(ctx context.Context, path string) (*Storage, error) {
	return Open(ctx, SQLite, path)
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// rebind rewrites ? placeholders to $n for Postgres.
func (s *Storage) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Storage) timestamp(t time.Time) time.Time {
	if t.IsZero() {
		t = s.now()
	}
	return t.UTC()
}

func (s *Storage) insert(ctx context.Context, query string, args ...interface{}) (int64, error) {
	var id int64
	if err := s.db.QueryRowContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

// jsonText keeps JSON columns as text so both dialects accept the parameter.
func jsonText(raw []byte) interface{} {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func (s *Storage) initTables(ctx context.Context) error {
	for _, query := range schema(s.dialect) {
		if _, err := s.db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute query: %w", err)
		}
	}
	return nil
}

func schema(d Dialect) []string {
	id, ts, js := "BIGSERIAL PRIMARY KEY", "TIMESTAMPTZ", "JSONB"
	if d == SQLite {
		id, ts, js = "INTEGER PRIMARY KEY AUTOINCREMENT", "DATETIME", "TEXT"
	}
	r := strings.NewReplacer("{id}", id, "{ts}", ts, "{json}", js)

	queries := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id {id},
			cycle_id VARCHAR(32),
			source VARCHAR(20) NOT NULL,
			action VARCHAR(30) NOT NULL,
			market VARCHAR(50),
			side VARCHAR(10),
			amount DOUBLE PRECISION NOT NULL DEFAULT 0,
			price DOUBLE PRECISION NOT NULL DEFAULT 0,
			pnl DOUBLE PRECISION,
			tx_ref VARCHAR(200),
			success BOOLEAN NOT NULL,
			error TEXT,
			dry_run BOOLEAN NOT NULL DEFAULT FALSE,
			created_at {ts} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_trades_created_at ON trades (created_at)`,

		`CREATE TABLE IF NOT EXISTS portfolio_snapshots (
			id {id},
			total_value_usd DOUBLE PRECISION NOT NULL,
			wallet_value_usd DOUBLE PRECISION NOT NULL,
			perp_value_usd DOUBLE PRECISION NOT NULL,
			lp_value_usd DOUBLE PRECISION NOT NULL,
			base_balance DOUBLE PRECISION NOT NULL,
			daily_pnl DOUBLE PRECISION NOT NULL,
			daily_pnl_pct DOUBLE PRECISION NOT NULL,
			state {json},
			created_at {ts} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_created_at ON portfolio_snapshots (created_at)`,

		`CREATE TABLE IF NOT EXISTS fee_claims (
			id {id},
			position_id VARCHAR(100),
			claimed_amount DOUBLE PRECISION NOT NULL,
			forwarded_amount DOUBLE PRECISION NOT NULL,
			tx_ref VARCHAR(1000),
			forward_tx_ref VARCHAR(200),
			success BOOLEAN NOT NULL,
			error TEXT,
			created_at {ts} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS perp_positions (
			id {id},
			position_id VARCHAR(100) NOT NULL,
			market VARCHAR(50) NOT NULL,
			side VARCHAR(10) NOT NULL,
			size DOUBLE PRECISION NOT NULL,
			leverage DOUBLE PRECISION NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			stop_loss_price DOUBLE PRECISION,
			status VARCHAR(20) NOT NULL,
			exit_price DOUBLE PRECISION,
			realized_pnl DOUBLE PRECISION,
			open_tx_ref VARCHAR(200),
			close_tx_ref VARCHAR(200),
			opened_at {ts} NOT NULL,
			closed_at {ts}
		)`,
		`CREATE INDEX IF NOT EXISTS idx_perp_positions_position ON perp_positions (position_id, status)`,

		`CREATE TABLE IF NOT EXISTS agent_decisions (
			id {id},
			cycle_id VARCHAR(32) NOT NULL,
			action VARCHAR(30) NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			reasoning TEXT,
			params {json},
			portfolio_state {json},
			market_state {json},
			risk_assessment {json},
			success BOOLEAN NOT NULL,
			tx_ref VARCHAR(200),
			error TEXT,
			dry_run BOOLEAN NOT NULL DEFAULT FALSE,
			created_at {ts} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_created_at ON agent_decisions (created_at)`,

		`CREATE TABLE IF NOT EXISTS risk_events (
			id {id},
			cycle_id VARCHAR(32),
			rule_name VARCHAR(50) NOT NULL,
			triggered BOOLEAN NOT NULL,
			details TEXT,
			current_value DOUBLE PRECISION,
			threshold DOUBLE PRECISION,
			action VARCHAR(50),
			created_at {ts} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS distributions (
			id {id},
			total_amount DOUBLE PRECISION NOT NULL,
			recipient_count INTEGER NOT NULL,
			success_count INTEGER NOT NULL,
			dry_run BOOLEAN NOT NULL DEFAULT FALSE,
			created_at {ts} NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS distribution_recipients (
			id {id},
			distribution_id BIGINT NOT NULL REFERENCES distributions (id),
			wallet VARCHAR(100) NOT NULL,
			holding DOUBLE PRECISION NOT NULL,
			share DOUBLE PRECISION NOT NULL,
			amount DOUBLE PRECISION NOT NULL,
			tx_ref VARCHAR(200),
			success BOOLEAN NOT NULL,
			error TEXT
		)`,
	}

	for i, q := range queries {
		queries[i] = r.Replace(q)
	}
	return queries
}
