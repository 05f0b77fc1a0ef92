// Package store persists datasets, jobs, molecular databases, theoretical
// patterns and annotation results in a relational database (SQLite or
// PostgreSQL).
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"

	"github.com/ChrisMcGann/SMEngine/pkg/core"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// ErrUnknownMolDB is returned when a molecular database is not stored.
var ErrUnknownMolDB = errors.New("unknown molecular database")

type dialect struct {
	serial   string // auto-increment primary key
	blob     string
	numbered bool // $1-style placeholders
}

var dialects = map[string]dialect{
	DriverSQLite:   {serial: "INTEGER PRIMARY KEY AUTOINCREMENT", blob: "BLOB"},
	DriverPostgres: {serial: "BIGSERIAL PRIMARY KEY", blob: "BYTEA", numbered: true},
}

// Store is the relational store. It is safe for concurrent use.
type Store struct {
	db      *sql.DB
	pool    *pgxpool.Pool
	dialect dialect
	logger  *slog.Logger
	now     func() time.Time
}

// Open connects to the database and creates the schema if needed.
func Open(ctx context.Context, driver, dsn string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	s := &Store{dialect: d, logger: logger, now: time.Now}
	switch driver {
	case DriverPostgres:
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		s.pool = pool
		s.db = stdlib.OpenDBFromPool(pool)
	default:
		db, err := sql.Open(DriverSQLite, dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		// SQLite allows a single writer.
		db.SetMaxOpenConns(1)
		s.db = db
	}

	if err := s.db.PingContext(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := s.createTables(ctx); err != nil {
		s.Close()
		return nil, err
	}
	logger.Info("connected to database", "driver", driver)
	return s, nil
}

// Close closes the database connections.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// createTables creates the required database schema
func (s *Store) createTables(ctx context.Context) error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS dataset (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		input_path TEXT,
		metadata TEXT,
		config TEXT,
		status TEXT NOT NULL,
		upload_dt TEXT
	);

	CREATE TABLE IF NOT EXISTS molecular_db (
		id %[1]s,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		UNIQUE (name, version)
	);

	CREATE TABLE IF NOT EXISTS formula (
		db_id INTEGER NOT NULL,
		sf_id INTEGER NOT NULL,
		sf TEXT NOT NULL,
		names TEXT,
		ids TEXT,
		PRIMARY KEY (db_id, sf_id)
	);

	CREATE TABLE IF NOT EXISTS job (
		id %[1]s,
		db_id INTEGER NOT NULL,
		ds_id TEXT NOT NULL,
		status TEXT NOT NULL,
		start TEXT,
		finish TEXT
	);

	CREATE TABLE IF NOT EXISTS theor_peaks (
		db_id INTEGER NOT NULL,
		sf_id INTEGER NOT NULL,
		sf TEXT NOT NULL,
		adduct TEXT NOT NULL,
		sigma DOUBLE PRECISION NOT NULL,
		charge INTEGER NOT NULL,
		pts_per_mz INTEGER NOT NULL,
		max_peaks INTEGER NOT NULL,
		centr_mzs %[2]s,
		centr_ints %[2]s,
		prof_mzs %[2]s,
		prof_ints %[2]s,
		PRIMARY KEY (db_id, sf_id, adduct, sigma, charge, pts_per_mz, max_peaks)
	);

	CREATE TABLE IF NOT EXISTS target_decoy_add (
		job_id INTEGER NOT NULL,
		db_id INTEGER NOT NULL,
		sf_id INTEGER NOT NULL,
		target_add TEXT NOT NULL,
		decoy_add TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS iso_image_metrics (
		job_id INTEGER NOT NULL,
		db_id INTEGER NOT NULL,
		sf_id INTEGER NOT NULL,
		adduct TEXT NOT NULL,
		peaks_n INTEGER NOT NULL,
		chaos DOUBLE PRECISION,
		spatial DOUBLE PRECISION,
		spectral DOUBLE PRECISION,
		msm DOUBLE PRECISION,
		fdr DOUBLE PRECISION,
		mz DOUBLE PRECISION,
		PRIMARY KEY (job_id, sf_id, adduct)
	);

	CREATE TABLE IF NOT EXISTS iso_image (
		job_id INTEGER NOT NULL,
		db_id INTEGER NOT NULL,
		sf_id INTEGER NOT NULL,
		adduct TEXT NOT NULL,
		peak INTEGER NOT NULL,
		rows_n INTEGER NOT NULL,
		cols_n INTEGER NOT NULL,
		pixel_inds %[2]s,
		intensities %[2]s,
		PRIMARY KEY (job_id, sf_id, adduct, peak)
	)
	`, s.dialect.serial, s.dialect.blob)

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

// q rewrites ?-placeholders for the dialect.
func (s *Store) q(query string) string {
	if !s.dialect.numbered {
		return query
	}
	var b strings.Builder
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

func (s *Store) timestamp(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(core.TimeFormat)
}

func parseTimestamp(v sql.NullString) (time.Time, error) {
	if !v.Valid || v.String == "" {
		return time.Time{}, nil
	}
	t, err := time.ParseInLocation(core.TimeFormat, v.String, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", v.String, err)
	}
	return t, nil
}

// withTx runs fn in a transaction, rolling back on error.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.logger.Error("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
