// Package store provides storage backends for LeadPipe.
//
// This file implements a PostgreSQL-backed lead archive.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/LeadPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 10
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 5
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}

	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) SaveLead(a models.ArchivedLead) error {
	fields, err := json.Marshal(a.Lead.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode lead fields: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO leads (id, session_id, username, source, fields, crm_status, crm_detail, notify_error, created_at, delivered_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		a.Lead.ID, a.Lead.SessionID, a.Lead.Username, a.Lead.Source, string(fields),
		string(a.CRMStatus), a.CRMDetail, a.NotifyError, a.Lead.CreatedAt.UTC(), a.DeliveredAt.UTC())
	if err != nil {
		slog.Error("PostgresStore SaveLead failed", "error", err, "lead_id", a.Lead.ID)
		return fmt.Errorf("failed to insert lead %s: %w", a.Lead.ID, err)
	}
	slog.Debug("PostgresStore SaveLead succeeded", "lead_id", a.Lead.ID, "crm_status", a.CRMStatus)
	return nil
}

func (s *PostgresStore) GetLeads() ([]models.ArchivedLead, error) {
	rows, err := s.db.Query(`SELECT id, session_id, username, source, fields, crm_status, crm_detail, notify_error, created_at, delivered_at
		FROM leads ORDER BY delivered_at DESC`)
	if err != nil {
		slog.Error("PostgresStore GetLeads query failed", "error", err)
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()
	return scanLeads(rows)
}

func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	return s.db.Close()
}
