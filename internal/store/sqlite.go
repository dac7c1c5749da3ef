// Package store provides storage backends for LeadPipe.
//
// This file implements an SQLite-backed lead archive.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	"github.com/BTreeMap/LeadPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) SaveLead(a models.ArchivedLead) error {
	fields, err := json.Marshal(a.Lead.Fields)
	if err != nil {
		return fmt.Errorf("failed to encode lead fields: %w", err)
	}
	_, err = s.db.Exec(`INSERT INTO leads (id, session_id, username, source, fields, crm_status, crm_detail, notify_error, created_at, delivered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.Lead.ID, a.Lead.SessionID, a.Lead.Username, a.Lead.Source, string(fields),
		string(a.CRMStatus), a.CRMDetail, a.NotifyError, a.Lead.CreatedAt.UTC(), a.DeliveredAt.UTC())
	if err != nil {
		slog.Error("SQLiteStore SaveLead failed", "error", err, "lead_id", a.Lead.ID)
		return fmt.Errorf("failed to insert lead %s: %w", a.Lead.ID, err)
	}
	slog.Debug("SQLiteStore SaveLead succeeded", "lead_id", a.Lead.ID, "crm_status", a.CRMStatus)
	return nil
}

func (s *SQLiteStore) GetLeads() ([]models.ArchivedLead, error) {
	rows, err := s.db.Query(`SELECT id, session_id, username, source, fields, crm_status, crm_detail, notify_error, created_at, delivered_at
		FROM leads ORDER BY delivered_at DESC`)
	if err != nil {
		slog.Error("SQLiteStore GetLeads query failed", "error", err)
		return nil, fmt.Errorf("failed to query leads: %w", err)
	}
	defer rows.Close()
	return scanLeads(rows)
}

func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	return s.db.Close()
}

// scanLeads reads lead rows in the column order shared by both SQL backends.
func scanLeads(rows *sql.Rows) ([]models.ArchivedLead, error) {
	var leads []models.ArchivedLead
	for rows.Next() {
		var (
			a         models.ArchivedLead
			fields    []byte
			status    string
			createdAt time.Time
			delivered time.Time
		)
		if err := rows.Scan(&a.Lead.ID, &a.Lead.SessionID, &a.Lead.Username, &a.Lead.Source, &fields,
			&status, &a.CRMDetail, &a.NotifyError, &createdAt, &delivered); err != nil {
			return nil, fmt.Errorf("failed to scan lead row: %w", err)
		}
		if err := json.Unmarshal(fields, &a.Lead.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode fields of lead %s: %w", a.Lead.ID, err)
		}
		a.CRMStatus = models.CRMStatus(status)
		a.Lead.CreatedAt = createdAt.UTC()
		a.DeliveredAt = delivered.UTC()
		leads = append(leads, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate lead rows: %w", err)
	}
	return leads, nil
}
