// Package store provides storage backends for LeadPipe.
//
// It archives completed leads together with their delivery outcome, in memory, in SQLite or in
// PostgreSQL. Conversation sessions are never stored here.
package store

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Store archives completed leads.
type Store interface {
	SaveLead(lead models.ArchivedLead) error
	GetLeads() ([]models.ArchivedLead, error)
	Close() error
}

// Opts holds configuration options for the stores.
type Opts struct {
	DSN string // database connection string; empty selects the in-memory store
}

// Option defines a configuration option for the stores.
type Option func(*Opts)

// WithPostgresDSN sets a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets an SQLite database path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithDSN sets a connection string of either kind; NewStore detects which.
func WithDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType returns "postgres" for PostgreSQL URLs or key=value connection strings and
// "sqlite3" for everything else.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.HasPrefix(lower, "file:") {
		return "sqlite3"
	}
	// libpq key=value form: "host=... user=... dbname=..."
	if strings.Contains(lower, "=") && strings.Contains(lower, " ") {
		return "postgres"
	}
	if strings.HasPrefix(lower, "host=") || strings.HasPrefix(lower, "dbname=") || strings.HasPrefix(lower, "user=") {
		return "postgres"
	}
	return "sqlite3"
}

// NewStore selects a backend from the configured DSN: none means in-memory.
func NewStore(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Info("No lead database configured, archiving leads in memory")
		return NewInMemoryStore(), nil
	}

	switch DetectDSNType(cfg.DSN) {
	case "postgres":
		slog.Info("Archiving leads in PostgreSQL")
		s, err := NewPostgresStore(WithPostgresDSN(cfg.DSN))
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres lead store: %w", err)
		}
		return s, nil
	default:
		slog.Info("Archiving leads in SQLite", "path", cfg.DSN)
		s, err := NewSQLiteStore(WithSQLiteDSN(cfg.DSN))
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite lead store: %w", err)
		}
		return s, nil
	}
}

// InMemoryStore keeps archived leads in process memory.
type InMemoryStore struct {
	mu    sync.RWMutex
	leads []models.ArchivedLead
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) SaveLead(lead models.ArchivedLead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.leads = append(s.leads, lead)
	return nil
}

// GetLeads returns archived leads, newest first.
func (s *InMemoryStore) GetLeads() ([]models.ArchivedLead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := append([]models.ArchivedLead(nil), s.leads...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].DeliveredAt.After(out[j].DeliveredAt)
	})
	return out, nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
