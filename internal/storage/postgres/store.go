package postgres

import (
	"log/slog"

	"contentforge/internal/config"
)

// Store is the PostgreSQL implementation of storage.Store. The sub-stores
// share one connection pool and are embedded so Store satisfies the full
// interface.
type Store struct {
	*CredentialStore
	*TreeStore
	*UsageStore
	*ReferenceStore

	config *config.DatabaseConfig
	db     *DB
}

// NewStore connects, applies the schema, and wires the sub-stores
func NewStore(cfg *config.DatabaseConfig) (*Store, error) {
	db, err := InitDB(cfg)
	if err != nil {
		return nil, err
	}

	slog.Info("postgres store initialized", "database", cfg.Database)
	return &Store{
		CredentialStore: &CredentialStore{db: db},
		TreeStore:       &TreeStore{db: db},
		UsageStore:      &UsageStore{db: db},
		ReferenceStore:  &ReferenceStore{db: db},
		config:          cfg,
		db:              db,
	}, nil
}

// Close closes the connection pool
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// DB returns the database connection for direct access
func (s *Store) DB() *DB {
	return s.db
}
