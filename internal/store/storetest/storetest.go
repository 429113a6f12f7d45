// Package storetest opens throwaway databases for tests.
package storetest

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"testing"

	"github.com/fyrsmithlabs/vendorflow/internal/store"
)

// PostgresDSNEnv names the variable that switches tests to Postgres.
const PostgresDSNEnv = "VENDORFLOW_TEST_POSTGRES_DSN"

var seq atomic.Int64

// New returns a migrated Store backed by a private in-memory SQLite
// database, or by Postgres when PostgresDSNEnv is set. The store is
// closed when the test ends.
func New(tb testing.TB) *store.Store {
	tb.Helper()

	if dsn := os.Getenv(PostgresDSNEnv); dsn != "" {
		return Postgres(tb, dsn)
	}

	dsn := fmt.Sprintf("file:vendorflow_%d_%d?mode=memory&cache=shared", os.Getpid(), seq.Add(1))
	s, err := store.Open(store.Config{Driver: store.DriverSQLite, DSN: dsn, MaxOpenConns: 1}, nil)
	if err != nil {
		tb.Fatalf("opening sqlite: %v", err)
	}
	return migrate(tb, s)
}

// Postgres opens dsn, migrates it and clears every table.
func Postgres(tb testing.TB, dsn string) *store.Store {
	tb.Helper()
	s, err := store.Open(store.Config{Driver: store.DriverPostgres, DSN: dsn, MaxOpenConns: 4}, nil)
	if err != nil {
		tb.Fatalf("opening postgres: %v", err)
	}
	s = migrate(tb, s)
	for _, table := range []string{"status_changes", "proposals", "relationships", "messages", "threads", "suppliers", "projects", "status_definitions"} {
		if err := s.DB().Exec("DELETE FROM " + table).Error; err != nil {
			tb.Fatalf("clearing %s: %v", table, err)
		}
	}
	return s
}

func migrate(tb testing.TB, s *store.Store) *store.Store {
	tb.Helper()
	if err := s.Migrate(context.Background()); err != nil {
		_ = s.Close()
		tb.Fatalf("migrating: %v", err)
	}
	tb.Cleanup(func() { _ = s.Close() })
	return s
}
