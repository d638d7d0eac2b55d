// Package db provides test utilities for database operations.
//
// Tests should use NewTestDB for an in-memory database with migrations
// applied and cleanup registered via t.Cleanup().
package db

import (
	"context"
	"testing"
)

// NewTestDB creates a migrated in-memory database for testing.
// The database is automatically closed when the test completes.
//
// Usage:
//
//	func TestSomething(t *testing.T) {
//	    t.Parallel()
//	    database := db.NewTestDB(t)
//	    // use database...
//	}
func NewTestDB(t testing.TB) *DB {
	t.Helper()

	database, err := OpenInMemory()
	if err != nil {
		t.Fatalf("create test db: %v", err)
	}

	if err := database.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}

	t.Cleanup(func() {
		_ = database.Close()
	})

	return database
}
