package sqlstore

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/sakif/modmarket/internal/model"
)

// newTestDB opens a fresh in-memory database. Each test gets its own schema,
// destroyed when the connection closes.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func createTestUser(t *testing.T, db *DB, username string) *model.User {
	t.Helper()
	email := username + "@example.com"
	user := &model.User{Username: username, Email: &email}
	if err := db.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("failed to create test user: %v", err)
	}
	return user
}

func createTestMod(t *testing.T, db *DB, title string, price string) *model.Mod {
	t.Helper()
	mod := &model.Mod{
		Title:     title,
		Price:     decimal.RequireFromString(price),
		Category:  model.CategoryVehicles,
		Published: true,
	}
	if err := db.CreateMod(context.Background(), mod); err != nil {
		t.Fatalf("failed to create test mod: %v", err)
	}
	return mod
}

func TestNew_MigrationsAreIdempotent(t *testing.T) {
	db := newTestDB(t)

	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate() error = %v", err)
	}
	if db.Driver() != "sqlite" {
		t.Errorf("Driver() = %q, want sqlite", db.Driver())
	}
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
}
