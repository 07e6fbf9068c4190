// Package testutil provides shared test scaffolding: a temporary user
// store and a minimal valid config.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/allaspectsdev/avatarforge/internal/config"
	"github.com/allaspectsdev/avatarforge/internal/userstore"
)

// NewTestStore creates a SQLite user store in a temporary directory for
// testing. The store is automatically closed when the test completes.
func NewTestStore(t *testing.T) *userstore.Store {
	t.Helper()
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "test.db")
	st, err := userstore.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to create test store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// NewTestConfig returns a minimal valid config for testing.
func NewTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = t.TempDir()
	return cfg
}

// TempDir creates a temporary directory for test data.
func TempDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}
