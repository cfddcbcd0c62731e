package testutil

import (
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ieraasyl/PsoriScan/internal/database"
	"github.com/ieraasyl/PsoriScan/pkg/cache"
	"github.com/ieraasyl/PsoriScan/pkg/config"
)

// SetupMiniRedis creates a miniredis instance that is closed with the test.
func SetupMiniRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	return miniredis.RunT(t)
}

// NewTestRedisDB creates a RedisDB connected to miniredis, closed with the test.
func NewTestRedisDB(t *testing.T, mr *miniredis.Miniredis) *database.RedisDB {
	t.Helper()

	db, err := database.NewRedisDB(&config.RedisConfig{
		Host: mr.Host(),
		Port: mr.Port(),
	})
	if err != nil {
		t.Fatalf("Failed to create test Redis DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

// NewTestSQLiteDB creates a SQLite KV in a temporary directory.
func NewTestSQLiteDB(t *testing.T) *database.SQLiteDB {
	t.Helper()

	db, err := database.NewSQLiteDB(&config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("Failed to create test SQLite DB: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return db
}

// NewTestCache returns a cache over a fresh miniredis-backed KV together
// with the miniredis server for direct inspection.
func NewTestCache(t *testing.T) (*cache.Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := SetupMiniRedis(t)
	return cache.NewCache(NewTestRedisDB(t, mr)), mr
}
