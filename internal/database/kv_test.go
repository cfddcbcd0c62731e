package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ieraasyl/PsoriScan/pkg/config"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisDB, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	db, err := NewRedisDB(&config.RedisConfig{Host: mr.Host(), Port: mr.Port()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db, mr
}

func newTestSQLite(t *testing.T) *SQLiteDB {
	t.Helper()

	db, err := NewSQLiteDB(&config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "kv", "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return db
}

func TestKVBackends(t *testing.T) {
	redisDB, _ := newTestRedis(t)

	backends := map[string]KV{
		"redis":  redisDB,
		"sqlite": newTestSQLite(t),
	}

	for name, kv := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("get missing key returns ErrNotFound", func(t *testing.T) {
				_, err := kv.Get(ctx, "missing")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("set then get", func(t *testing.T) {
				require.NoError(t, kv.Set(ctx, "assessment:u1", []byte(`{"a":1}`)))

				value, err := kv.Get(ctx, "assessment:u1")
				require.NoError(t, err)
				assert.Equal(t, `{"a":1}`, string(value))
			})

			t.Run("set overwrites", func(t *testing.T) {
				require.NoError(t, kv.Set(ctx, "k", []byte("one")))
				require.NoError(t, kv.Set(ctx, "k", []byte("two")))

				value, err := kv.Get(ctx, "k")
				require.NoError(t, err)
				assert.Equal(t, "two", string(value))
			})

			t.Run("scan returns only prefixed keys", func(t *testing.T) {
				require.NoError(t, kv.Set(ctx, "auth:app:LastAuthUser", []byte("a@b.com")))
				require.NoError(t, kv.Set(ctx, "auth:app:a@b.com:idToken", []byte("tok")))
				require.NoError(t, kv.Set(ctx, "authz:other", []byte("x")))

				entries, err := kv.Scan(ctx, "auth:app:")
				require.NoError(t, err)
				assert.Len(t, entries, 2)
				assert.Equal(t, "tok", string(entries["auth:app:a@b.com:idToken"]))
			})

			t.Run("delete removes keys and ignores missing", func(t *testing.T) {
				require.NoError(t, kv.Set(ctx, "d1", []byte("1")))
				require.NoError(t, kv.Delete(ctx, "d1", "never-existed"))

				_, err := kv.Get(ctx, "d1")
				assert.ErrorIs(t, err, ErrNotFound)
				assert.NoError(t, kv.Delete(ctx))
			})

			t.Run("ping", func(t *testing.T) {
				assert.NoError(t, kv.Ping(ctx))
			})
		})
	}
}

func TestIncrementRateLimit(t *testing.T) {
	db, mr := newTestRedis(t)
	ctx := context.Background()

	count, err := db.IncrementRateLimit(ctx, "203.0.113.42", "auth", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = db.IncrementRateLimit(ctx, "203.0.113.42", "auth", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	mr.FastForward(2 * time.Minute)

	count, err = db.IncrementRateLimit(ctx, "203.0.113.42", "auth", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestInstrumented(t *testing.T) {
	kv := Instrument(newTestSQLite(t), "sqlite-test")
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "k", []byte("v")))
	_, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	_, err = kv.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, 1.0, promtest.ToFloat64(kvOperationsTotal.WithLabelValues("sqlite-test", "set", "success")))
	assert.Equal(t, 1.0, promtest.ToFloat64(kvOperationsTotal.WithLabelValues("sqlite-test", "get", "success")))
	assert.Equal(t, 1.0, promtest.ToFloat64(kvOperationsTotal.WithLabelValues("sqlite-test", "get", "miss")))
}
