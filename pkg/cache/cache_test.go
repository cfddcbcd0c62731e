package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ieraasyl/PsoriScan/internal/database"
	"github.com/ieraasyl/PsoriScan/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	db, err := database.NewRedisDB(&config.RedisConfig{Host: mr.Host(), Port: mr.Port()})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewCache(db), mr
}

type record struct {
	Name  string   `json:"name"`
	Items []string `json:"items"`
}

func TestCache(t *testing.T) {
	c, mr := setupCache(t)
	ctx := context.Background()

	t.Run("round trips JSON values", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "rec", &record{Name: "x", Items: []string{"a"}}))

		var got record
		require.NoError(t, c.Get(ctx, "rec", &got))
		assert.Equal(t, "x", got.Name)
		assert.Equal(t, []string{"a"}, got.Items)
	})

	t.Run("missing key is a cache miss", func(t *testing.T) {
		var got record
		assert.ErrorIs(t, c.Get(ctx, "nope", &got), ErrCacheMiss)
	})

	t.Run("malformed data is corrupt", func(t *testing.T) {
		require.NoError(t, mr.Set("bad", "{not json"))

		var got record
		assert.ErrorIs(t, c.Get(ctx, "bad", &got), ErrCorrupt)
	})

	t.Run("exists and delete", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "gone", "v"))

		ok, err := c.Exists(ctx, "gone")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, c.Delete(ctx, "gone"))

		ok, err = c.Exists(ctx, "gone")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "assessment:user-1", AssessmentKey("user-1"))
	assert.Equal(t, "assessment:anonymous", AssessmentKey(""))
	assert.Equal(t, "auth:app:", CredentialPrefix("app"))
	assert.Equal(t, "auth:app:LastAuthUser", LastAuthUserKey("app"))
	assert.Equal(t, "auth:app:a@b.com:idToken", CredentialKey("app", "a@b.com", "idToken"))
}
