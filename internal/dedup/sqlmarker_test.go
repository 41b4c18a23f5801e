package dedup

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLStore(t *testing.T) *SQLMarkerStore {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLMarkerStore(db)
	require.NoError(t, err)
	return store
}

func TestSQLMarkerStoreTrySet(t *testing.T) {
	store := newSQLStore(t)
	ctx := context.Background()

	acquired, err := store.TrySet(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = store.TrySet(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired, "a live marker rejects a second acquisition")

	acquired, err = store.TrySet(ctx, "other", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired, "keys are independent")
}

func TestSQLMarkerStoreTrySetOverExpired(t *testing.T) {
	store := newSQLStore(t)
	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	current := base
	store.now = func() time.Time { return current }
	ctx := context.Background()

	acquired, err := store.TrySet(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	current = base.Add(59 * time.Second)
	acquired, err = store.TrySet(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	current = base.Add(61 * time.Second)
	acquired, err = store.TrySet(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired, "an expired marker is overwritten")
}

func TestSQLMarkerStoreAge(t *testing.T) {
	store := newSQLStore(t)
	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	current := base
	store.now = func() time.Time { return current }
	ctx := context.Background()

	_, held, err := store.Age(ctx, "k")
	require.NoError(t, err)
	assert.False(t, held)

	acquired, err := store.TrySet(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	current = base.Add(15 * time.Second)
	age, held, err := store.Age(ctx, "k")
	require.NoError(t, err)
	assert.True(t, held)
	assert.Equal(t, 15*time.Second, age)

	// An expired marker reads as not held even before it is overwritten.
	current = base.Add(2 * time.Minute)
	_, held, err = store.Age(ctx, "k")
	require.NoError(t, err)
	assert.False(t, held)
}

func TestSQLMarkerStoreClear(t *testing.T) {
	store := newSQLStore(t)
	ctx := context.Background()

	acquired, err := store.TrySet(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, store.Clear(ctx, "k"))

	acquired, err = store.TrySet(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired, "a cleared key is immediately reusable")

	require.NoError(t, store.Clear(ctx, "missing"), "clearing an absent key is a no-op")
}
