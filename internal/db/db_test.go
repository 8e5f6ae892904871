package db

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"parley/internal/selection"
)

func TestPreferences(t *testing.T) {
	ctx := context.Background()
	conn, err := OpenParleyDB(t.TempDir())
	require.NoError(t, err)
	defer conn.Close()

	v, err := GetPreference(ctx, conn, "u", "missing")
	require.NoError(t, err)
	assert.Empty(t, v)

	require.NoError(t, SetPreference(ctx, conn, "u", "k", "one", 1))
	require.NoError(t, SetPreference(ctx, conn, "u", "k", "two", 2))
	require.NoError(t, SetPreference(ctx, conn, "other", "k", "three", 3))

	v, err = GetPreference(ctx, conn, "u", "k")
	require.NoError(t, err)
	assert.Equal(t, "two", v)

	v, err = GetPreference(ctx, conn, "other", "k")
	require.NoError(t, err)
	assert.Equal(t, "three", v)
}

func TestPreferenceStoreSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	conn, err := OpenParleyDB(dir)
	require.NoError(t, err)
	store := &PreferenceStore{DB: conn, Now: func() time.Time { return time.Unix(100, 0) }}

	defaults := selection.NewDefaults(ctx, store, "u")
	assert.Equal(t, selection.Auto{}, defaults.Get())

	_, err = defaults.Persist(ctx, selection.SpecificModel{ID: "anthropic/claude-sonnet-4"})
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	conn, err = OpenParleyDB(dir)
	require.NoError(t, err)
	defer conn.Close()

	token, err := NewPreferenceStore(conn).DefaultRouting(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "anthropic", token)

	reloaded := selection.NewDefaults(ctx, NewPreferenceStore(conn), "u")
	assert.Equal(t, selection.ProviderDefault{Provider: "anthropic"}, reloaded.Get())
}
