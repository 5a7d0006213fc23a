package budget

import (
	"context"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsageStore_TokensUsedUnknownRun(t *testing.T) {
	store := NewUsageStore(afero.NewMemMapFs(), "/usage.json", 200000)

	used, err := store.TokensUsed(context.Background(), "run-unknown")
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}

func TestUsageStore_AddUsageAccumulates(t *testing.T) {
	store := NewUsageStore(afero.NewMemMapFs(), "/usage.json", 200000)
	ctx := context.Background()

	require.NoError(t, store.AddUsage(ctx, "run-001", 1500))
	require.NoError(t, store.AddUsage(ctx, "run-001", 2500))
	require.NoError(t, store.AddUsage(ctx, "run-002", 100))

	used, err := store.TokensUsed(ctx, "run-001")
	require.NoError(t, err)
	assert.Equal(t, 4000, used)

	used, err = store.TokensUsed(ctx, "run-002")
	require.NoError(t, err)
	assert.Equal(t, 100, used)
}

func TestUsageStore_AddUsageIgnoresNonPositive(t *testing.T) {
	store := NewUsageStore(afero.NewMemMapFs(), "/usage.json", 200000)
	ctx := context.Background()

	require.NoError(t, store.AddUsage(ctx, "run-001", 0))
	require.NoError(t, store.AddUsage(ctx, "run-001", -50))

	used, err := store.TokensUsed(ctx, "run-001")
	require.NoError(t, err)
	assert.Equal(t, 0, used)
}

func TestUsageStore_RemainingDailyBudget(t *testing.T) {
	store := NewUsageStore(afero.NewMemMapFs(), "/usage.json", 10000)
	ctx := context.Background()

	remaining, total, err := store.RemainingDailyBudget(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10000, remaining)
	assert.Equal(t, 10000, total)

	require.NoError(t, store.AddUsage(ctx, "run-001", 3000))

	remaining, total, err = store.RemainingDailyBudget(ctx)
	require.NoError(t, err)
	assert.Equal(t, 7000, remaining)
	assert.Equal(t, 10000, total)
}

func TestUsageStore_RemainingDailyBudgetClampsAtZero(t *testing.T) {
	store := NewUsageStore(afero.NewMemMapFs(), "/usage.json", 1000)
	ctx := context.Background()

	require.NoError(t, store.AddUsage(ctx, "run-001", 5000))

	remaining, total, err := store.RemainingDailyBudget(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
	assert.Equal(t, 1000, total)
}

func TestUsageStore_PersistsAcrossInstances(t *testing.T) {
	fs := afero.NewMemMapFs()
	ctx := context.Background()

	first := NewUsageStore(fs, "/var/lib/autopack/usage.json", 200000)
	require.NoError(t, first.AddUsage(ctx, "run-001", 42000))

	second := NewUsageStore(fs, "/var/lib/autopack/usage.json", 200000)
	used, err := second.TokensUsed(ctx, "run-001")
	require.NoError(t, err)
	assert.Equal(t, 42000, used)
}
