package config

import (
	"context"
	"errors"
	"testing"

	"github.com/rovshanmuradov/solana-monitor/internal/storage/models"
	"github.com/rovshanmuradov/solana-monitor/internal/storage/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingSub struct {
	calls int
	fail  bool
}

func (c *countingSub) RefreshConfig() error {
	c.calls++
	if c.fail {
		return errors.New("refresh failed")
	}
	return nil
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := sqlite.NewStore(":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, store.RunMigrations())
	return NewRegistry(store, zaptest.NewLogger(t))
}

func TestSeedDefaults(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.SeedDefaults(ctx))
	assert.Equal(t, "solana", reg.GetString(ctx, KeyChainHeader, ""))
	assert.Equal(t, float64(100), reg.GetNumber(ctx, KeySlippageBps, 0))

	// Повторный посев не затирает операторские значения.
	require.NoError(t, reg.Set(ctx, KeySlippageBps, "250", "", models.ConfigTypeNumber))
	require.NoError(t, reg.SeedDefaults(ctx))
	assert.Equal(t, 250, reg.GetInt(ctx, KeySlippageBps, 0))
}

func TestTypedCoercion(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	require.NoError(t, reg.Set(ctx, "FLAG", "yes", "", models.ConfigTypeBoolean))
	assert.True(t, reg.GetBool(ctx, "FLAG", false))
	require.NoError(t, reg.Set(ctx, "FLAG", "off", "", models.ConfigTypeBoolean))
	assert.False(t, reg.GetBool(ctx, "FLAG", true))

	require.NoError(t, reg.Set(ctx, "BAD_NUM", "not-a-number", "", models.ConfigTypeNumber))
	assert.Equal(t, 7.5, reg.GetNumber(ctx, "BAD_NUM", 7.5))

	require.NoError(t, reg.Set(ctx, "OBJ", `{"a":1}`, "", models.ConfigTypeJSON))
	var out map[string]int
	require.NoError(t, reg.GetJSON(ctx, "OBJ", &out))
	assert.Equal(t, 1, out["a"])

	assert.Equal(t, "fallback", reg.GetString(ctx, "MISSING", "fallback"))
}

func TestRefreshAllCountsSuccesses(t *testing.T) {
	reg := newTestRegistry(t)

	ok1 := &countingSub{}
	ok2 := &countingSub{}
	bad := &countingSub{fail: true}

	reg.Register(ok1)
	reg.Register(ok2)
	reg.Register(bad)
	reg.Register(ok1) // duplicate, ignored

	assert.Equal(t, 2, reg.RefreshAll())
	assert.Equal(t, 1, ok1.calls)
	assert.Equal(t, 1, ok2.calls)
	assert.Equal(t, 1, bad.calls)
}

func TestUnregisterDropsSubscriber(t *testing.T) {
	reg := newTestRegistry(t)

	ok1 := &countingSub{}
	ok2 := &countingSub{}

	reg.Register(ok1)
	reg.Register(ok2)
	reg.Unregister(ok1)
	reg.Unregister(&countingSub{}) // unknown, ignored

	assert.Equal(t, 1, reg.RefreshAll())
	assert.Equal(t, 0, ok1.calls)
	assert.Equal(t, 1, ok2.calls)
}
