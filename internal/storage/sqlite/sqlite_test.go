package sqlite

import (
	"context"
	"testing"

	"github.com/rovshanmuradov/solana-monitor/internal/storage"
	"github.com/rovshanmuradov/solana-monitor/internal/storage/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := NewStore(":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, store.RunMigrations())
	return store
}

func seedKey(t *testing.T, store storage.Store) *models.PrivateKey {
	t.Helper()
	key := &models.PrivateKey{
		Nickname:  "main",
		SecretKey: "secret",
		PublicKey: "pub",
	}
	require.NoError(t, store.CreatePrivateKey(context.Background(), key))
	return key
}

func TestPrivateKeyLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	key := seedKey(t, store)
	require.NotZero(t, key.ID)

	got, err := store.GetPrivateKey(ctx, key.ID)
	require.NoError(t, err)
	assert.Equal(t, "main", got.Nickname)

	keys, err := store.ListPrivateKeys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	require.NoError(t, store.SoftDeletePrivateKey(ctx, key.ID))

	keys, err = store.ListPrivateKeys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys, "soft-deleted keys must not be listed")

	// Строка остаётся доступной по id.
	got, err = store.GetPrivateKey(ctx, key.ID)
	require.NoError(t, err)
	assert.True(t, got.Deleted)

	err = store.SoftDeletePrivateKey(ctx, 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestKeyInUse(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := seedKey(t, store)

	inUse, err := store.KeyInUse(ctx, key.ID)
	require.NoError(t, err)
	assert.False(t, inUse)

	rec := &models.MonitorRecord{
		Name:         "m1",
		PrivateKeyID: key.ID,
		TokenAddress: "TokenAAA",
		Kind:         models.KindSell,
		Threshold:    1_000_000,
		Percentage:   0.5,
		WebhookURL:   "https://hooks.example.com/x",
	}
	require.NoError(t, store.CreateMonitor(ctx, rec))

	inUse, err = store.KeyInUse(ctx, key.ID)
	require.NoError(t, err)
	assert.True(t, inUse)
}

func TestMonitorStatusAndObservation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := seedKey(t, store)

	rec := &models.MonitorRecord{
		Name:          "m1",
		PrivateKeyID:  key.ID,
		TokenAddress:  "TokenAAA",
		Kind:          models.KindSell,
		Threshold:     1_000_000,
		Percentage:    0.5,
		WebhookURL:    "https://hooks.example.com/x",
		CheckInterval: 5,
		Status:        models.StatusStopped,
	}
	require.NoError(t, store.CreateMonitor(ctx, rec))

	require.NoError(t, store.UpdateMonitorStatus(ctx, rec.ID, models.StatusMonitoring))
	require.NoError(t, store.UpdateMonitorObservation(ctx, rec.ID, 0.02, 1_100_000))

	got, err := store.GetMonitor(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMonitoring, got.Status)
	require.NotNil(t, got.LastPrice)
	assert.InDelta(t, 0.02, *got.LastPrice, 1e-12)
	require.NotNil(t, got.LastMarketCap)
	assert.InDelta(t, 1_100_000, *got.LastMarketCap, 1e-6)
	assert.NotNil(t, got.LastCheckAt)
	assert.Equal(t, "main", got.Key.Nickname)

	byStatus, err := store.ListMonitorsByStatus(ctx, models.StatusMonitoring)
	require.NoError(t, err)
	assert.Len(t, byStatus, 1)

	assert.ErrorIs(t, store.UpdateMonitorStatus(ctx, 999, models.StatusStopped), storage.ErrNotFound)
}

func TestSwingMonitorCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := seedKey(t, store)

	rec := &models.SwingMonitorRecord{
		Name:              "swing",
		PrivateKeyID:      key.ID,
		WatchTokenAddress: "WatchAAA",
		TradeTokenAddress: "TradeBBB",
		PriceType:         models.PriceTypePrice,
		SellThreshold:     2.0,
		BuyThreshold:      1.0,
		SellPercentage:    1.0,
		BuyPercentage:     1.0,
		WebhookURL:        "https://hooks.example.com/x",
		CheckInterval:     5,
	}
	require.NoError(t, store.CreateSwingMonitor(ctx, rec))

	require.NoError(t, store.UpdateSwingMonitorStatus(ctx, rec.ID, models.StatusMonitoring))
	require.NoError(t, store.UpdateSwingMonitorObservation(ctx, rec.ID, 1.5, 1_500_000))

	got, err := store.GetSwingMonitor(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusMonitoring, got.Status)
	require.NotNil(t, got.LastWatchPrice)
	assert.InDelta(t, 1.5, *got.LastWatchPrice, 1e-12)

	require.NoError(t, store.DeleteSwingMonitor(ctx, rec.ID))
	_, err = store.GetSwingMonitor(ctx, rec.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestLogFilteringAndDeletion(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	recID := uint(7)
	sell := "sell"
	monitoring := "monitoring"
	price := 1.5
	for i := 0; i < 3; i++ {
		require.NoError(t, store.AppendLog(ctx, &models.MonitorLog{
			MonitorRecordID: &recID,
			Price:           &price,
			MonitorType:     models.LogTypeSwing,
			ActionType:      &monitoring,
		}))
	}
	require.NoError(t, store.AppendLog(ctx, &models.MonitorLog{
		MonitorRecordID: &recID,
		MonitorType:     models.LogTypeSwing,
		ActionType:      &sell,
	}))
	other := uint(8)
	require.NoError(t, store.AppendLog(ctx, &models.MonitorLog{
		MonitorRecordID: &other,
		MonitorType:     models.LogTypeNormal,
		ActionTaken:     "监控中",
	}))

	logs, err := store.ListLogs(ctx, storage.LogFilter{MonitorRecordID: &recID})
	require.NoError(t, err)
	assert.Len(t, logs, 4)

	logs, err = store.ListLogs(ctx, storage.LogFilter{
		MonitorRecordID: &recID,
		MonitorType:     models.LogTypeSwing,
		ActionTypes:     []string{"sell", "buy"},
	})
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	logs, err = store.ListLogs(ctx, storage.LogFilter{MonitorRecordID: &recID, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	require.NoError(t, store.DeleteLogsByMonitor(ctx, recID))
	logs, err = store.ListLogs(ctx, storage.LogFilter{})
	require.NoError(t, err)
	assert.Len(t, logs, 1)

	require.NoError(t, store.DeleteAllLogs(ctx))
	logs, err = store.ListLogs(ctx, storage.LogFilter{})
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestTokenMetaCacheUnique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	entry := &models.TokenMetaCache{Address: "TokenAAA", Data: `{"symbol":"AAA"}`, UpdatedAt: 1}
	require.NoError(t, store.PutTokenMeta(ctx, entry))

	got, err := store.GetTokenMeta(ctx, "TokenAAA")
	require.NoError(t, err)
	assert.Equal(t, `{"symbol":"AAA"}`, got.Data)

	dup := &models.TokenMetaCache{Address: "TokenAAA", Data: `{}`, UpdatedAt: 2}
	err = store.PutTokenMeta(ctx, dup)
	assert.True(t, storage.IsValidation(err), "duplicate address must surface as ValidationError, got %v", err)

	_, err = store.GetTokenMeta(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestConfigEntryUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertConfigEntry(ctx, &models.ConfigEntry{
		Key:        "SLIPPAGE_BPS",
		Value:      "100",
		ConfigType: models.ConfigTypeNumber,
	}))
	require.NoError(t, store.UpsertConfigEntry(ctx, &models.ConfigEntry{
		Key:        "SLIPPAGE_BPS",
		Value:      "250",
		ConfigType: models.ConfigTypeNumber,
	}))

	got, err := store.GetConfigEntry(ctx, "SLIPPAGE_BPS")
	require.NoError(t, err)
	assert.Equal(t, "250", got.Value)

	entries, err := store.ListConfigEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	require.NoError(t, store.DeleteConfigEntry(ctx, "SLIPPAGE_BPS"))
	assert.ErrorIs(t, store.DeleteConfigEntry(ctx, "SLIPPAGE_BPS"), storage.ErrNotFound)
}
