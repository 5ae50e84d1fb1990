package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rovshanmuradov/solana-monitor/internal/storage"
	"github.com/rovshanmuradov/solana-monitor/internal/storage/sqlite"
	"github.com/rovshanmuradov/solana-monitor/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type staticRegistry map[string]string

func (r staticRegistry) GetString(_ context.Context, key, def string) string {
	if v, ok := r[key]; ok {
		return v
	}
	return def
}

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	store, err := sqlite.NewStore(":memory:", zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, store.RunMigrations())
	return store
}

func TestGetMarketData(t *testing.T) {
	var gotKey, gotChain, gotAddress string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.Equal(t, "/defi/v3/token/market-data", r.URL.Path)
		gotKey = r.Header.Get("X-API-KEY")
		gotChain = r.Header.Get("x-chain")
		gotAddress = r.URL.Query().Get("address")
		fmt.Fprint(w, `{"success":true,"data":{"price":0.0021,"market_cap":2100000,"liquidity":50000,"circulating_supply":900000000,"fdv":2500000}}`)
	}))
	defer srv.Close()

	reg := staticRegistry{"API_KEY": "test-key"}
	client := NewClient(srv.URL, newTestStore(t), reg, zaptest.NewLogger(t))

	data, err := client.GetMarketData(context.Background(), "TokenAAA")
	require.NoError(t, err)
	assert.InDelta(t, 0.0021, data.Price, 1e-12)
	assert.InDelta(t, 2_100_000, data.MarketCap, 1e-6)
	assert.InDelta(t, 900_000_000, data.CirculatingSupply, 1e-6)
	assert.InDelta(t, 2_500_000, data.FDV, 1e-6)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "solana", gotChain)
	assert.Equal(t, "TokenAAA", gotAddress)
}

func TestGetMarketDataNormalizesLegacyNativeMint(t *testing.T) {
	var gotAddress string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		gotAddress = r.URL.Query().Get("address")
		fmt.Fprint(w, `{"success":true,"data":{"price":150}}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, newTestStore(t), staticRegistry{}, zaptest.NewLogger(t))
	_, err := client.GetMarketData(context.Background(), "So11111111111111111111111111111111111111111")
	require.NoError(t, err)
	assert.Equal(t, utils.NativeMint, gotAddress)
}

func TestGetMarketDataAPIRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success":false,"message":"invalid api key"}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, newTestStore(t), staticRegistry{}, zaptest.NewLogger(t))
	_, err := client.GetMarketData(context.Background(), "TokenAAA")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestTokenMetaCachedPermanently(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		hits.Add(1)
		fmt.Fprint(w, `{"success":true,"data":{"name":"Alpha","symbol":"AAA","logo_uri":"https://img/a.png","decimals":6}}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, newTestStore(t), staticRegistry{}, zaptest.NewLogger(t))
	ctx := context.Background()

	meta, err := client.GetTokenMeta(ctx, "TokenAAA")
	require.NoError(t, err)
	assert.Equal(t, "AAA", meta.Symbol)
	assert.Equal(t, 6, meta.Decimals)

	meta, err = client.GetTokenMeta(ctx, "TokenAAA")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", meta.Name)
	assert.Equal(t, int64(1), hits.Load(), "second read must come from the store cache")
}

func TestTokenMetaDecimalsFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"success":true,"data":{"name":"NoDec","symbol":"ND"}}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, newTestStore(t), staticRegistry{}, zaptest.NewLogger(t))
	meta, err := client.GetTokenMeta(context.Background(), "TokenBBB")
	require.NoError(t, err)
	assert.Equal(t, 9, meta.Decimals)
}

func TestWalletTokenList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		require.Equal(t, "/v1/wallet/token_list", r.URL.Path)
		require.Equal(t, "Wallet111", r.URL.Query().Get("wallet"))
		fmt.Fprint(w, `{"success":true,"data":{"wallet":"Wallet111","totalUsd":246,"items":[
			{"address":"So11111111111111111111111111111111111111111","symbol":"SOL","decimals":9,"uiAmount":1.5,"valueUsd":225},
			{"address":"TokenAAA","symbol":"AAA","decimals":6,"uiAmount":1000,"valueUsd":21}
		]}}`)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, newTestStore(t), staticRegistry{}, zaptest.NewLogger(t))
	portfolio, err := client.WalletTokenList(context.Background(), "Wallet111")
	require.NoError(t, err)
	assert.Equal(t, "Wallet111", portfolio.Wallet)
	assert.InDelta(t, 246, portfolio.TotalUSD, 1e-9)
	require.Len(t, portfolio.Items, 2)
	assert.Equal(t, utils.NativeMint, portfolio.Items[0].Address)
	assert.Equal(t, "TokenAAA", portfolio.Items[1].Address)
}

func TestRefreshConfigPicksUpNewKey(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		gotKey = r.Header.Get("X-API-KEY")
		fmt.Fprint(w, `{"success":true,"data":{"price":1}}`)
	}))
	defer srv.Close()

	reg := staticRegistry{"API_KEY": "old"}
	client := NewClient(srv.URL, newTestStore(t), reg, zaptest.NewLogger(t))

	_, err := client.GetMarketData(context.Background(), "TokenAAA")
	require.NoError(t, err)
	assert.Equal(t, "old", gotKey)

	reg["API_KEY"] = "new"
	require.NoError(t, client.RefreshConfig())

	_, err = client.GetMarketData(context.Background(), "TokenAAA")
	require.NoError(t, err)
	assert.Equal(t, "new", gotKey)
}
