// internal/marketdata/client.go
package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rovshanmuradov/solana-monitor/internal/config"
	"github.com/rovshanmuradov/solana-monitor/internal/storage"
	"github.com/rovshanmuradov/solana-monitor/internal/storage/models"
	"github.com/rovshanmuradov/solana-monitor/internal/utils"
	"go.uber.org/zap"
)

// MarketData — срез рыночных данных по токену на момент запроса.
type MarketData struct {
	Price             float64 `json:"price"`
	MarketCap         float64 `json:"market_cap"`
	Liquidity         float64 `json:"liquidity"`
	TotalSupply       float64 `json:"total_supply"`
	CirculatingSupply float64 `json:"circulating_supply"`
	FDV               float64 `json:"fdv"`
}

// TokenMeta — неизменяемые метаданные токена.
type TokenMeta struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	LogoURI  string `json:"logo_uri"`
	Decimals int    `json:"decimals"`
}

// WalletToken — одна позиция из списка токенов кошелька.
type WalletToken struct {
	Address  string  `json:"address"`
	Symbol   string  `json:"symbol"`
	Name     string  `json:"name"`
	Decimals int     `json:"decimals"`
	Balance  uint64  `json:"balance"`
	UIAmount float64 `json:"uiAmount"`
	ValueUSD float64 `json:"valueUsd"`
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type registry interface {
	GetString(ctx context.Context, key, def string) string
}

// Client — HTTP-клиент рыночных данных (Birdeye). Ключ API и заголовок сети
// кешируются и перечитываются через RefreshConfig.
type Client struct {
	http     *resty.Client
	store    storage.Store
	registry registry
	logger   *zap.Logger

	mu          sync.RWMutex
	apiKey      string
	chainHeader string
}

func NewClient(baseURL string, store storage.Store, reg registry, logger *zap.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(15*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			if err != nil {
				return true
			}
			return r.StatusCode() >= 500 || r.StatusCode() == http.StatusTooManyRequests
		}).
		SetHeader("Accept", "application/json")

	c := &Client{
		http:     httpClient,
		store:    store,
		registry: reg,
		logger:   logger.Named("marketdata"),
	}
	if err := c.RefreshConfig(); err != nil {
		c.logger.Warn("Failed to load market data config, using defaults", zap.Error(err))
	}
	return c
}

// RefreshConfig перечитывает API_KEY и CHAIN_HEADER из реестра.
func (c *Client) RefreshConfig() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	apiKey := c.registry.GetString(ctx, config.KeyAPIKey, "")
	chain := c.registry.GetString(ctx, config.KeyChainHeader, "solana")

	c.mu.Lock()
	c.apiKey = apiKey
	c.chainHeader = chain
	c.mu.Unlock()
	return nil
}

func (c *Client) request(ctx context.Context) *resty.Request {
	c.mu.RLock()
	apiKey, chain := c.apiKey, c.chainHeader
	c.mu.RUnlock()

	return c.http.R().
		SetContext(ctx).
		SetHeader("X-API-KEY", apiKey).
		SetHeader("x-chain", chain)
}

func (c *Client) get(ctx context.Context, path string, params map[string]string, out interface{}) error {
	var env envelope
	resp, err := c.request(ctx).
		SetQueryParams(params).
		SetResult(&env).
		Get(path)
	if err != nil {
		return fmt.Errorf("market data request %s: %w", path, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return fmt.Errorf("market data request %s: status %d: %s", path, resp.StatusCode(), resp.String())
	}
	if !env.Success {
		return fmt.Errorf("market data request %s: api rejected: %s", path, env.Message)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("market data request %s: decode payload: %w", path, err)
	}
	return nil
}

// GetMarketData возвращает цену и капитализацию токена.
func (c *Client) GetMarketData(ctx context.Context, tokenAddress string) (*MarketData, error) {
	addr := utils.NormalizeMint(tokenAddress)

	var data MarketData
	if err := c.get(ctx, "/defi/v3/token/market-data", map[string]string{"address": addr}, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetTokenMeta возвращает метаданные токена. Кеш в хранилище постоянный:
// метаданные считаются неизменными и повторно не запрашиваются.
func (c *Client) GetTokenMeta(ctx context.Context, tokenAddress string) (*TokenMeta, error) {
	addr := utils.NormalizeMint(tokenAddress)

	if cached, err := c.store.GetTokenMeta(ctx, addr); err == nil {
		var meta TokenMeta
		if err := json.Unmarshal([]byte(cached.Data), &meta); err == nil {
			return &meta, nil
		}
		c.logger.Warn("Corrupted token meta cache entry, refetching", zap.String("address", addr))
	}

	var meta TokenMeta
	if err := c.get(ctx, "/defi/v3/token/meta-data/single", map[string]string{"address": addr}, &meta); err != nil {
		return nil, err
	}
	if meta.Decimals <= 0 {
		meta.Decimals = 9
	}

	raw, err := json.Marshal(&meta)
	if err == nil {
		entry := &models.TokenMetaCache{
			Address:   addr,
			Data:      string(raw),
			UpdatedAt: float64(time.Now().Unix()),
		}
		if err := c.store.PutTokenMeta(ctx, entry); err != nil && !storage.IsValidation(err) {
			c.logger.Warn("Failed to cache token meta", zap.String("address", addr), zap.Error(err))
		}
	}
	return &meta, nil
}

// WalletPortfolio — содержимое кошелька с суммарной стоимостью в USD.
type WalletPortfolio struct {
	Wallet   string        `json:"wallet"`
	TotalUSD float64       `json:"totalUsd"`
	Items    []WalletToken `json:"items"`
}

// WalletTokenList возвращает токены кошелька, отсортированные API по стоимости.
func (c *Client) WalletTokenList(ctx context.Context, walletAddress string) (*WalletPortfolio, error) {
	var data WalletPortfolio
	if err := c.get(ctx, "/v1/wallet/token_list", map[string]string{"wallet": walletAddress}, &data); err != nil {
		return nil, err
	}
	for i := range data.Items {
		data.Items[i].Address = utils.NormalizeMint(data.Items[i].Address)
	}
	return &data, nil
}
