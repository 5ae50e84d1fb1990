// internal/config/registry.go
package config

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/rovshanmuradov/solana-monitor/internal/storage"
	"github.com/rovshanmuradov/solana-monitor/internal/storage/models"
	"go.uber.org/zap"
)

// Recognized registry keys.
const (
	KeyAPIKey      = "API_KEY"
	KeyChainHeader = "CHAIN_HEADER"
	KeyRPCURL      = "RPC_URL"
	KeyJupiterURL  = "JUPITER_API_URL"
	KeySlippageBps = "SLIPPAGE_BPS"
)

// Refresher is implemented by components that cache registry values and can
// re-read them on demand. There is no reactive invalidation: refresh happens
// only when an operator triggers RefreshAll.
type Refresher interface {
	RefreshConfig() error
}

type defaultEntry struct {
	value       string
	description string
	configType  string
}

var defaultEntries = map[string]defaultEntry{
	KeyAPIKey:      {"", "Birdeye API密钥", models.ConfigTypeString},
	KeyChainHeader: {"solana", "区块链类型", models.ConfigTypeString},
	KeyRPCURL:      {"https://api.mainnet-beta.solana.com", "Solana RPC节点地址", models.ConfigTypeString},
	KeyJupiterURL:  {"https://quote-api.jup.ag/v6", "Jupiter API地址", models.ConfigTypeString},
	KeySlippageBps: {"100", "滑点设置（100 = 1%）", models.ConfigTypeNumber},
}

// Registry is the flat key/value process configuration backed by the store.
type Registry struct {
	store  storage.Store
	logger *zap.Logger

	mu   sync.Mutex
	subs []Refresher
}

func NewRegistry(store storage.Store, logger *zap.Logger) *Registry {
	return &Registry{
		store:  store,
		logger: logger.Named("config-registry"),
	}
}

// SeedDefaults inserts the recognized keys that are not present yet. Existing
// values are never overwritten.
func (r *Registry) SeedDefaults(ctx context.Context) error {
	for key, def := range defaultEntries {
		_, err := r.store.GetConfigEntry(ctx, key)
		if err == nil {
			continue
		}
		if err != storage.ErrNotFound {
			return err
		}
		entry := &models.ConfigEntry{
			Key:         key,
			Value:       def.value,
			Description: def.description,
			ConfigType:  def.configType,
		}
		if err := r.store.UpsertConfigEntry(ctx, entry); err != nil {
			return err
		}
	}
	return nil
}

// GetString returns the raw value, or def when missing or unreadable.
func (r *Registry) GetString(ctx context.Context, key, def string) string {
	entry, err := r.store.GetConfigEntry(ctx, key)
	if err != nil {
		return def
	}
	return entry.Value
}

// GetNumber coerces a number-typed entry; def on any failure.
func (r *Registry) GetNumber(ctx context.Context, key string, def float64) float64 {
	entry, err := r.store.GetConfigEntry(ctx, key)
	if err != nil {
		return def
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(entry.Value), 64)
	if err != nil {
		return def
	}
	return n
}

// GetInt is GetNumber truncated to int.
func (r *Registry) GetInt(ctx context.Context, key string, def int) int {
	return int(r.GetNumber(ctx, key, float64(def)))
}

// GetBool coerces a boolean-typed entry; accepts true/1/yes/on.
func (r *Registry) GetBool(ctx context.Context, key string, def bool) bool {
	entry, err := r.store.GetConfigEntry(ctx, key)
	if err != nil {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(entry.Value)) {
	case "true", "1", "yes", "on":
		return true
	case "false", "0", "no", "off":
		return false
	default:
		return def
	}
}

// GetJSON unmarshals a json-typed entry into out.
func (r *Registry) GetJSON(ctx context.Context, key string, out interface{}) error {
	entry, err := r.store.GetConfigEntry(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(entry.Value), out)
}

// Set writes a key. The value takes effect in subscribers only after
// RefreshAll.
func (r *Registry) Set(ctx context.Context, key, value, description, configType string) error {
	if configType == "" {
		configType = models.ConfigTypeString
	}
	return r.store.UpsertConfigEntry(ctx, &models.ConfigEntry{
		Key:         key,
		Value:       value,
		Description: description,
		ConfigType:  configType,
	})
}

// All lists every entry.
func (r *Registry) All(ctx context.Context) ([]*models.ConfigEntry, error) {
	return r.store.ListConfigEntries(ctx)
}

// Delete removes a key.
func (r *Registry) Delete(ctx context.Context, key string) error {
	return r.store.DeleteConfigEntry(ctx, key)
}

// Register adds a subscriber. Duplicate registrations are ignored.
func (r *Registry) Register(sub Refresher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.subs {
		if existing == sub {
			return
		}
	}
	r.subs = append(r.subs, sub)
}

// Unregister removes a subscriber. Unknown subscribers are ignored.
func (r *Registry) Unregister(sub Refresher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, existing := range r.subs {
		if existing == sub {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return
		}
	}
}

// RefreshAll fans out to every subscriber and returns how many refreshed
// successfully.
func (r *Registry) RefreshAll() int {
	r.mu.Lock()
	subs := make([]Refresher, len(r.subs))
	copy(subs, r.subs)
	r.mu.Unlock()

	refreshed := 0
	for _, sub := range subs {
		if err := sub.RefreshConfig(); err != nil {
			r.logger.Error("Failed to refresh subscriber config", zap.Error(err))
			continue
		}
		refreshed++
	}
	r.logger.Info("Refreshed subscriber configs", zap.Int("count", refreshed))
	return refreshed
}
