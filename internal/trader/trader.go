// internal/trader/trader.go
package trader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/go-resty/resty/v2"
	"github.com/rovshanmuradov/solana-monitor/internal/config"
	"github.com/rovshanmuradov/solana-monitor/internal/marketdata"
	"github.com/rovshanmuradov/solana-monitor/internal/storage"
	"github.com/rovshanmuradov/solana-monitor/internal/utils"
	"github.com/rovshanmuradov/solana-monitor/internal/wallet"
	"go.uber.org/zap"
)

const (
	// Резерв под ренту и комиссии при продаже всего SOL-баланса.
	RentReserveSOL = 0.0021
	// Сервисная комиссия перевода по умолчанию (SOL).
	DefaultServiceFeeSOL = 0.000896

	defaultDecimals = 9
)

var token2022ProgramID = solana.MustPublicKeyFromBase58("TokenzQdBNbLqP5VEhdkAS6EPFLC1PHnBqCXEpPxuEb")

// ErrInsufficientBalance возвращается, когда после резервов тратить нечего.
var ErrInsufficientBalance = errors.New("insufficient balance")

// rpcClient — подмножество solana-go RPC, которое использует трейдер.
type rpcClient interface {
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	GetAccountInfo(ctx context.Context, account solana.PublicKey) (*rpc.GetAccountInfoResult, error)
	GetTokenAccountBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetTokenAccountBalanceResult, error)
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	GetFeeForMessage(ctx context.Context, message string, commitment rpc.CommitmentType) (*rpc.GetFeeForMessageResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*rpc.SimulateTransactionResponse, error)
}

type metaSource interface {
	GetTokenMeta(ctx context.Context, address string) (*marketdata.TokenMeta, error)
	GetMarketData(ctx context.Context, address string) (*marketdata.MarketData, error)
}

type registry interface {
	GetString(ctx context.Context, key, def string) string
	GetInt(ctx context.Context, key string, def int) int
}

// TradeResult — итог исполненного обмена.
type TradeResult struct {
	TxHash    string
	InAmount  uint64
	OutAmount uint64
}

// Trader исполняет обмены через Jupiter и переводы через системную программу.
// RPC-адрес, адрес Jupiter и slippage перечитываются через RefreshConfig.
type Trader struct {
	wallet   *wallet.Wallet
	store    storage.Store
	meta     metaSource
	registry registry
	http     *resty.Client
	logger   *zap.Logger

	mu          sync.RWMutex
	rpc         rpcClient
	rpcURL      string
	jupiterURL  string
	slippageBps int
}

func New(w *wallet.Wallet, store storage.Store, meta metaSource, reg registry, logger *zap.Logger) *Trader {
	t := &Trader{
		wallet:   w,
		store:    store,
		meta:     meta,
		registry: reg,
		http: resty.New().
			SetTimeout(30*time.Second).
			SetHeader("Content-Type", "application/json"),
		logger: logger.Named("trader"),
	}
	if err := t.RefreshConfig(); err != nil {
		t.logger.Warn("Failed to load trader config, using defaults", zap.Error(err))
	}
	return t
}

// RefreshConfig перечитывает RPC_URL, JUPITER_API_URL и SLIPPAGE_BPS.
// RPC-клиент пересоздаётся только при смене адреса.
func (t *Trader) RefreshConfig() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	rpcURL := t.registry.GetString(ctx, config.KeyRPCURL, "https://api.mainnet-beta.solana.com")
	jupiterURL := t.registry.GetString(ctx, config.KeyJupiterURL, "https://quote-api.jup.ag/v6")
	slippageBps := t.registry.GetInt(ctx, config.KeySlippageBps, 100)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rpc == nil || t.rpcURL != rpcURL {
		t.rpc = rpc.New(rpcURL)
		t.rpcURL = rpcURL
	}
	t.jupiterURL = jupiterURL
	t.slippageBps = slippageBps
	return nil
}

func (t *Trader) jupiterParams() (string, int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.jupiterURL, t.slippageBps
}

func (t *Trader) rpcClient() rpcClient {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.rpc
}

// Decimals возвращает количество знаков токена: запись монитора по этому
// адресу, затем кеш хранилища, затем API рыночных данных, затем девять по
// умолчанию.
func (t *Trader) Decimals(ctx context.Context, mint string) int {
	addr := utils.NormalizeMint(mint)
	if utils.IsNativeMint(addr) {
		return defaultDecimals
	}

	if rec, err := t.store.FindMonitorByToken(ctx, addr); err == nil && rec.Token.Decimals > 0 {
		return rec.Token.Decimals
	}
	if cached, err := t.store.GetTokenMeta(ctx, addr); err == nil {
		var meta marketdata.TokenMeta
		if err := json.Unmarshal([]byte(cached.Data), &meta); err == nil && meta.Decimals > 0 {
			return meta.Decimals
		}
	}
	if meta, err := t.meta.GetTokenMeta(ctx, addr); err == nil && meta.Decimals > 0 {
		return meta.Decimals
	}
	return defaultDecimals
}

// NativeBalance возвращает баланс SOL в лампортах.
func (t *Trader) NativeBalance(ctx context.Context) (uint64, error) {
	result, err := t.rpcClient().GetBalance(ctx, t.wallet.PublicKey, rpc.CommitmentConfirmed)
	if err != nil {
		return 0, fmt.Errorf("get native balance: %w", err)
	}
	return result.Value, nil
}

// TokenBalance возвращает баланс токена в минимальных единицах. Нативный mint
// делегируется в NativeBalance; отсутствующий токен-аккаунт считается нулём.
func (t *Trader) TokenBalance(ctx context.Context, mint string) (uint64, error) {
	addr := utils.NormalizeMint(mint)
	if utils.IsNativeMint(addr) {
		return t.NativeBalance(ctx)
	}

	mintKey, err := solana.PublicKeyFromBase58(addr)
	if err != nil {
		return 0, fmt.Errorf("invalid mint address %q: %w", mint, err)
	}

	tokenProgram, err := t.mintOwnerProgram(ctx, mintKey)
	if err != nil {
		return 0, err
	}
	ata, err := t.wallet.ATA(mintKey, tokenProgram)
	if err != nil {
		return 0, err
	}

	result, err := t.rpcClient().GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("get token balance: %w", err)
	}
	amount, err := strconv.ParseUint(result.Value.Amount, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse token balance %q: %w", result.Value.Amount, err)
	}
	return amount, nil
}

// mintOwnerProgram различает Token и Token-2022 по владельцу аккаунта mint.
func (t *Trader) mintOwnerProgram(ctx context.Context, mint solana.PublicKey) (solana.PublicKey, error) {
	info, err := t.rpcClient().GetAccountInfo(ctx, mint)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return solana.PublicKey{}, fmt.Errorf("mint account %s not found", mint.String())
		}
		return solana.PublicKey{}, fmt.Errorf("get mint account: %w", err)
	}
	owner := info.Value.Owner
	if owner.Equals(token2022ProgramID) {
		return token2022ProgramID, nil
	}
	return solana.TokenProgramID, nil
}

// SellTokenForNative продаёт долю баланса токена за SOL.
func (t *Trader) SellTokenForNative(ctx context.Context, mint string, percentage float64) (*TradeResult, error) {
	balance, err := t.TokenBalance(ctx, mint)
	if err != nil {
		return nil, err
	}
	if balance == 0 {
		return nil, ErrInsufficientBalance
	}

	amount := balance
	if percentage < 1 {
		amount = uint64(float64(balance) * percentage)
	}
	if amount == 0 {
		return nil, ErrInsufficientBalance
	}

	quote, err := t.Quote(ctx, mint, utils.NativeMint, amount)
	if err != nil {
		return nil, err
	}
	txHash, err := t.Swap(ctx, quote)
	if err != nil {
		return nil, err
	}
	return &TradeResult{TxHash: txHash, InAmount: amount, OutAmount: quote.OutAmount}, nil
}

// BuyTokenForNative покупает токен на долю SOL-баланса. При тотальной покупке
// удерживается резерв под ренту и комиссию сети.
func (t *Trader) BuyTokenForNative(ctx context.Context, mint string, percentage float64) (*TradeResult, error) {
	lamports, err := t.NativeBalance(ctx)
	if err != nil {
		return nil, err
	}

	spend := uint64(float64(lamports) * percentage)
	if percentage >= 1 {
		reserve := uint64(RentReserveSOL * float64(solana.LAMPORTS_PER_SOL))
		if lamports <= reserve {
			return nil, ErrInsufficientBalance
		}
		spend = lamports - reserve
	}
	if spend == 0 {
		return nil, ErrInsufficientBalance
	}

	quote, err := t.Quote(ctx, utils.NativeMint, mint, spend)
	if err != nil {
		return nil, err
	}
	txHash, err := t.Swap(ctx, quote)
	if err != nil {
		return nil, err
	}
	return &TradeResult{TxHash: txHash, InAmount: spend, OutAmount: quote.OutAmount}, nil
}
