// internal/trader/jupiter.go
package trader

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rovshanmuradov/solana-monitor/internal/utils"
	"go.uber.org/zap"
)

const (
	swapRetryAttempts = 5
	swapRetryDelay    = 5 * time.Second
)

// Quote — ответ Jupiter /quote. Сырой JSON сохраняется целиком: он передаётся
// обратно в /swap без изменений.
type Quote struct {
	InputMint  string
	OutputMint string
	InAmount   uint64
	OutAmount  uint64
	Raw        json.RawMessage
}

type quoteResponse struct {
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
	ErrorCode  string `json:"errorCode"`
	Error      string `json:"error"`
}

type swapRequest struct {
	QuoteResponse    json.RawMessage `json:"quoteResponse"`
	UserPublicKey    string          `json:"userPublicKey"`
	WrapAndUnwrapSol bool            `json:"wrapAndUnwrapSol"`
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
	Error           string `json:"error"`
}

// Quote запрашивает маршрут обмена amount (в минимальных единицах inputMint).
func (t *Trader) Quote(ctx context.Context, inputMint, outputMint string, amount uint64) (*Quote, error) {
	jupiterURL, slippageBps := t.jupiterParams()

	resp, err := t.http.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"inputMint":   utils.NormalizeMint(inputMint),
			"outputMint":  utils.NormalizeMint(outputMint),
			"amount":      strconv.FormatUint(amount, 10),
			"slippageBps": strconv.Itoa(slippageBps),
		}).
		Get(jupiterURL + "/quote")
	if err != nil {
		return nil, fmt.Errorf("jupiter quote: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("jupiter quote: status %d: %s", resp.StatusCode(), resp.String())
	}

	raw := resp.Body()
	var parsed quoteResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("jupiter quote: decode: %w", err)
	}
	if parsed.Error != "" || parsed.ErrorCode != "" {
		return nil, fmt.Errorf("jupiter quote: %s %s", parsed.ErrorCode, parsed.Error)
	}

	inAmount, _ := strconv.ParseUint(parsed.InAmount, 10, 64)
	outAmount, err := strconv.ParseUint(parsed.OutAmount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("jupiter quote: bad outAmount %q: %w", parsed.OutAmount, err)
	}

	return &Quote{
		InputMint:  parsed.InputMint,
		OutputMint: parsed.OutputMint,
		InAmount:   inAmount,
		OutAmount:  outAmount,
		Raw:        json.RawMessage(append([]byte(nil), raw...)),
	}, nil
}

// Swap исполняет котировку: строит транзакцию через /swap, подписывает и
// отправляет. Отправка повторяется до пяти раз с паузой в пять секунд;
// нехватка лампортов фатальна и не повторяется.
func (t *Trader) Swap(ctx context.Context, quote *Quote) (string, error) {
	tx, err := t.buildSwapTransaction(ctx, quote)
	if err != nil {
		return "", err
	}
	if err := t.wallet.SignTransaction(tx); err != nil {
		return "", fmt.Errorf("sign swap transaction: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= swapRetryAttempts; attempt++ {
		sig, err := t.rpcClient().SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       false,
			PreflightCommitment: rpc.CommitmentProcessed,
		})
		if err == nil {
			t.logger.Info("Swap transaction sent",
				zap.String("signature", sig.String()),
				zap.String("input_mint", quote.InputMint),
				zap.String("output_mint", quote.OutputMint))
			return sig.String(), nil
		}

		lastErr = decorateSendError(err)
		if isTerminalSwapError(err) {
			return "", lastErr
		}
		t.logger.Warn("Swap send failed, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt < swapRetryAttempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(swapRetryDelay):
			}
		}
	}
	return "", fmt.Errorf("swap failed after %d attempts: %w", swapRetryAttempts, lastErr)
}

func (t *Trader) buildSwapTransaction(ctx context.Context, quote *Quote) (*solana.Transaction, error) {
	jupiterURL, _ := t.jupiterParams()

	var result swapResponse
	resp, err := t.http.R().
		SetContext(ctx).
		SetBody(swapRequest{
			QuoteResponse:    quote.Raw,
			UserPublicKey:    t.wallet.PublicKey.String(),
			WrapAndUnwrapSol: true,
		}).
		SetResult(&result).
		Post(jupiterURL + "/swap")
	if err != nil {
		return nil, fmt.Errorf("jupiter swap: %w", err)
	}
	if resp.StatusCode() != http.StatusOK {
		return nil, fmt.Errorf("jupiter swap: status %d: %s", resp.StatusCode(), resp.String())
	}
	if result.Error != "" {
		return nil, fmt.Errorf("jupiter swap: %s", result.Error)
	}

	rawTx, err := base64.StdEncoding.DecodeString(result.SwapTransaction)
	if err != nil {
		return nil, fmt.Errorf("jupiter swap: decode transaction: %w", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(rawTx))
	if err != nil {
		return nil, fmt.Errorf("jupiter swap: deserialize transaction: %w", err)
	}
	return tx, nil
}

// isTerminalSwapError отсекает ошибки, которые повтор не исправит.
func isTerminalSwapError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "insufficient lamports")
}

// decorateSendError вытаскивает строки "Program log:" из ошибки RPC, чтобы в
// журнал попала причина отказа программы, а не только код.
func decorateSendError(err error) error {
	logs := utils.ExtractProgramLogs(err.Error())
	if len(logs) == 0 {
		return err
	}
	return fmt.Errorf("%w (program logs: %s)", err, strings.Join(logs, "; "))
}
