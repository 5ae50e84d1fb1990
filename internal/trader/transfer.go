// internal/trader/transfer.go
package trader

import (
	"context"
	"encoding/base64"
	"fmt"
	"math"
	"strings"

	"github.com/cenkalti/backoff/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/rovshanmuradov/solana-monitor/internal/utils"
	"go.uber.org/zap"
)

const transferRetryAttempts = 3

// TransferPreview — оценка перевода до отправки. Суммы в человеческих
// единицах токена, комиссия в SOL.
type TransferPreview struct {
	Amount       float64
	AmountUSD    float64
	Fee          float64
	AfterBalance float64
	Logs         []string
}

var retryableSendErrors = []string{
	"blockhash not found",
	"timeout",
	"connection error",
	"network error",
	"rpc error",
	"insufficient compute budget",
}

func isRetryableSendError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range retryableSendErrors {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// PreviewTransfer симулирует перевод и возвращает оценку: сумму, её
// долларовую стоимость, комиссию сети и остаток после перевода.
func (t *Trader) PreviewTransfer(ctx context.Context, toAddress, mint string, amount uint64) (*TransferPreview, error) {
	addr := utils.NormalizeMint(mint)
	balance, err := t.TokenBalance(ctx, addr)
	if err != nil {
		return nil, err
	}

	tx, decimals, err := t.buildTransferTransaction(ctx, toAddress, mint, amount)
	if err != nil {
		return nil, err
	}
	if err := t.wallet.SignTransaction(tx); err != nil {
		return nil, fmt.Errorf("sign transfer transaction: %w", err)
	}

	sim, err := t.rpcClient().SimulateTransaction(ctx, tx)
	if err != nil {
		return nil, fmt.Errorf("simulate transfer: %w", err)
	}
	if sim.Value.Err != nil {
		return nil, fmt.Errorf("transfer simulation failed: %v (logs: %s)",
			sim.Value.Err, strings.Join(sim.Value.Logs, "; "))
	}

	fee := t.messageFeeSOL(ctx, tx)

	scale := math.Pow10(decimals)
	amountUI := float64(amount) / scale
	var amountUSD float64
	if market, err := t.meta.GetMarketData(ctx, addr); err == nil {
		amountUSD = amountUI * market.Price
	} else {
		t.logger.Warn("Failed to price transfer amount", zap.String("mint", addr), zap.Error(err))
	}

	after := float64(balance)/scale - amountUI
	if utils.IsNativeMint(addr) {
		after -= fee
	}
	if after < 0 {
		after = 0
	}

	return &TransferPreview{
		Amount:       amountUI,
		AmountUSD:    amountUSD,
		Fee:          fee,
		AfterBalance: after,
		Logs:         sim.Value.Logs,
	}, nil
}

// messageFeeSOL спрашивает сеть о комиссии транзакции; без ответа действует
// комиссия по умолчанию.
func (t *Trader) messageFeeSOL(ctx context.Context, tx *solana.Transaction) float64 {
	raw, err := tx.Message.MarshalBinary()
	if err != nil {
		return DefaultServiceFeeSOL
	}
	res, err := t.rpcClient().GetFeeForMessage(ctx, base64.StdEncoding.EncodeToString(raw), rpc.CommitmentProcessed)
	if err != nil || res == nil || res.Value == nil || *res.Value == 0 {
		return DefaultServiceFeeSOL
	}
	return float64(*res.Value) / float64(solana.LAMPORTS_PER_SOL)
}

// Transfer отправляет перевод. Временные сбои RPC повторяются до трёх раз с
// экспоненциальной паузой; остальные ошибки фатальны сразу.
func (t *Trader) Transfer(ctx context.Context, toAddress, mint string, amount uint64) (string, error) {
	tx, _, err := t.buildTransferTransaction(ctx, toAddress, mint, amount)
	if err != nil {
		return "", err
	}
	if err := t.wallet.SignTransaction(tx); err != nil {
		return "", fmt.Errorf("sign transfer transaction: %w", err)
	}

	var sig solana.Signature
	operation := func() error {
		var sendErr error
		sig, sendErr = t.rpcClient().SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight: true,
		})
		if sendErr == nil {
			return nil
		}
		if !isRetryableSendError(sendErr) {
			return backoff.Permanent(decorateSendError(sendErr))
		}
		t.logger.Warn("Retrying transfer send", zap.Error(sendErr))
		return sendErr
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), transferRetryAttempts), ctx)
	if err := backoff.Retry(operation, bo); err != nil {
		return "", fmt.Errorf("transfer failed: %w", err)
	}

	t.logger.Info("Transfer sent",
		zap.String("signature", sig.String()),
		zap.String("to", toAddress),
		zap.String("mint", utils.NormalizeMint(mint)),
		zap.Uint64("amount", amount))
	return sig.String(), nil
}

func (t *Trader) buildTransferTransaction(ctx context.Context, toAddress, mint string, amount uint64) (*solana.Transaction, int, error) {
	recipient, err := solana.PublicKeyFromBase58(toAddress)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid recipient address %q: %w", toAddress, err)
	}

	blockhash, err := t.rpcClient().GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, 0, fmt.Errorf("get latest blockhash: %w", err)
	}

	addr := utils.NormalizeMint(mint)
	var instructions []solana.Instruction
	decimals := defaultDecimals

	if utils.IsNativeMint(addr) {
		instructions = append(instructions,
			system.NewTransferInstruction(amount, t.wallet.PublicKey, recipient).Build())
	} else {
		mintKey, err := solana.PublicKeyFromBase58(addr)
		if err != nil {
			return nil, 0, fmt.Errorf("invalid mint address %q: %w", mint, err)
		}
		tokenProgram, err := t.mintOwnerProgram(ctx, mintKey)
		if err != nil {
			return nil, 0, err
		}
		source, err := t.wallet.ATA(mintKey, tokenProgram)
		if err != nil {
			return nil, 0, err
		}
		destination, err := deriveATA(recipient, mintKey, tokenProgram)
		if err != nil {
			return nil, 0, err
		}
		decimals = t.Decimals(ctx, addr)

		// Аккаунт получателя может не существовать: создаём идемпотентно.
		instructions = append(instructions,
			solana.NewInstruction(
				solana.SPLAssociatedTokenAccountProgramID,
				[]*solana.AccountMeta{
					{PublicKey: t.wallet.PublicKey, IsWritable: true, IsSigner: true},
					{PublicKey: destination, IsWritable: true, IsSigner: false},
					{PublicKey: recipient, IsWritable: false, IsSigner: false},
					{PublicKey: mintKey, IsWritable: false, IsSigner: false},
					{PublicKey: solana.SystemProgramID, IsWritable: false, IsSigner: false},
					{PublicKey: tokenProgram, IsWritable: false, IsSigner: false},
				},
				[]byte{1},
			),
			token.NewTransferCheckedInstruction(
				amount, uint8(decimals), source, mintKey, destination, t.wallet.PublicKey, nil,
			).Build(),
		)
	}

	tx, err := solana.NewTransaction(
		instructions,
		blockhash.Value.Blockhash,
		solana.TransactionPayer(t.wallet.PublicKey),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("build transfer transaction: %w", err)
	}
	return tx, decimals, nil
}

func deriveATA(owner, mint, tokenProgram solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindProgramAddress(
		[][]byte{owner.Bytes(), tokenProgram.Bytes(), mint.Bytes()},
		solana.SPLAssociatedTokenAccountProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive recipient ATA: %w", err)
	}
	return ata, nil
}
