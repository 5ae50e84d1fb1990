// ==================================
// File: internal/wallet/wallet.go
// ==================================
package wallet

import (
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"
)

// Wallet представляет кошелёк Solana.
type Wallet struct {
	PrivateKey solana.PrivateKey
	PublicKey  solana.PublicKey

	mu       sync.Mutex
	ataCache map[string]solana.PublicKey // Кеш для ассоциированных адресов токен-аккаунтов (ATA)
}

// New создаёт кошелёк из base58-encoded приватного ключа.
func New(privateKeyBase58 string) (*Wallet, error) {
	privateKeyBytes, err := base58.Decode(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("failed to decode private key: %w", err)
	}
	if len(privateKeyBytes) != 64 {
		return nil, fmt.Errorf("invalid private key length: expected 64 bytes, got %d", len(privateKeyBytes))
	}
	privateKey := solana.PrivateKey(privateKeyBytes)
	return &Wallet{
		PrivateKey: privateKey,
		PublicKey:  privateKey.PublicKey(),
		ataCache:   make(map[string]solana.PublicKey),
	}, nil
}

// DerivePublicKey возвращает base58-адрес для приватного ключа без создания кошелька.
func DerivePublicKey(privateKeyBase58 string) (string, error) {
	w, err := New(privateKeyBase58)
	if err != nil {
		return "", err
	}
	return w.PublicKey.String(), nil
}

// SignTransaction подписывает транзакцию приватным ключом кошелька.
func (w *Wallet) SignTransaction(tx *solana.Transaction) error {
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(w.PublicKey) {
			return &w.PrivateKey
		}
		return nil
	})
	return err
}

// ATA возвращает адрес ассоциированного токен-аккаунта для mint с учётом
// программы-владельца (Token или Token-2022). Вычисленные адреса кешируются.
func (w *Wallet) ATA(mint, tokenProgram solana.PublicKey) (solana.PublicKey, error) {
	cacheKey := mint.String() + ":" + tokenProgram.String()

	w.mu.Lock()
	defer w.mu.Unlock()
	if ata, ok := w.ataCache[cacheKey]; ok {
		return ata, nil
	}

	ata, _, err := solana.FindProgramAddress(
		[][]byte{
			w.PublicKey.Bytes(),
			tokenProgram.Bytes(),
			mint.Bytes(),
		},
		solana.SPLAssociatedTokenAccountProgramID,
	)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("failed to derive ATA for mint %s: %w", mint.String(), err)
	}
	w.ataCache[cacheKey] = ata
	return ata, nil
}

// CreateATAIdempotentInstruction строит инструкцию идемпотентного создания ATA.
func (w *Wallet) CreateATAIdempotentInstruction(mint, tokenProgram solana.PublicKey) (solana.Instruction, error) {
	ata, err := w.ATA(mint, tokenProgram)
	if err != nil {
		return nil, err
	}

	return solana.NewInstruction(
		solana.SPLAssociatedTokenAccountProgramID,
		[]*solana.AccountMeta{
			{PublicKey: w.PublicKey, IsWritable: true, IsSigner: true},
			{PublicKey: ata, IsWritable: true, IsSigner: false},
			{PublicKey: w.PublicKey, IsWritable: false, IsSigner: false},
			{PublicKey: mint, IsWritable: false, IsSigner: false},
			{PublicKey: solana.SystemProgramID, IsWritable: false, IsSigner: false},
			{PublicKey: tokenProgram, IsWritable: false, IsSigner: false},
		},
		[]byte{1}, // Instruction code 1 for create idempotent
	), nil
}

// String возвращает строковое представление кошелька (его публичный ключ).
func (w *Wallet) String() string {
	return w.PublicKey.String()
}
