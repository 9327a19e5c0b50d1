// Package wallet signs auction house transactions and stores keys on disk
// encrypted under a password.
package wallet

import (
	"github.com/tolelom/tolauction/core"
	"github.com/tolelom/tolauction/crypto"
)

// Wallet is one account: a private key and the address it signs for.
type Wallet struct {
	priv crypto.PrivateKey
	addr string
}

// New wraps an existing key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, addr: priv.Public().Hex()}
}

// Generate creates a wallet with a fresh key.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// Open loads a wallet from a keystore file.
func Open(path, password string) (*Wallet, error) {
	priv, err := LoadKey(path, password)
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey exposes the key for block signing and keystore export.
func (w *Wallet) PrivKey() crypto.PrivateKey { return w.priv }

// PubKey is the account address: the hex public key.
func (w *Wallet) PubKey() string { return w.addr }

// NewTx builds and signs a transaction of typ from this account.
func (w *Wallet) NewTx(chainID string, typ core.TxType, nonce, fee uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(chainID, typ, w.addr, nonce, fee, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// Transfer signs a native token transfer.
func (w *Wallet) Transfer(chainID, to string, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxTransfer, nonce, fee, core.TransferPayload{To: to, Amount: amount})
}
