package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/tolauction/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer         TxType = "transfer"
	TxMintAsset        TxType = "mint_asset"
	TxBurnAsset        TxType = "burn_asset"
	TxTransferAsset    TxType = "transfer_asset"
	TxRegisterTemplate TxType = "register_template"

	TxCreateAuction   TxType = "create_auction"
	TxBid             TxType = "bid"
	TxCompleteAuction TxType = "complete_auction"
	TxClaimAsset      TxType = "claim_asset"
	TxCancelAuction   TxType = "cancel_auction"
	TxWithdraw        TxType = "withdraw"
	TxSetPaused       TxType = "set_paused"
)

// Transaction is the atomic unit of work on the chain.
// From holds the sender's full hex-encoded ed25519 public key (64 chars).
// Signature covers all fields except ID and Signature.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"` // hex-encoded ed25519 public key
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash is the transaction id: the digest of every field but the signature.
func (tx *Transaction) Hash() string {
	h, _ := crypto.HashJSON(signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	})
	return h
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	return crypto.Verify(pub, []byte(tx.Hash()), tx.Signature)
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce, fee uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Fee:       fee,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// TransferPayload transfers native tokens.
type TransferPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// MintAssetPayload mints a new asset from a registered template.
type MintAssetPayload struct {
	TemplateID string         `json:"template_id"`
	Owner      string         `json:"owner"` // recipient pubkey hex
	Properties map[string]any `json:"properties"`
}

// BurnAssetPayload permanently destroys an asset.
type BurnAssetPayload struct {
	AssetID string `json:"asset_id"`
}

// TransferAssetPayload moves an asset to a new owner.
type TransferAssetPayload struct {
	AssetID string `json:"asset_id"`
	To      string `json:"to"` // recipient pubkey hex or a registered receiver
}

// RegisterTemplatePayload defines a new collection of assets.
type RegisterTemplatePayload struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Schema    map[string]any `json:"schema"` // allowed property keys → type hints
	Tradeable bool           `json:"tradeable"`
}

// CreateAuctionPayload puts an asset into custody and opens an auction on it.
type CreateAuctionPayload struct {
	Asset           AssetRef `json:"asset"`
	BidIncrement    uint64   `json:"bid_increment"`
	DurationSeconds uint64   `json:"duration_seconds"`
}

// BidPayload places a bid. Deposit is moved from the sender's token balance
// into the house ledger before the bid is checked against the ledger balance.
type BidPayload struct {
	AuctionID uint64 `json:"auction_id"`
	Amount    uint64 `json:"amount"`
	Deposit   uint64 `json:"deposit"`
}

// AuctionIDPayload addresses a single auction.
type AuctionIDPayload struct {
	AuctionID uint64 `json:"auction_id"`
}

// CancelAuctionPayload addresses an auction either by id or, when Asset is
// set, by the asset it is selling.
type CancelAuctionPayload struct {
	AuctionID uint64    `json:"auction_id"`
	Asset     *AssetRef `json:"asset,omitempty"`
}

// WithdrawPayload carries no fields; the sender withdraws its whole ledger balance.
type WithdrawPayload struct{}

// SetPausedPayload toggles the house pause gate.
type SetPausedPayload struct {
	Paused bool `json:"paused"`
}
