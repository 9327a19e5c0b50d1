package core

import (
	"time"

	"github.com/tolelom/tolauction/crypto"
)

// BlockHeader is the signed part of a block. Height doubles as the auction
// clock.
type BlockHeader struct {
	Height    int64  `json:"height"`
	PrevHash  string `json:"prev_hash"`
	StateRoot string `json:"state_root"` // state digest after the block's transactions
	TxRoot    string `json:"tx_root"`
	Timestamp int64  `json:"timestamp"`
	Proposer  string `json:"proposer"` // pubkey hex
}

// Block is an ordered batch of transactions that all succeeded.
type Block struct {
	Header       BlockHeader    `json:"header"`
	Transactions []*Transaction `json:"transactions"`
	Hash         string         `json:"hash"`
	Signature    string         `json:"signature"`
}

// NewBlock returns an unsigned block stamped with the current time.
func NewBlock(height int64, prevHash, proposer string, txs []*Transaction) *Block {
	return &Block{
		Header: BlockHeader{
			Height:    height,
			PrevHash:  prevHash,
			TxRoot:    ComputeTxRoot(txs),
			Timestamp: time.Now().UnixNano(),
			Proposer:  proposer,
		},
		Transactions: txs,
	}
}

// ComputeHash digests the header.
func (b *Block) ComputeHash() string {
	h, _ := crypto.HashJSON(b.Header)
	return h
}

// Sign fixes Hash and signs it.
func (b *Block) Sign(priv crypto.PrivateKey) {
	b.Hash = b.ComputeHash()
	b.Signature = crypto.Sign(priv, []byte(b.Hash))
}

// Verify checks Signature against pub.
func (b *Block) Verify(pub crypto.PublicKey) error {
	return crypto.Verify(pub, []byte(b.Hash), b.Signature)
}

// TxIDs lists the ids of the block's transactions in order.
func (b *Block) TxIDs() []string {
	return txIDs(b.Transactions)
}

// ComputeTxRoot digests the ordered transaction ids.
func ComputeTxRoot(txs []*Transaction) string {
	h, _ := crypto.HashJSON(txIDs(txs))
	return h
}

func txIDs(txs []*Transaction) []string {
	ids := make([]string, len(txs))
	for i, tx := range txs {
		ids[i] = tx.ID
	}
	return ids
}
