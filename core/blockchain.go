package core

import (
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by stores when a key is absent.
var ErrNotFound = errors.New("not found")

// BlockStore persists blocks. The storage package implements it.
type BlockStore interface {
	GetBlock(hash string) (*Block, error)
	GetBlockByHeight(height int64) (*Block, error)
	// GetTip returns "" for an empty chain.
	GetTip() (string, error)
	// CommitBlock stores the block, indexes its height and moves the tip,
	// atomically.
	CommitBlock(block *Block) error
}

// Blockchain is the canonical chain of a node, from block 0 to the tip.
type Blockchain struct {
	store BlockStore

	mu  sync.RWMutex
	tip *Block
}

// NewBlockchain returns a chain over store. Call Init to resume from a
// persisted tip.
func NewBlockchain(store BlockStore) *Blockchain {
	return &Blockchain{store: store}
}

// Init loads the persisted tip, if any.
func (bc *Blockchain) Init() error {
	hash, err := bc.store.GetTip()
	if err != nil {
		return fmt.Errorf("get tip: %w", err)
	}
	if hash == "" {
		return nil
	}
	tip, err := bc.store.GetBlock(hash)
	if err != nil {
		return fmt.Errorf("load tip: %w", err)
	}
	bc.mu.Lock()
	bc.tip = tip
	bc.mu.Unlock()
	return nil
}

// AddBlock appends block. Any block after the first must extend the tip.
func (bc *Blockchain) AddBlock(block *Block) error {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if bc.tip != nil {
		if want := bc.tip.Header.Height + 1; block.Header.Height != want {
			return fmt.Errorf("block height %d, want %d", block.Header.Height, want)
		}
		if block.Header.PrevHash != bc.tip.Hash {
			return fmt.Errorf("prev_hash %s does not extend tip %s", block.Header.PrevHash, bc.tip.Hash)
		}
	}
	if err := bc.store.CommitBlock(block); err != nil {
		return fmt.Errorf("commit block %d: %w", block.Header.Height, err)
	}
	bc.tip = block
	return nil
}

// GetBlock looks a block up by hash.
func (bc *Blockchain) GetBlock(hash string) (*Block, error) {
	return bc.store.GetBlock(hash)
}

// GetBlockByHeight looks a block up by height.
func (bc *Blockchain) GetBlockByHeight(height int64) (*Block, error) {
	return bc.store.GetBlockByHeight(height)
}

// Range returns up to limit consecutive blocks starting at from, stopping at
// the tip.
func (bc *Blockchain) Range(from int64, limit int) ([]*Block, error) {
	tip := bc.Tip()
	if tip == nil || from < 0 || from > tip.Header.Height {
		return nil, nil
	}
	var out []*Block
	for h := from; h <= tip.Header.Height && len(out) < limit; h++ {
		b, err := bc.store.GetBlockByHeight(h)
		if err != nil {
			return out, err
		}
		out = append(out, b)
	}
	return out, nil
}

// Tip returns the latest block, or nil before genesis.
func (bc *Blockchain) Tip() *Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	return bc.tip
}

// Height is the tip's height, 0 before genesis.
func (bc *Blockchain) Height() int64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()
	if bc.tip == nil {
		return 0
	}
	return bc.tip.Header.Height
}
