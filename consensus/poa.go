// Package consensus seals and imports blocks under proof of authority:
// validators take heights in round-robin order and sign what they propose.
// With a single validator this is the auction house's authority node. The
// block height is the clock that ends auctions.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tolelom/tolauction/config"
	"github.com/tolelom/tolauction/core"
	"github.com/tolelom/tolauction/crypto"
	"github.com/tolelom/tolauction/events"
	"github.com/tolelom/tolauction/vm"
)

// ErrNotProposer is returned by ProduceBlock when another validator owns the
// next height.
var ErrNotProposer = errors.New("not the proposer for this round")

const defaultMaxBlockTxs = 500

// PoA produces blocks on the authority and replays them on replicas.
type PoA struct {
	cfg     *config.Config
	bc      *core.Blockchain
	state   core.State
	mempool *core.Mempool
	exec    *vm.Executor
	emitter *events.Emitter
	privKey crypto.PrivateKey
	self    string
	log     *zap.Logger

	mu sync.Mutex // one block at a time
}

// New creates the engine for the validator holding privKey.
func New(
	cfg *config.Config,
	bc *core.Blockchain,
	state core.State,
	mempool *core.Mempool,
	exec *vm.Executor,
	emitter *events.Emitter,
	privKey crypto.PrivateKey,
	log *zap.Logger,
) *PoA {
	if log == nil {
		log = zap.NewNop()
	}
	return &PoA{
		cfg:     cfg,
		bc:      bc,
		state:   state,
		mempool: mempool,
		exec:    exec,
		emitter: emitter,
		privKey: privKey,
		self:    privKey.Public().Hex(),
		log:     log.Named("consensus"),
	}
}

func (p *PoA) proposerAt(height int64) (string, error) {
	if len(p.cfg.Validators) == 0 {
		return "", errors.New("no validators configured")
	}
	return p.cfg.Validators[int(height)%len(p.cfg.Validators)], nil
}

// IsProposer reports whether this node owns the next height.
func (p *PoA) IsProposer() bool {
	want, err := p.proposerAt(p.bc.Height() + 1)
	return err == nil && want == p.self
}

// ProduceBlock seals the next block from the mempool. Candidates that fail
// stay out of the block, leave the mempool and are reported through failed
// receipts.
func (p *PoA) ProduceBlock() (*core.Block, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.IsProposer() {
		return nil, ErrNotProposer
	}

	limit := p.cfg.MaxBlockTxs
	if limit <= 0 {
		limit = defaultMaxBlockTxs
	}
	candidates := p.mempool.Pending(limit)

	prevHash, height := config.GenesisHash, int64(1)
	if tip := p.bc.Tip(); tip != nil {
		prevHash, height = tip.Hash, tip.Header.Height+1
	}
	block := core.NewBlock(height, prevHash, p.self, nil)
	applied, failed := p.exec.ApplyPending(block, candidates)
	block.Transactions = applied
	block.Header.TxRoot = core.ComputeTxRoot(applied)
	// The root covers buffered writes; state is flushed only once the block
	// is stored.
	block.Header.StateRoot = p.state.ComputeRoot()
	block.Sign(p.privKey)

	if err := p.commit(block, map[string]any{"failed": len(failed)}); err != nil {
		return nil, err
	}

	decided := make([]string, 0, len(candidates))
	for _, tx := range candidates {
		decided = append(decided, tx.ID)
	}
	p.mempool.Remove(decided)

	p.log.Debug("block produced",
		zap.Int64("height", block.Header.Height),
		zap.Int("txs", len(applied)),
		zap.Int("failed", len(failed)))
	return block, nil
}

// ValidateBlock checks proposer, signature, tx root and linkage to the tip.
func (p *PoA) ValidateBlock(block *core.Block) error {
	if err := p.checkSeal(block); err != nil {
		return err
	}
	for _, tx := range block.Transactions {
		if tx.ID != tx.Hash() {
			return fmt.Errorf("tx %s: id does not match contents", tx.ID)
		}
	}
	if core.ComputeTxRoot(block.Transactions) != block.Header.TxRoot {
		return errors.New("tx root mismatch")
	}

	tip := p.bc.Tip()
	if tip == nil {
		return errors.New("no genesis block to extend")
	}
	if block.Header.PrevHash != tip.Hash {
		return fmt.Errorf("prev_hash mismatch: got %s want %s", block.Header.PrevHash, tip.Hash)
	}
	if block.Header.Height != tip.Header.Height+1 {
		return fmt.Errorf("height mismatch: got %d want %d", block.Header.Height, tip.Header.Height+1)
	}
	return nil
}

// ImportBlock replays a block produced elsewhere. Every transaction must
// succeed and the resulting state root must match the header. Included
// transactions leave the local mempool.
func (p *PoA) ImportBlock(block *core.Block) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ValidateBlock(block); err != nil {
		return err
	}
	if err := p.exec.ExecuteBlock(block); err != nil {
		p.abandon()
		return fmt.Errorf("execute block: %w", err)
	}
	if root := p.state.ComputeRoot(); root != block.Header.StateRoot {
		p.abandon()
		return fmt.Errorf("state root mismatch: got %s want %s", root, block.Header.StateRoot)
	}
	if err := p.commit(block, nil); err != nil {
		return err
	}

	p.mempool.Remove(block.TxIDs())
	if n := p.mempool.Prune(); n > 0 {
		p.log.Debug("expired txs pruned", zap.Int("count", n))
	}
	return nil
}

// ImportGenesis adopts the authority's block 0 on a node that has applied
// the genesis config to its state but holds no blocks yet.
func (p *PoA) ImportGenesis(block *core.Block) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bc.Tip() != nil {
		return errors.New("chain already has a genesis block")
	}
	if block.Header.Height != 0 || !config.IsGenesisHash(block.Header.PrevHash) {
		return errors.New("not a genesis block")
	}
	if err := p.checkSeal(block); err != nil {
		return err
	}
	if block.Header.TxRoot != crypto.Hash([]byte(p.cfg.Genesis.ChainID)) {
		return errors.New("genesis block belongs to another chain")
	}
	if root := p.state.ComputeRoot(); root != block.Header.StateRoot {
		return fmt.Errorf("genesis state root mismatch: got %s want %s", root, block.Header.StateRoot)
	}
	return p.bc.AddBlock(block)
}

// checkSeal verifies that the expected validator signed the block header.
func (p *PoA) checkSeal(block *core.Block) error {
	want, err := p.proposerAt(block.Header.Height)
	if err != nil {
		return err
	}
	if block.Header.Proposer != want {
		return fmt.Errorf("wrong proposer: got %s want %s", block.Header.Proposer, want)
	}
	pub, err := crypto.PubKeyFromHex(block.Header.Proposer)
	if err != nil {
		return fmt.Errorf("invalid proposer pubkey: %w", err)
	}
	if block.ComputeHash() != block.Hash {
		return errors.New("block hash does not match header")
	}
	if err := block.Verify(pub); err != nil {
		return fmt.Errorf("block signature invalid: %w", err)
	}
	return nil
}

// commit stores block, flushes the state it was built on and delivers its
// events followed by a block_commit event carrying extra.
func (p *PoA) commit(block *core.Block, extra map[string]any) error {
	if err := p.bc.AddBlock(block); err != nil {
		p.abandon()
		return fmt.Errorf("add block: %w", err)
	}
	if err := p.state.Commit(); err != nil {
		p.log.Fatal("block stored but state commit failed",
			zap.Int64("height", block.Header.Height), zap.Error(err))
	}
	p.exec.FlushEvents()

	data := map[string]any{"hash": block.Hash, "txs": len(block.Transactions)}
	for k, v := range extra {
		data[k] = v
	}
	p.emitter.Emit(events.Event{
		Type:        events.EventBlockCommit,
		BlockHeight: block.Header.Height,
		Data:        data,
	})
	return nil
}

func (p *PoA) abandon() {
	p.state.Discard()
	p.exec.DiscardEvents()
}

// Run produces a block every interval while this node is the proposer,
// until ctx is cancelled.
func (p *PoA) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if !p.IsProposer() {
				continue
			}
			if _, err := p.ProduceBlock(); err != nil {
				p.log.Error("produce block", zap.Error(err))
			}
		}
	}
}
