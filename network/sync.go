package network

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/tolelom/tolauction/core"
	"github.com/tolelom/tolauction/events"
)

const (
	syncBatch    = 50
	maxSyncBatch = 200
)

// Hello is the first message on every outbound connection.
type Hello struct {
	NodeID string `json:"node_id"`
	Height int64  `json:"height"`
}

// GetBlocksRequest asks a peer for blocks starting at FromHeight.
type GetBlocksRequest struct {
	FromHeight int64 `json:"from_height"`
	Limit      int   `json:"limit"`
}

// BlocksResponse carries a batch of blocks and the sender's tip height.
type BlocksResponse struct {
	Blocks []*core.Block `json:"blocks"`
	Tip    int64         `json:"tip"`
}

// Importer replays blocks produced by the authority.
type Importer interface {
	ImportGenesis(block *core.Block) error
	ImportBlock(block *core.Block) error
}

// Replicator keeps the local chain in step with its peers: it serves block
// ranges, imports announced and requested blocks in height order, and feeds
// relayed transactions into the mempool.
type Replicator struct {
	node     *Node
	bc       *core.Blockchain
	importer Importer
	mempool  *core.Mempool
	log      *zap.Logger
}

// NewReplicator registers the replication handlers on node. Call it before
// node.Start.
func NewReplicator(node *Node, bc *core.Blockchain, importer Importer, mempool *core.Mempool, log *zap.Logger) *Replicator {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Replicator{
		node:     node,
		bc:       bc,
		importer: importer,
		mempool:  mempool,
		log:      log.Named("replication"),
	}
	node.Handle(MsgHello, r.handleHello)
	node.Handle(MsgGetBlocks, r.handleGetBlocks)
	node.Handle(MsgBlocks, r.handleBlocks)
	node.Handle(MsgBlock, r.handleBlock)
	node.Handle(MsgTx, r.handleTx)
	return r
}

// Connect dials a peer, introduces this node and requests the blocks it is
// missing.
func (r *Replicator) Connect(ctx context.Context, id, addr string) error {
	p, err := r.node.Connect(ctx, id, addr)
	if err != nil {
		return err
	}
	if err := p.Send(MsgHello, Hello{NodeID: r.node.ID(), Height: r.bc.Height()}); err != nil {
		return err
	}
	return r.requestFrom(p, r.nextHeight())
}

// AnnounceCommits broadcasts every block committed locally.
func (r *Replicator) AnnounceCommits(em *events.Emitter) {
	em.Subscribe(events.EventBlockCommit, func(ev events.Event) {
		hash, _ := ev.Data["hash"].(string)
		block, err := r.bc.GetBlock(hash)
		if err != nil {
			r.log.Warn("announce: block not found", zap.Int64("height", ev.BlockHeight), zap.Error(err))
			return
		}
		r.node.Broadcast(MsgBlock, block)
	})
}

// BroadcastTx relays a locally accepted transaction.
func (r *Replicator) BroadcastTx(tx *core.Transaction) {
	r.node.Broadcast(MsgTx, tx)
}

func (r *Replicator) nextHeight() int64 {
	if r.bc.Tip() == nil {
		return 0
	}
	return r.bc.Height() + 1
}

func (r *Replicator) requestFrom(p *Peer, from int64) error {
	return p.Send(MsgGetBlocks, GetBlocksRequest{FromHeight: from, Limit: syncBatch})
}

func (r *Replicator) handleHello(p *Peer, msg Message) {
	var h Hello
	if err := json.Unmarshal(msg.Payload, &h); err != nil {
		r.log.Warn("bad hello", zap.String("peer", p.ID), zap.Error(err))
		return
	}
	r.log.Info("peer connected", zap.String("peer", p.ID), zap.String("node_id", h.NodeID), zap.Int64("height", h.Height))
	if h.Height >= r.nextHeight() {
		if err := r.requestFrom(p, r.nextHeight()); err != nil {
			r.log.Warn("request blocks", zap.String("peer", p.ID), zap.Error(err))
		}
	}
}

func (r *Replicator) handleGetBlocks(p *Peer, msg Message) {
	var req GetBlocksRequest
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		r.log.Warn("bad get_blocks", zap.String("peer", p.ID), zap.Error(err))
		return
	}
	limit := req.Limit
	if limit <= 0 {
		limit = syncBatch
	}
	if limit > maxSyncBatch {
		limit = maxSyncBatch
	}

	blocks, err := r.bc.Range(req.FromHeight, limit)
	if err != nil {
		r.log.Warn("load blocks", zap.Int64("from", req.FromHeight), zap.Error(err))
	}
	resp := BlocksResponse{Blocks: blocks, Tip: r.bc.Height()}
	if err := p.Send(MsgBlocks, resp); err != nil {
		r.log.Warn("send blocks", zap.String("peer", p.ID), zap.Error(err))
	}
}

func (r *Replicator) handleBlocks(p *Peer, msg Message) {
	var resp BlocksResponse
	if err := json.Unmarshal(msg.Payload, &resp); err != nil {
		r.log.Warn("bad blocks", zap.String("peer", p.ID), zap.Error(err))
		return
	}
	for _, block := range resp.Blocks {
		if block.Header.Height < r.nextHeight() {
			continue
		}
		if err := r.importBlock(block); err != nil {
			r.log.Warn("import failed", zap.String("peer", p.ID), zap.Int64("height", block.Header.Height), zap.Error(err))
			return
		}
	}
	if len(resp.Blocks) > 0 && r.bc.Height() < resp.Tip {
		if err := r.requestFrom(p, r.nextHeight()); err != nil {
			r.log.Warn("request blocks", zap.String("peer", p.ID), zap.Error(err))
		}
	}
}

func (r *Replicator) handleBlock(p *Peer, msg Message) {
	var block core.Block
	if err := json.Unmarshal(msg.Payload, &block); err != nil {
		r.log.Warn("bad block", zap.String("peer", p.ID), zap.Error(err))
		return
	}
	next := r.nextHeight()
	switch {
	case block.Header.Height == next:
		if err := r.importBlock(&block); err != nil {
			r.log.Warn("import failed", zap.String("peer", p.ID), zap.Int64("height", block.Header.Height), zap.Error(err))
		}
	case block.Header.Height > next:
		if err := r.requestFrom(p, next); err != nil {
			r.log.Warn("request blocks", zap.String("peer", p.ID), zap.Error(err))
		}
	}
}

func (r *Replicator) handleTx(p *Peer, msg Message) {
	var tx core.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		r.log.Warn("bad tx", zap.String("peer", p.ID), zap.Error(err))
		return
	}
	tx.ID = tx.Hash()
	if err := r.mempool.Add(&tx); err != nil {
		r.log.Debug("relayed tx rejected", zap.String("tx", tx.ID), zap.Error(err))
	}
}

func (r *Replicator) importBlock(block *core.Block) error {
	if block.Header.Height == 0 {
		return r.importer.ImportGenesis(block)
	}
	if err := r.importer.ImportBlock(block); err != nil {
		return err
	}
	r.log.Debug("block imported", zap.Int64("height", block.Header.Height), zap.Int("txs", len(block.Transactions)))
	return nil
}
