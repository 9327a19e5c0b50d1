package vm

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/tolelom/tolauction/core"
	"github.com/tolelom/tolauction/events"
)

// Context is passed to every Handler and provides access to the chain state,
// the current block, the triggering transaction, and the event sink. Events
// sent to the sink are only delivered once the block is committed.
type Context struct {
	State   core.State
	Block   *core.Block
	Tx      *core.Transaction
	Emitter events.Sink
	Log     *zap.Logger
}

// Emit records an event for the current transaction.
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	if c.Emitter == nil {
		return
	}
	c.Emitter.Emit(events.Event{
		Type:        typ,
		TxID:        c.Tx.ID,
		BlockHeight: c.Block.Header.Height,
		Data:        data,
	})
}

// Height is the height of the block being executed.
func (c *Context) Height() int64 { return c.Block.Header.Height }

// Time is the block timestamp in unix seconds.
func (c *Context) Time() int64 { return c.Block.Header.Timestamp / 1e9 }

// Executor applies transactions to the state using the global Handler registry.
// Events produced by successful transactions are buffered until FlushEvents.
type Executor struct {
	state   core.State
	emitter *events.Emitter
	pending events.Buffer
	chainID string
	log     *zap.Logger
}

// NewExecutor creates an Executor with the given state and event emitter.
func NewExecutor(state core.State, emitter *events.Emitter, log *zap.Logger) *Executor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{state: state, emitter: emitter, log: log.Named("vm")}
}

// RequireChainID makes the executor reject transactions signed for another chain.
func (e *Executor) RequireChainID(id string) { e.chainID = id }

// State returns the state the executor writes to.
func (e *Executor) State() core.State { return e.state }

// ExecuteBlock applies all transactions in block sequentially.
// A failing transaction causes the whole block to be rejected; the caller
// must Discard the state and DiscardEvents.
// EventBlockCommit is emitted by the caller (consensus) after signing so
// the event carries the correct block hash.
func (e *Executor) ExecuteBlock(block *core.Block) error {
	for _, tx := range block.Transactions {
		if err := e.ExecuteTx(block, tx); err != nil {
			return fmt.Errorf("tx %s failed: %w", tx.ID, err)
		}
	}
	return nil
}

// ApplyPending executes candidate transactions for a block being proposed.
// Failing transactions are rolled back and reported as receipts instead of
// aborting the block. It returns the transactions that belong in the block.
func (e *Executor) ApplyPending(block *core.Block, txs []*core.Transaction) ([]*core.Transaction, []core.Receipt) {
	applied := make([]*core.Transaction, 0, len(txs))
	var failed []core.Receipt
	for _, tx := range txs {
		if err := e.ExecuteTx(block, tx); err != nil {
			rc := core.NewFailedReceipt(tx, block.Header.Height, err)
			e.log.Debug("tx rejected",
				zap.String("tx", tx.ID),
				zap.String("type", string(tx.Type)),
				zap.String("kind", rc.ErrorKind),
				zap.Error(err))
			e.pending.Emit(events.Event{
				Type:        events.EventTxFailed,
				TxID:        tx.ID,
				BlockHeight: block.Header.Height,
				Data:        receiptData(rc),
			})
			failed = append(failed, rc)
			continue
		}
		applied = append(applied, tx)
	}
	return applied, failed
}

// ExecuteTx verifies and executes a single transaction with snapshot/rollback.
// Events of a failed transaction are dropped.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) error {
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("signature: %w", err)
	}
	if e.chainID != "" && tx.ChainID != e.chainID {
		return fmt.Errorf("chain id mismatch: got %q want %q", tx.ChainID, e.chainID)
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	mark := e.pending.Mark()

	if err := e.applyTx(block, tx); err != nil {
		e.pending.Truncate(mark)
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return fmt.Errorf("revert snapshot after tx failure: %w (revert: %v)", err, revertErr)
		}
		return err
	}

	e.pending.Emit(events.Event{
		Type:        events.EventTxExecuted,
		TxID:        tx.ID,
		BlockHeight: block.Header.Height,
		Data: receiptData(core.Receipt{
			TxID:        tx.ID,
			Type:        tx.Type,
			From:        tx.From,
			BlockHeight: block.Header.Height,
			Status:      core.ReceiptOK,
		}),
	})
	return nil
}

// FlushEvents delivers buffered events to subscribers. Call after the
// state has been committed.
func (e *Executor) FlushEvents() {
	if e.emitter == nil {
		e.pending.Reset()
		return
	}
	e.pending.FlushTo(e.emitter)
}

// DiscardEvents drops buffered events of an abandoned block.
func (e *Executor) DiscardEvents() {
	e.pending.Reset()
}

// applyTx deducts the fee, increments the nonce, then dispatches to the handler.
func (e *Executor) applyTx(block *core.Block, tx *core.Transaction) error {
	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return fmt.Errorf("invalid nonce: expected %d got %d", acc.Nonce, tx.Nonce)
	}
	if acc.Balance < tx.Fee {
		return fmt.Errorf("insufficient balance for fee: have %d need %d: %w", acc.Balance, tx.Fee, core.ErrInsufficientFunds)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("nonce overflow for account %s", tx.From)
	}
	acc.Balance -= tx.Fee
	acc.Nonce++
	if err := e.state.SetAccount(acc); err != nil {
		return err
	}

	ctx := &Context{
		State:   e.state,
		Block:   block,
		Tx:      tx,
		Emitter: &e.pending,
		Log:     e.log,
	}
	return dispatch(ctx, tx.Type, tx.Payload)
}

func receiptData(rc core.Receipt) map[string]any {
	data := map[string]any{
		"type":   string(rc.Type),
		"from":   rc.From,
		"status": string(rc.Status),
	}
	if rc.Status == core.ReceiptFailed {
		data["error_kind"] = rc.ErrorKind
		data["error_code"] = rc.ErrorCode
		data["error"] = rc.Error
	}
	return data
}
