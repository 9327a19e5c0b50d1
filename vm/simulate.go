package vm

import (
	"go.uber.org/zap"

	"github.com/tolelom/tolauction/core"
)

// Simulate executes tx against state as if it were included in the block
// after tip, and returns the receipt it would get. The caller owns state and
// must discard it; nothing is emitted.
func Simulate(state core.State, tip *core.Block, tx *core.Transaction, log *zap.Logger) core.Receipt {
	height := int64(1)
	prev := ""
	if tip != nil {
		height = tip.Header.Height + 1
		prev = tip.Hash
	}
	block := core.NewBlock(height, prev, "", []*core.Transaction{tx})

	exec := NewExecutor(state, nil, log)
	defer exec.DiscardEvents()
	if err := exec.ExecuteTx(block, tx); err != nil {
		return core.NewFailedReceipt(tx, height, err)
	}
	return core.Receipt{
		TxID:        tx.ID,
		Type:        tx.Type,
		From:        tx.From,
		BlockHeight: height,
		Status:      core.ReceiptOK,
	}
}
