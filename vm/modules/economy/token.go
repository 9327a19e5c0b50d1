package economy

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/tolauction/core"
	"github.com/tolelom/tolauction/crypto"
	"github.com/tolelom/tolauction/events"
	"github.com/tolelom/tolauction/vm"
)

func init() {
	vm.Register(core.TxTransfer, handleTransfer)
}

func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer payload: %w", err)
	}
	if p.Amount == 0 {
		return errors.New("transfer amount must be > 0")
	}
	if p.To == core.HouseAddress {
		return errors.New("value can only enter the house through a bid deposit")
	}
	if !crypto.IsPubKeyHex(p.To) {
		return fmt.Errorf("recipient %q is not an account address", p.To)
	}

	if err := move(ctx.State, ctx.Tx.From, p.To, p.Amount); err != nil {
		return err
	}

	ctx.Emit(events.EventTokenTransfer, map[string]any{
		"from":   ctx.Tx.From,
		"to":     p.To,
		"amount": p.Amount,
	})
	return nil
}

// move debits from and credits to. A short balance wraps
// core.ErrInsufficientFunds.
func move(state core.State, from, to string, amount uint64) error {
	sender, err := state.GetAccount(from)
	if err != nil {
		return err
	}
	if sender.Balance < amount {
		return fmt.Errorf("balance of %s is %d, need %d: %w", from, sender.Balance, amount, core.ErrInsufficientFunds)
	}
	recipient, err := state.GetAccount(to)
	if err != nil {
		return err
	}
	if from != to && recipient.Balance > math.MaxUint64-amount {
		return fmt.Errorf("balance of %s would overflow", to)
	}
	sender.Balance -= amount
	if err := state.SetAccount(sender); err != nil {
		return err
	}
	// Re-read so a self-transfer sees the debit.
	recipient, err = state.GetAccount(to)
	if err != nil {
		return err
	}
	recipient.Balance += amount
	return state.SetAccount(recipient)
}
