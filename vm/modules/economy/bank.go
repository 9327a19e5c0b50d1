package economy

import (
	"github.com/tolelom/tolauction/core"
	"github.com/tolelom/tolauction/events"
	"github.com/tolelom/tolauction/vm"
)

// Bank moves native tokens between participant accounts and the house
// account. It satisfies house.Bank. Value collected by the house stays in
// the HouseAddress account until it is paid out, so native supply is
// unchanged by auctions.
type Bank struct {
	ctx *vm.Context
}

// NewBank returns a Bank bound to ctx.
func NewBank(ctx *vm.Context) *Bank {
	return &Bank{ctx: ctx}
}

// Collect takes amount from the native balance of from.
func (b *Bank) Collect(from string, amount uint64) error {
	if err := move(b.ctx.State, from, core.HouseAddress, amount); err != nil {
		return err
	}
	b.ctx.Emit(events.EventTokenTransfer, map[string]any{
		"from":   from,
		"to":     core.HouseAddress,
		"amount": amount,
	})
	return nil
}

// Pay sends amount from the house account to to.
func (b *Bank) Pay(to string, amount uint64) error {
	if err := move(b.ctx.State, core.HouseAddress, to, amount); err != nil {
		return err
	}
	b.ctx.Emit(events.EventTokenTransfer, map[string]any{
		"from":   core.HouseAddress,
		"to":     to,
		"amount": amount,
	})
	return nil
}
