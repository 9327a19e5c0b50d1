// Package auction exposes the auction house engine as transaction handlers.
// Each handler builds a house.Engine over the executing transaction's state,
// so a failing operation is rolled back by the executor's snapshot.
package auction

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/tolelom/tolauction/core"
	"github.com/tolelom/tolauction/house"
	"github.com/tolelom/tolauction/vm"
	"github.com/tolelom/tolauction/vm/modules/asset"
	"github.com/tolelom/tolauction/vm/modules/economy"
)

func init() {
	vm.Register(core.TxCreateAuction, handleCreateAuction)
	vm.Register(core.TxBid, handleBid)
	vm.Register(core.TxCompleteAuction, handleCompleteAuction)
	vm.Register(core.TxClaimAsset, handleClaimAsset)
	vm.Register(core.TxCancelAuction, handleCancelAuction)
	vm.Register(core.TxWithdraw, handleWithdraw)
	vm.Register(core.TxSetPaused, handleSetPaused)
	vm.RegisterReceiver(core.HouseAddress, acceptCustody)
}

// acceptCustody acknowledges assets arriving at the house. Only
// create_auction opens an auction; a bare transfer just changes the owner.
func acceptCustody(*vm.Context, string, *core.Asset) error { return nil }

// NewEngine returns the auction engine bound to ctx.
func NewEngine(ctx *vm.Context) *house.Engine {
	return house.New(house.Config{
		Store:     ctx.State,
		Custodian: asset.NewCustodian(ctx),
		Bank:      economy.NewBank(ctx),
		Emit:      ctx.Emit,
		Height:    ctx.Height(),
		Time:      ctx.Time(),
	})
}

func decode(payload json.RawMessage, typ core.TxType, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", typ, err)
	}
	return nil
}

func handleCreateAuction(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CreateAuctionPayload
	if err := decode(payload, core.TxCreateAuction, &p); err != nil {
		return err
	}
	id, err := NewEngine(ctx).CreateAuction(ctx.Tx.From, p.Asset, p.BidIncrement, p.DurationSeconds)
	if err != nil {
		return err
	}
	ctx.Log.Debug("auction created",
		zap.Uint64("auction", id),
		zap.Stringer("asset", p.Asset),
		zap.Int64("height", ctx.Height()))
	return nil
}

func handleBid(ctx *vm.Context, payload json.RawMessage) error {
	var p core.BidPayload
	if err := decode(payload, core.TxBid, &p); err != nil {
		return err
	}
	return NewEngine(ctx).Bid(ctx.Tx.From, p.AuctionID, p.Amount, p.Deposit)
}

func handleCompleteAuction(ctx *vm.Context, payload json.RawMessage) error {
	var p core.AuctionIDPayload
	if err := decode(payload, core.TxCompleteAuction, &p); err != nil {
		return err
	}
	return NewEngine(ctx).CompleteAuction(p.AuctionID)
}

func handleClaimAsset(ctx *vm.Context, payload json.RawMessage) error {
	var p core.AuctionIDPayload
	if err := decode(payload, core.TxClaimAsset, &p); err != nil {
		return err
	}
	return NewEngine(ctx).ClaimAsset(ctx.Tx.From, p.AuctionID)
}

func handleCancelAuction(ctx *vm.Context, payload json.RawMessage) error {
	var p core.CancelAuctionPayload
	if err := decode(payload, core.TxCancelAuction, &p); err != nil {
		return err
	}
	if p.Asset != nil {
		return NewEngine(ctx).CancelAuctionByAsset(ctx.Tx.From, *p.Asset)
	}
	return NewEngine(ctx).CancelAuction(ctx.Tx.From, p.AuctionID)
}

func handleWithdraw(ctx *vm.Context, payload json.RawMessage) error {
	amount, err := NewEngine(ctx).Withdraw(ctx.Tx.From)
	if err != nil {
		return err
	}
	ctx.Log.Debug("ledger withdrawal", zap.String("to", ctx.Tx.From), zap.Uint64("amount", amount))
	return nil
}

func handleSetPaused(ctx *vm.Context, payload json.RawMessage) error {
	var p core.SetPausedPayload
	if err := decode(payload, core.TxSetPaused, &p); err != nil {
		return err
	}
	if err := NewEngine(ctx).SetPaused(ctx.Tx.From, p.Paused); err != nil {
		return err
	}
	ctx.Log.Info("house pause flag changed", zap.Bool("paused", p.Paused), zap.String("by", ctx.Tx.From))
	return nil
}
