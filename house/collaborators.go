package house

import (
	"github.com/tolelom/tolauction/core"
	"github.com/tolelom/tolauction/events"
)

// Store is the slice of chain state the engine reads and writes.
// core.State satisfies it.
type Store interface {
	GetAuction(id uint64) (*core.Auction, error)
	SetAuction(a *core.Auction) error
	AuctionCount() (uint64, error)
	SetAuctionCount(n uint64) error

	GetAuctionIndex(ref core.AssetRef) (uint64, error)
	SetAuctionIndex(ref core.AssetRef, id uint64) error
	DeleteAuctionIndex(ref core.AssetRef) error

	GetLedgerBalance(address string) (uint64, error)
	SetLedgerBalance(address string, amount uint64) error

	GetHouseParams() (*core.HouseParams, error)
	SetHouseParams(p *core.HouseParams) error
	GetHouseTotals() (*core.HouseTotals, error)
	SetHouseTotals(t *core.HouseTotals) error
}

// Custodian is the asset registry that owns transfer and ownership semantics.
type Custodian interface {
	// OwnerOf returns the current owner of ref.
	OwnerOf(ref core.AssetRef) (string, error)
	// Transfer moves ref from its current owner from to to. Any error aborts
	// the calling operation.
	Transfer(from, to string, ref core.AssetRef) error
}

// Bank moves native value between participant accounts and the house.
type Bank interface {
	// Collect takes amount from the account of from. It is the value attached
	// to a bid.
	Collect(from string, amount uint64) error
	// Pay sends amount to the account of to.
	Pay(to string, amount uint64) error
}

// PauseGate halts auction creation and bidding while set.
type PauseGate interface {
	Paused() (bool, error)
}

// Emitter receives engine events. Nil disables events.
type Emitter func(typ events.EventType, data map[string]any)
