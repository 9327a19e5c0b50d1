// Package house is the auction and escrow accounting engine of the auction
// house: it owns asset custody, tracks competing bids, keeps the balance
// ledger and enforces the Active → Cancelled | Completed transitions that
// gate every fund and asset movement.
//
// An Engine is built for a single operation against a snapshot-able store;
// the caller discards the store's writes when an operation returns an error.
// Every operation that calls out to a Custodian or Bank mutates its own state
// first, so a collaborator that re-enters the engine observes the update.
package house

import (
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/tolauction/core"
	"github.com/tolelom/tolauction/events"
)

// Config wires an Engine to its collaborators and to the current clock.
type Config struct {
	Store     Store
	Custodian Custodian
	Bank      Bank
	// Gate defaults to the Paused flag of the stored HouseParams.
	Gate PauseGate
	Emit Emitter
	// Height is the current block height; it drives auction status.
	Height int64
	// Time is the current block timestamp, recorded on new auctions.
	Time int64
}

// Engine executes auction house operations.
type Engine struct {
	store     Store
	ledger    *Ledger
	registry  *Registry
	custodian Custodian
	bank      Bank
	gate      PauseGate
	emit      Emitter
	height    int64
	now       int64
}

// New returns an Engine for cfg.
func New(cfg Config) *Engine {
	e := &Engine{
		store:     cfg.Store,
		ledger:    NewLedger(cfg.Store),
		registry:  NewRegistry(cfg.Store),
		custodian: cfg.Custodian,
		bank:      cfg.Bank,
		gate:      cfg.Gate,
		emit:      cfg.Emit,
		height:    cfg.Height,
		now:       cfg.Time,
	}
	if e.gate == nil {
		e.gate = StoreGate{Store: cfg.Store}
	}
	return e
}

// StoreGate reads the pause flag from the stored house parameters.
type StoreGate struct {
	Store Store
}

func (g StoreGate) Paused() (bool, error) {
	p, err := g.Store.GetHouseParams()
	if err != nil {
		return false, err
	}
	return p.Paused, nil
}

// Ledger exposes the balance ledger.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// Registry exposes the auction registry.
func (e *Engine) Registry() *Registry { return e.registry }

// ---- Queries ----

// AuctionsCount returns the number of auctions ever created.
func (e *Engine) AuctionsCount() (uint64, error) {
	return e.registry.Count()
}

// Auction returns auction id with its status computed at the current height.
func (e *Engine) Auction(id uint64) (View, error) {
	a, err := e.registry.Get(id)
	if err != nil {
		return View{}, err
	}
	return NewView(a, e.height), nil
}

// AuctionByAsset returns the auction indexed for ref.
func (e *Engine) AuctionByAsset(ref core.AssetRef) (View, error) {
	a, err := e.registry.Lookup(ref)
	if err != nil {
		return View{}, err
	}
	return NewView(a, e.height), nil
}

// Balance returns the ledger balance of addr.
func (e *Engine) Balance(addr string) (uint64, error) {
	return e.ledger.Balance(addr)
}

// Totals returns the conservation aggregates.
func (e *Engine) Totals() (*core.HouseTotals, error) {
	return e.store.GetHouseTotals()
}

// Params returns the house parameters.
func (e *Engine) Params() (*core.HouseParams, error) {
	return e.store.GetHouseParams()
}

// ---- Operations ----

// CreateAuction pulls ref from seller into custody and opens an auction on it.
// The auction record is only appended once custody has succeeded.
func (e *Engine) CreateAuction(seller string, ref core.AssetRef, increment, durationSeconds uint64) (uint64, error) {
	if err := e.checkNotPaused(); err != nil {
		return 0, err
	}
	params, err := e.Params()
	if err != nil {
		return 0, err
	}
	if ref.Collection == "" || ref.AssetID == "" {
		return 0, ErrInvalidAsset
	}
	if floor := max(MinAuctionSeconds, params.MinDurationSeconds); durationSeconds < floor {
		return 0, ErrDurationTooShort.withf("duration %ds is below the %ds minimum", durationSeconds, floor)
	}
	if increment == 0 {
		return 0, ErrInvalidIncrement
	}

	owner, err := e.custodian.OwnerOf(ref)
	if err != nil {
		return 0, ErrNotOwner.wrap(err)
	}
	if owner != seller {
		return 0, ErrNotOwner.withf("asset %s is not owned by %s", ref, seller)
	}
	if err := e.checkNoLiveAuction(ref); err != nil {
		return 0, err
	}

	if err := e.custodian.Transfer(seller, core.HouseAddress, ref); err != nil {
		return 0, ErrCustodyTransferFailed.wrap(err)
	}

	a := &core.Auction{
		Asset:          ref,
		Seller:         seller,
		BidIncrement:   increment,
		DurationBlocks: DurationBlocks(durationSeconds, params.BlockTimeSeconds),
		StartBlock:     e.height,
		StartTime:      e.now,
	}
	id, err := e.registry.Append(a)
	if err != nil {
		return 0, err
	}
	e.publish(events.EventAuctionCreated, map[string]any{
		"auction_id":      id,
		"collection":      ref.Collection,
		"asset_id":        ref.AssetID,
		"seller":          seller,
		"bid_increment":   increment,
		"duration_blocks": a.DurationBlocks,
		"start_block":     a.StartBlock,
	})
	return id, e.audit()
}

// Bid credits deposit to the bidder's ledger balance and places a bid of
// amount, refunding the previous highest bidder through the ledger. The
// bidder's balance must cover amount before any refund is applied.
func (e *Engine) Bid(bidder string, id, amount, deposit uint64) error {
	if err := e.checkNotPaused(); err != nil {
		return err
	}
	a, err := e.registry.Get(id)
	if err != nil {
		return err
	}
	if st := StatusAt(a, e.height); st != StatusActive {
		return ErrAuctionNotActive.withf("auction %d is %s", id, st)
	}
	if amount == 0 {
		return ErrZeroBid
	}

	if deposit > 0 {
		if err := e.collect(bidder, deposit); err != nil {
			return err
		}
	}
	bal, err := e.ledger.Balance(bidder)
	if err != nil {
		return err
	}
	if bal < amount {
		return ErrInsufficientBalance.withf("ledger balance %d cannot cover bid %d", bal, amount)
	}
	if a.HighestBid > math.MaxUint64-a.BidIncrement {
		return ErrOverflow.withf("highest bid %d plus increment %d overflows", a.HighestBid, a.BidIncrement)
	}
	if minBid := a.HighestBid + a.BidIncrement; amount < minBid {
		return ErrBidTooLow.withf("bid %d is below the minimum %d", amount, minBid)
	}

	prevBidder, prevBid := a.HighestBidder, a.HighestBid
	if prevBidder != "" {
		if err := e.ledger.Credit(prevBidder, prevBid); err != nil {
			return err
		}
		if err := e.releaseEscrow(prevBid); err != nil {
			return err
		}
	}
	if err := e.ledger.Debit(bidder, amount); err != nil {
		return err
	}
	if err := e.holdEscrow(amount); err != nil {
		return err
	}

	a.HighestBid = amount
	a.HighestBidder = bidder
	if err := e.registry.Save(a); err != nil {
		return err
	}
	e.publish(events.EventBidCreated, map[string]any{
		"auction_id":      id,
		"bidder":          bidder,
		"amount":          amount,
		"deposit":         deposit,
		"previous_bidder": prevBidder,
		"previous_bid":    prevBid,
	})
	return e.audit()
}

// CompleteAuction settles an auction whose time has run out: the winning bid
// is split between the house fee account and the seller in the ledger.
// Anyone may call it; a second call fails with ErrAlreadyCompleted.
func (e *Engine) CompleteAuction(id uint64) error {
	a, err := e.registry.Get(id)
	if err != nil {
		return err
	}
	if err := e.settle(a); err != nil {
		return err
	}
	return e.audit()
}

func (e *Engine) settle(a *core.Auction) error {
	if a.Completed {
		return ErrAlreadyCompleted.withf("auction %d already completed", a.ID)
	}
	if st := StatusAt(a, e.height); st != StatusCompleted {
		return ErrAuctionNotComplete.withf("auction %d is %s", a.ID, st)
	}
	params, err := e.Params()
	if err != nil {
		return err
	}
	houseCut, proceeds, err := Split(a.HighestBid, params.CommissionBps)
	if err != nil {
		return err
	}

	a.Completed = true
	if err := e.registry.Save(a); err != nil {
		return err
	}
	if err := e.releaseEscrow(a.HighestBid); err != nil {
		return err
	}
	if err := e.ledger.Credit(params.FeeAccount, houseCut); err != nil {
		return err
	}
	if err := e.ledger.Credit(a.Seller, proceeds); err != nil {
		return err
	}
	e.publish(events.EventAuctionSuccessful, map[string]any{
		"auction_id":      a.ID,
		"seller":          a.Seller,
		"winner":          a.HighestBidder,
		"price":           a.HighestBid,
		"house_cut":       houseCut,
		"fee_account":     params.FeeAccount,
		"seller_proceeds": proceeds,
	})
	return nil
}

// ClaimAsset sends the auctioned asset to the highest bidder, settling the
// auction first when nobody has yet. When the auction ended without bids the
// seller is the claimant.
func (e *Engine) ClaimAsset(caller string, id uint64) error {
	a, err := e.registry.Get(id)
	if err != nil {
		return err
	}
	claimant := a.HighestBidder
	if claimant == "" {
		claimant = a.Seller
	}
	if caller != claimant {
		return ErrNotHighestBidder.withf("%s is not the claimant of auction %d", caller, id)
	}
	if st := StatusAt(a, e.height); st != StatusCompleted {
		return ErrAuctionNotComplete.withf("auction %d is %s", id, st)
	}
	if a.Claimed {
		return ErrAlreadyClaimed.withf("asset of auction %d already claimed", id)
	}
	if !a.Completed {
		if err := e.settle(a); err != nil {
			return err
		}
	}

	a.Claimed = true
	if err := e.registry.Save(a); err != nil {
		return err
	}
	if err := e.custodian.Transfer(core.HouseAddress, caller, a.Asset); err != nil {
		return ErrCustodyTransferFailed.wrap(err)
	}
	e.publish(events.EventAssetWithdrawal, map[string]any{
		"auction_id": id,
		"collection": a.Asset.Collection,
		"asset_id":   a.Asset.AssetID,
		"to":         caller,
	})
	return e.audit()
}

// CancelAuction stops an active auction: the highest bidder is refunded in
// full through the ledger, the asset index is cleared and the asset goes
// back to the seller. Only the house operator may cancel.
func (e *Engine) CancelAuction(caller string, id uint64) error {
	if err := e.checkOperator(caller); err != nil {
		return err
	}
	a, err := e.registry.Get(id)
	if err != nil {
		return err
	}
	return e.cancel(a)
}

// CancelAuctionByAsset cancels the auction indexed for ref.
func (e *Engine) CancelAuctionByAsset(caller string, ref core.AssetRef) error {
	if err := e.checkOperator(caller); err != nil {
		return err
	}
	a, err := e.registry.Lookup(ref)
	if err != nil {
		return err
	}
	return e.cancel(a)
}

func (e *Engine) cancel(a *core.Auction) error {
	if st := StatusAt(a, e.height); st != StatusActive {
		return ErrAuctionNotActive.withf("auction %d is %s", a.ID, st)
	}

	a.Cancelled = true
	if err := e.registry.Save(a); err != nil {
		return err
	}
	if a.HighestBidder != "" {
		if err := e.ledger.Credit(a.HighestBidder, a.HighestBid); err != nil {
			return err
		}
		if err := e.releaseEscrow(a.HighestBid); err != nil {
			return err
		}
	}
	if err := e.registry.Unindex(a); err != nil {
		return err
	}
	if err := e.custodian.Transfer(core.HouseAddress, a.Seller, a.Asset); err != nil {
		return ErrCustodyTransferFailed.wrap(err)
	}
	e.publish(events.EventAuctionCancelled, map[string]any{
		"auction_id":      a.ID,
		"collection":      a.Asset.Collection,
		"asset_id":        a.Asset.AssetID,
		"seller":          a.Seller,
		"refunded_bidder": a.HighestBidder,
		"refund":          a.HighestBid,
	})
	return e.audit()
}

// Withdraw pays out the caller's whole ledger balance. The balance is
// zeroed before the payment.
func (e *Engine) Withdraw(caller string) (uint64, error) {
	amount, err := e.ledger.Drain(caller)
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, ErrNothingToWithdraw
	}
	if err := e.updateTotals(func(t *core.HouseTotals) error {
		if t.Withdrawn > math.MaxUint64-amount {
			return ErrOverflow.withf("withdrawn total overflows")
		}
		t.Withdrawn += amount
		return nil
	}); err != nil {
		return 0, err
	}
	if err := e.bank.Pay(caller, amount); err != nil {
		return 0, ErrValueTransferFailed.wrap(err)
	}
	e.publish(events.EventFundWithdrawal, map[string]any{
		"to":     caller,
		"amount": amount,
	})
	return amount, e.audit()
}

// SetPaused flips the pause gate. Only the house operator may call it.
func (e *Engine) SetPaused(caller string, paused bool) error {
	if err := e.checkOperator(caller); err != nil {
		return err
	}
	params, err := e.Params()
	if err != nil {
		return err
	}
	params.Paused = paused
	if err := e.store.SetHouseParams(params); err != nil {
		return err
	}
	e.publish(events.EventHousePaused, map[string]any{"paused": paused, "by": caller})
	return nil
}

// ---- helpers ----

func (e *Engine) checkNotPaused() error {
	paused, err := e.gate.Paused()
	if err != nil {
		return fmt.Errorf("pause gate: %w", err)
	}
	if paused {
		return ErrPaused
	}
	return nil
}

func (e *Engine) checkOperator(caller string) error {
	params, err := e.Params()
	if err != nil {
		return err
	}
	if caller == "" || caller != params.Operator {
		return ErrNotAuthorized.withf("%s is not the house operator", caller)
	}
	return nil
}

// checkNoLiveAuction enforces at most one active auction per asset. An index
// entry left behind by a completed auction does not block a new one.
func (e *Engine) checkNoLiveAuction(ref core.AssetRef) error {
	a, err := e.registry.Lookup(ref)
	if errors.Is(err, ErrAuctionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if StatusAt(a, e.height) == StatusActive {
		return ErrAuctionExists.withf("asset %s is in active auction %d", ref, a.ID)
	}
	return nil
}

func (e *Engine) collect(bidder string, deposit uint64) error {
	if err := e.bank.Collect(bidder, deposit); err != nil {
		if errors.Is(err, core.ErrInsufficientFunds) {
			return ErrInsufficientBalance.wrap(err)
		}
		return ErrValueTransferFailed.wrap(err)
	}
	if err := e.ledger.Credit(bidder, deposit); err != nil {
		return err
	}
	return e.updateTotals(func(t *core.HouseTotals) error {
		if t.Deposited > math.MaxUint64-deposit {
			return ErrOverflow.withf("deposited total overflows")
		}
		t.Deposited += deposit
		return nil
	})
}

func (e *Engine) holdEscrow(amount uint64) error {
	return e.updateTotals(func(t *core.HouseTotals) error {
		if t.Escrowed > math.MaxUint64-amount {
			return ErrOverflow.withf("escrowed total overflows")
		}
		t.Escrowed += amount
		return nil
	})
}

func (e *Engine) releaseEscrow(amount uint64) error {
	return e.updateTotals(func(t *core.HouseTotals) error {
		if t.Escrowed < amount {
			return ErrInvariant.withf("escrowed total %d below release %d", t.Escrowed, amount)
		}
		t.Escrowed -= amount
		return nil
	})
}

func (e *Engine) updateTotals(fn func(t *core.HouseTotals) error) error {
	t, err := e.store.GetHouseTotals()
	if err != nil {
		return fmt.Errorf("house totals: %w", err)
	}
	if err := fn(t); err != nil {
		return err
	}
	return e.store.SetHouseTotals(t)
}

// audit checks Ledger + Escrowed == Deposited - Withdrawn.
func (e *Engine) audit() error {
	t, err := e.store.GetHouseTotals()
	if err != nil {
		return fmt.Errorf("house totals: %w", err)
	}
	return CheckConservation(t)
}

// CheckConservation verifies the conservation invariant on t.
func CheckConservation(t *core.HouseTotals) error {
	if t.Withdrawn > t.Deposited {
		return ErrInvariant.withf("withdrawn %d exceeds deposited %d", t.Withdrawn, t.Deposited)
	}
	if t.Ledger > math.MaxUint64-t.Escrowed {
		return ErrInvariant.withf("ledger %d plus escrowed %d overflows", t.Ledger, t.Escrowed)
	}
	if held, net := t.Ledger+t.Escrowed, t.Deposited-t.Withdrawn; held != net {
		return ErrInvariant.withf("ledger %d + escrowed %d != deposited %d - withdrawn %d",
			t.Ledger, t.Escrowed, t.Deposited, t.Withdrawn)
	}
	return nil
}

func (e *Engine) publish(typ events.EventType, data map[string]any) {
	if e.emit != nil {
		e.emit(typ, data)
	}
}
