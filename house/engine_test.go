package house_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tolelom/tolauction/core"
	"github.com/tolelom/tolauction/events"
	"github.com/tolelom/tolauction/house"
	"github.com/tolelom/tolauction/internal/testutil"
	"github.com/tolelom/tolauction/storage"
)

const (
	operator = "operator"
	feeAcct  = "house-fees"
	seller   = "seller"
	alice    = "alice"
	bob      = "bob"
)

var assetX = core.AssetRef{Collection: "swords", AssetID: "x"}

// custody is an in-memory asset registry. Hooks run after a transfer
// succeeds, which is where a malicious receiver would re-enter.
type custody struct {
	owners map[core.AssetRef]string
	fail   error
	hook   func(from, to string, ref core.AssetRef)
}

func (c *custody) OwnerOf(ref core.AssetRef) (string, error) {
	owner, ok := c.owners[ref]
	if !ok {
		return "", fmt.Errorf("asset %s: %w", ref, core.ErrNotFound)
	}
	return owner, nil
}

func (c *custody) Transfer(from, to string, ref core.AssetRef) error {
	if c.fail != nil {
		return c.fail
	}
	if c.owners[ref] != from {
		return fmt.Errorf("asset %s not owned by %s", ref, from)
	}
	c.owners[ref] = to
	if c.hook != nil {
		c.hook(from, to, ref)
	}
	return nil
}

type bank struct {
	wallets map[string]uint64
	failPay error
	hook    func(to string, amount uint64)
}

func (b *bank) Collect(from string, amount uint64) error {
	if b.wallets[from] < amount {
		return fmt.Errorf("collect %d from %s: %w", amount, from, core.ErrInsufficientFunds)
	}
	b.wallets[from] -= amount
	return nil
}

func (b *bank) Pay(to string, amount uint64) error {
	if b.failPay != nil {
		return b.failPay
	}
	b.wallets[to] += amount
	if b.hook != nil {
		b.hook(to, amount)
	}
	return nil
}

type recorded struct {
	typ  events.EventType
	data map[string]any
}

type harness struct {
	t       *testing.T
	store   *storage.StateDB
	custody *custody
	bank    *bank
	events  []recorded
	height  int64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:       t,
		store:   testutil.NewStateDB(),
		custody: &custody{owners: map[core.AssetRef]string{assetX: seller}},
		bank:    &bank{wallets: map[string]uint64{alice: 1000, bob: 1000}},
		height:  10,
	}
	require.NoError(t, h.store.SetHouseParams(&core.HouseParams{
		Operator:           operator,
		FeeAccount:         feeAcct,
		CommissionBps:      250,
		BlockTimeSeconds:   14,
		MinDurationSeconds: 60,
	}))
	return h
}

func (h *harness) engine() *house.Engine {
	return house.New(house.Config{
		Store:     h.store,
		Custodian: h.custody,
		Bank:      h.bank,
		Emit: func(typ events.EventType, data map[string]any) {
			h.events = append(h.events, recorded{typ, data})
		},
		Height: h.height,
		Time:   1_700_000_000,
	})
}

func (h *harness) balance(addr string) uint64 {
	h.t.Helper()
	bal, err := h.engine().Balance(addr)
	require.NoError(h.t, err)
	return bal
}

func (h *harness) auction(id uint64) house.View {
	h.t.Helper()
	v, err := h.engine().Auction(id)
	require.NoError(h.t, err)
	return v
}

func (h *harness) eventTypes() []events.EventType {
	out := make([]events.EventType, 0, len(h.events))
	for _, ev := range h.events {
		out = append(out, ev.typ)
	}
	return out
}

func (h *harness) create() uint64 {
	h.t.Helper()
	id, err := h.engine().CreateAuction(seller, assetX, 10, 600)
	require.NoError(h.t, err)
	return id
}

func (h *harness) conserved() {
	h.t.Helper()
	totals, err := h.engine().Totals()
	require.NoError(h.t, err)
	require.NoError(h.t, house.CheckConservation(totals))
}

func TestAuctionLifecycle(t *testing.T) {
	h := newHarness(t)

	id := h.create()
	assert.Equal(t, uint64(0), id)
	assert.Equal(t, core.HouseAddress, h.custody.owners[assetX])

	v := h.auction(id)
	assert.Equal(t, house.StatusActive, v.Status)
	assert.Equal(t, int64(42), v.DurationBlocks)
	assert.Equal(t, int64(52), v.EndBlock)

	require.NoError(t, h.engine().Bid(alice, id, 100, 100))
	assert.Equal(t, uint64(0), h.balance(alice))
	assert.Equal(t, uint64(100), h.auction(id).HighestBid)

	require.NoError(t, h.engine().Bid(bob, id, 115, 115))
	assert.Equal(t, uint64(100), h.balance(alice))
	assert.Equal(t, bob, h.auction(id).HighestBidder)
	h.conserved()

	h.height = 53
	assert.Equal(t, house.StatusCompleted, h.auction(id).Status)
	require.NoError(t, h.engine().CompleteAuction(id))
	assert.Equal(t, uint64(2), h.balance(feeAcct))
	assert.Equal(t, uint64(113), h.balance(seller))

	require.NoError(t, h.engine().ClaimAsset(bob, id))
	assert.Equal(t, bob, h.custody.owners[assetX])

	paid, err := h.engine().Withdraw(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), paid)
	assert.Equal(t, uint64(1000), h.bank.wallets[alice])

	assert.Equal(t, uint64(0), h.balance(alice))
	assert.Equal(t, uint64(0), h.balance(bob))
	assert.Equal(t, uint64(2), h.balance(feeAcct))
	assert.Equal(t, uint64(113), h.balance(seller))
	h.conserved()

	totals, err := h.engine().Totals()
	require.NoError(t, err)
	assert.Equal(t, uint64(215), totals.Deposited)
	assert.Equal(t, uint64(100), totals.Withdrawn)
	assert.Equal(t, uint64(0), totals.Escrowed)

	assert.Equal(t, []events.EventType{
		events.EventAuctionCreated,
		events.EventBidCreated,
		events.EventBidCreated,
		events.EventAuctionSuccessful,
		events.EventAssetWithdrawal,
		events.EventFundWithdrawal,
	}, h.eventTypes())
}

func TestBidAfterEndIsRejected(t *testing.T) {
	h := newHarness(t)
	id := h.create()

	h.height = 53
	err := h.engine().Bid(alice, id, 500, 500)
	require.ErrorIs(t, err, house.ErrAuctionNotActive)
	assert.Equal(t, house.KindState, house.KindOf(err))
}

func TestBidMustBeatHighestPlusIncrement(t *testing.T) {
	h := newHarness(t)
	id := h.create()

	require.NoError(t, h.engine().Bid(alice, id, 100, 300))

	err := h.engine().Bid(bob, id, 109, 109)
	require.ErrorIs(t, err, house.ErrBidTooLow)

	err = h.engine().Bid(alice, id, 0, 0)
	require.ErrorIs(t, err, house.ErrZeroBid)

	// The first bid only needs to meet the increment.
	h2 := newHarness(t)
	id2 := h2.create()
	require.ErrorIs(t, h2.engine().Bid(alice, id2, 9, 9), house.ErrBidTooLow)
	require.NoError(t, h2.engine().Bid(alice, id2, 10, 10))
}

func TestBidRequiresLedgerBalance(t *testing.T) {
	h := newHarness(t)
	id := h.create()

	err := h.engine().Bid(alice, id, 100, 50)
	require.ErrorIs(t, err, house.ErrInsufficientBalance)

	h.bank.wallets[bob] = 10
	err = h.engine().Bid(bob, id, 100, 100)
	require.ErrorIs(t, err, house.ErrInsufficientBalance)
	assert.Equal(t, house.KindInsufficientBalance, house.KindOf(err))
}

func TestRaisingOwnBidRefundsPreviousBid(t *testing.T) {
	h := newHarness(t)
	id := h.create()

	require.NoError(t, h.engine().Bid(alice, id, 100, 100))
	require.ErrorIs(t, h.engine().Bid(alice, id, 150, 50), house.ErrInsufficientBalance)

	h = newHarness(t)
	id = h.create()
	require.NoError(t, h.engine().Bid(alice, id, 100, 100))
	require.NoError(t, h.engine().Bid(alice, id, 150, 150))
	assert.Equal(t, uint64(100), h.balance(alice))
	assert.Equal(t, uint64(150), h.auction(id).HighestBid)
	h.conserved()
}

func TestCompleteAuctionOnlyOnce(t *testing.T) {
	h := newHarness(t)
	id := h.create()
	require.NoError(t, h.engine().Bid(alice, id, 100, 100))

	require.ErrorIs(t, h.engine().CompleteAuction(id), house.ErrAuctionNotComplete)

	h.height = 100
	require.NoError(t, h.engine().CompleteAuction(id))
	require.ErrorIs(t, h.engine().CompleteAuction(id), house.ErrAlreadyCompleted)
	assert.Equal(t, uint64(98), h.balance(seller))
	assert.Equal(t, uint64(2), h.balance(feeAcct))
	h.conserved()
}

func TestClaimSettlesWhenNotCompleted(t *testing.T) {
	h := newHarness(t)
	id := h.create()
	require.NoError(t, h.engine().Bid(alice, id, 200, 200))
	h.height = 100

	require.ErrorIs(t, h.engine().ClaimAsset(bob, id), house.ErrNotHighestBidder)
	require.NoError(t, h.engine().ClaimAsset(alice, id))
	assert.Equal(t, alice, h.custody.owners[assetX])
	assert.Equal(t, uint64(195), h.balance(seller))

	v := h.auction(id)
	assert.True(t, v.Settled)
	assert.True(t, v.Claimed)

	require.ErrorIs(t, h.engine().ClaimAsset(alice, id), house.ErrAlreadyClaimed)
	require.ErrorIs(t, h.engine().CompleteAuction(id), house.ErrAlreadyCompleted)
	h.conserved()
}

func TestClaimWithoutBidsReturnsAssetToSeller(t *testing.T) {
	h := newHarness(t)
	id := h.create()
	h.height = 100

	require.NoError(t, h.engine().ClaimAsset(seller, id))
	assert.Equal(t, seller, h.custody.owners[assetX])
	assert.Equal(t, uint64(0), h.balance(seller))
}

func TestClaimBeforeEndIsRejected(t *testing.T) {
	h := newHarness(t)
	id := h.create()
	require.NoError(t, h.engine().Bid(alice, id, 100, 100))

	require.ErrorIs(t, h.engine().ClaimAsset(alice, id), house.ErrAuctionNotComplete)
}

func TestCancelRefundsAndReturnsAsset(t *testing.T) {
	h := newHarness(t)
	id := h.create()
	require.NoError(t, h.engine().Bid(alice, id, 100, 100))

	require.ErrorIs(t, h.engine().CancelAuction(seller, id), house.ErrNotAuthorized)

	require.NoError(t, h.engine().CancelAuction(operator, id))
	assert.Equal(t, seller, h.custody.owners[assetX])
	assert.Equal(t, uint64(100), h.balance(alice))
	assert.Equal(t, house.StatusCancelled, h.auction(id).Status)

	_, err := h.engine().AuctionByAsset(assetX)
	require.ErrorIs(t, err, house.ErrAuctionNotFound)

	// Cancelled and Completed are exclusive.
	h.height = 100
	assert.Equal(t, house.StatusCancelled, h.auction(id).Status)
	require.ErrorIs(t, h.engine().CompleteAuction(id), house.ErrAuctionNotComplete)
	require.ErrorIs(t, h.engine().ClaimAsset(alice, id), house.ErrAuctionNotComplete)
	require.ErrorIs(t, h.engine().CancelAuction(operator, id), house.ErrAuctionNotActive)
	require.ErrorIs(t, h.engine().Bid(bob, id, 500, 500), house.ErrAuctionNotActive)
	h.conserved()
}

func TestCancelByAsset(t *testing.T) {
	h := newHarness(t)
	id := h.create()

	require.NoError(t, h.engine().CancelAuctionByAsset(operator, assetX))
	assert.Equal(t, house.StatusCancelled, h.auction(id).Status)

	require.ErrorIs(t, h.engine().CancelAuctionByAsset(operator, assetX), house.ErrAuctionNotFound)
}

func TestCancelAfterEndIsRejected(t *testing.T) {
	h := newHarness(t)
	id := h.create()
	h.height = 100
	require.ErrorIs(t, h.engine().CancelAuction(operator, id), house.ErrAuctionNotActive)
}

func TestCreateAuctionValidation(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine().CreateAuction(seller, assetX, 10, 59)
	require.ErrorIs(t, err, house.ErrDurationTooShort)

	_, err = h.engine().CreateAuction(seller, assetX, 0, 600)
	require.ErrorIs(t, err, house.ErrInvalidIncrement)

	_, err = h.engine().CreateAuction(alice, assetX, 10, 600)
	require.ErrorIs(t, err, house.ErrNotOwner)

	_, err = h.engine().CreateAuction(seller, core.AssetRef{Collection: "swords", AssetID: "missing"}, 10, 600)
	require.ErrorIs(t, err, house.ErrNotOwner)

	n, err := h.engine().AuctionsCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), n)
	assert.Equal(t, seller, h.custody.owners[assetX])
}

func TestDurationFloorHoldsBelowConfiguredMinimum(t *testing.T) {
	h := newHarness(t)
	params, err := h.engine().Params()
	require.NoError(t, err)
	params.MinDurationSeconds = 0
	require.NoError(t, h.store.SetHouseParams(params))

	_, err = h.engine().CreateAuction(seller, assetX, 10, 5)
	require.ErrorIs(t, err, house.ErrDurationTooShort)
	_, err = h.engine().CreateAuction(seller, assetX, 10, house.MinAuctionSeconds-1)
	require.ErrorIs(t, err, house.ErrDurationTooShort)

	params.MinDurationSeconds = 300
	require.NoError(t, h.store.SetHouseParams(params))
	_, err = h.engine().CreateAuction(seller, assetX, 10, 120)
	require.ErrorIs(t, err, house.ErrDurationTooShort)

	id, err := h.engine().CreateAuction(seller, assetX, 10, 300)
	require.NoError(t, err)
	assert.Equal(t, int64(21), h.auction(id).DurationBlocks)
}

func TestCreateAuctionRequiresAssetRef(t *testing.T) {
	h := newHarness(t)

	for _, ref := range []core.AssetRef{{}, {Collection: "swords"}, {AssetID: "x"}} {
		_, err := h.engine().CreateAuction(seller, ref, 10, 600)
		require.ErrorIs(t, err, house.ErrInvalidAsset)
		assert.Equal(t, house.KindValidation, house.KindOf(err))
	}
}

func TestLastBlockStillAcceptsBids(t *testing.T) {
	h := newHarness(t)
	id := h.create()
	end := h.auction(id).EndBlock

	h.height = end
	assert.Equal(t, house.StatusActive, h.auction(id).Status)
	require.NoError(t, h.engine().Bid(alice, id, 100, 100))
	require.ErrorIs(t, h.engine().CompleteAuction(id), house.ErrAuctionNotComplete)

	h.height = end + 1
	assert.Equal(t, house.StatusCompleted, h.auction(id).Status)
	require.ErrorIs(t, h.engine().Bid(bob, id, 200, 200), house.ErrAuctionNotActive)
	require.NoError(t, h.engine().CompleteAuction(id))
	h.conserved()
}

func TestCreateAuctionCustodyFailure(t *testing.T) {
	h := newHarness(t)
	h.custody.fail = errors.New("asset is soulbound")

	_, err := h.engine().CreateAuction(seller, assetX, 10, 600)
	require.ErrorIs(t, err, house.ErrCustodyTransferFailed)
	assert.Equal(t, house.KindExternalCall, house.KindOf(err))
}

func TestRelistAfterCompletion(t *testing.T) {
	h := newHarness(t)
	first := h.create()
	require.NoError(t, h.engine().Bid(alice, first, 100, 100))
	h.height = 100
	require.NoError(t, h.engine().ClaimAsset(alice, first))

	second, err := h.engine().CreateAuction(alice, assetX, 5, 120)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), second)

	v, err := h.engine().AuctionByAsset(assetX)
	require.NoError(t, err)
	assert.Equal(t, second, v.ID)
	assert.Equal(t, house.StatusActive, v.Status)
}

func TestPauseGate(t *testing.T) {
	h := newHarness(t)
	id := h.create()

	require.ErrorIs(t, h.engine().SetPaused(alice, true), house.ErrNotAuthorized)
	require.NoError(t, h.engine().SetPaused(operator, true))

	require.ErrorIs(t, h.engine().Bid(alice, id, 100, 100), house.ErrPaused)
	h.custody.owners[core.AssetRef{Collection: "swords", AssetID: "y"}] = seller
	_, err := h.engine().CreateAuction(seller, core.AssetRef{Collection: "swords", AssetID: "y"}, 10, 600)
	require.ErrorIs(t, err, house.ErrPaused)

	// Settlement paths stay open while paused.
	require.NoError(t, h.engine().CancelAuction(operator, id))

	require.NoError(t, h.engine().SetPaused(operator, false))
	h.custody.owners[assetX] = seller
	_, err = h.engine().CreateAuction(seller, assetX, 10, 600)
	require.NoError(t, err)
}

func TestWithdraw(t *testing.T) {
	h := newHarness(t)

	_, err := h.engine().Withdraw(alice)
	require.ErrorIs(t, err, house.ErrNothingToWithdraw)

	id := h.create()
	require.NoError(t, h.engine().Bid(alice, id, 100, 100))
	require.NoError(t, h.engine().Bid(bob, id, 200, 200))

	h.bank.failPay = errors.New("recipient rejected value")
	_, err = h.engine().Withdraw(alice)
	require.ErrorIs(t, err, house.ErrValueTransferFailed)
}

func TestWithdrawReentrancySeesZeroBalance(t *testing.T) {
	h := newHarness(t)
	id := h.create()
	require.NoError(t, h.engine().Bid(alice, id, 100, 100))
	require.NoError(t, h.engine().Bid(bob, id, 200, 200))

	var reentered error
	h.bank.hook = func(to string, _ uint64) {
		if to == alice && reentered == nil {
			_, reentered = h.engine().Withdraw(alice)
		}
	}
	paid, err := h.engine().Withdraw(alice)
	require.NoError(t, err)
	assert.Equal(t, uint64(100), paid)
	require.ErrorIs(t, reentered, house.ErrNothingToWithdraw)
	assert.Equal(t, uint64(1000), h.bank.wallets[alice])
	h.conserved()
}

func TestClaimReentrancySeesClaimedFlag(t *testing.T) {
	h := newHarness(t)
	id := h.create()
	require.NoError(t, h.engine().Bid(alice, id, 100, 100))
	h.height = 100

	var reentered error
	h.custody.hook = func(_, to string, _ core.AssetRef) {
		if to == alice && reentered == nil {
			reentered = h.engine().ClaimAsset(alice, id)
		}
	}
	require.NoError(t, h.engine().ClaimAsset(alice, id))
	require.ErrorIs(t, reentered, house.ErrAlreadyClaimed)
}

func TestCancelReentrancySeesCancelledStatus(t *testing.T) {
	h := newHarness(t)
	id := h.create()
	require.NoError(t, h.engine().Bid(alice, id, 100, 100))

	var reentered error
	h.custody.hook = func(_, to string, _ core.AssetRef) {
		if to == seller && reentered == nil {
			reentered = h.engine().CancelAuction(operator, id)
		}
	}
	require.NoError(t, h.engine().CancelAuction(operator, id))
	require.ErrorIs(t, reentered, house.ErrAuctionNotActive)
	assert.Equal(t, uint64(100), h.balance(alice))
	h.conserved()
}

func TestUnknownAuction(t *testing.T) {
	h := newHarness(t)
	_, err := h.engine().Auction(7)
	require.ErrorIs(t, err, house.ErrAuctionNotFound)
	require.ErrorIs(t, h.engine().Bid(alice, 7, 10, 10), house.ErrAuctionNotFound)
	require.ErrorIs(t, h.engine().CompleteAuction(7), house.ErrAuctionNotFound)
}
