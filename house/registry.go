package house

import (
	"errors"
	"fmt"

	"github.com/tolelom/tolauction/core"
)

// Registry is the append-only auction arena plus the asset → auction index.
// The index is written at creation and cleared at cancellation only.
type Registry struct {
	store Store
}

// NewRegistry returns a Registry over store.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// Count returns the number of auctions ever created.
func (r *Registry) Count() (uint64, error) {
	n, err := r.store.AuctionCount()
	if err != nil {
		return 0, fmt.Errorf("auction count: %w", err)
	}
	return n, nil
}

// Get returns auction id.
func (r *Registry) Get(id uint64) (*core.Auction, error) {
	a, err := r.store.GetAuction(id)
	if errors.Is(err, core.ErrNotFound) {
		return nil, ErrAuctionNotFound.withf("auction %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("load auction %d: %w", id, err)
	}
	return a, nil
}

// Lookup resolves the auction indexed for ref.
func (r *Registry) Lookup(ref core.AssetRef) (*core.Auction, error) {
	id, err := r.store.GetAuctionIndex(ref)
	if errors.Is(err, core.ErrNotFound) {
		return nil, ErrAuctionNotFound.withf("no auction indexed for asset %s", ref)
	}
	if err != nil {
		return nil, fmt.Errorf("auction index %s: %w", ref, err)
	}
	return r.Get(id)
}

// Append assigns the next sequential id to a, stores it and indexes its asset.
func (r *Registry) Append(a *core.Auction) (uint64, error) {
	n, err := r.Count()
	if err != nil {
		return 0, err
	}
	a.ID = n
	if err := r.store.SetAuction(a); err != nil {
		return 0, fmt.Errorf("store auction %d: %w", n, err)
	}
	if err := r.store.SetAuctionCount(n + 1); err != nil {
		return 0, err
	}
	if err := r.store.SetAuctionIndex(a.Asset, a.ID); err != nil {
		return 0, fmt.Errorf("index auction %d: %w", n, err)
	}
	return n, nil
}

// Save persists the mutable fields of an existing auction.
func (r *Registry) Save(a *core.Auction) error {
	if err := r.store.SetAuction(a); err != nil {
		return fmt.Errorf("store auction %d: %w", a.ID, err)
	}
	return nil
}

// Unindex removes the asset index entry of a.
func (r *Registry) Unindex(a *core.Auction) error {
	return r.store.DeleteAuctionIndex(a.Asset)
}
