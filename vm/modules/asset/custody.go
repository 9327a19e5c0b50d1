package asset

import (
	"fmt"

	"github.com/tolelom/tolauction/core"
	"github.com/tolelom/tolauction/vm"
)

// Custodian exposes the asset registry of the executing transaction to the
// auction engine. It satisfies house.Custodian.
type Custodian struct {
	ctx *vm.Context
}

// NewCustodian returns a Custodian bound to ctx.
func NewCustodian(ctx *vm.Context) *Custodian {
	return &Custodian{ctx: ctx}
}

func (c *Custodian) load(ref core.AssetRef) (*core.Asset, error) {
	a, err := c.ctx.State.GetAsset(ref.AssetID)
	if err != nil {
		return nil, fmt.Errorf("asset %s: %w", ref, err)
	}
	if a.TemplateID != ref.Collection {
		return nil, fmt.Errorf("asset %s: collection is %q: %w", ref, a.TemplateID, core.ErrNotFound)
	}
	return a, nil
}

// OwnerOf returns the owner of ref.
func (c *Custodian) OwnerOf(ref core.AssetRef) (string, error) {
	a, err := c.load(ref)
	if err != nil {
		return "", err
	}
	return a.Owner, nil
}

// Transfer moves ref from from to to under the same rules as transfer_asset.
func (c *Custodian) Transfer(from, to string, ref core.AssetRef) error {
	a, err := c.load(ref)
	if err != nil {
		return err
	}
	return move(c.ctx, a, from, to)
}
