package asset

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolauction/core"
	"github.com/tolelom/tolauction/crypto"
	"github.com/tolelom/tolauction/events"
	"github.com/tolelom/tolauction/vm"
)

func init() {
	vm.Register(core.TxMintAsset, handleMintAsset)
	vm.Register(core.TxBurnAsset, handleBurnAsset)
	vm.Register(core.TxTransferAsset, handleTransferAsset)
}

var (
	errNotTradeable = errors.New("asset is not tradeable")
	errNotOwner     = errors.New("sender does not own the asset")
)

func handleMintAsset(ctx *vm.Context, payload json.RawMessage) error {
	var p core.MintAssetPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode mint_asset payload: %w", err)
	}
	if p.TemplateID == "" {
		return errors.New("template_id required")
	}

	tmpl, err := ctx.State.GetTemplate(p.TemplateID)
	if err != nil {
		return fmt.Errorf("template %q not found: %w", p.TemplateID, err)
	}
	if tmpl.Creator != ctx.Tx.From {
		return errors.New("only the template creator can mint")
	}

	owner := p.Owner
	if owner == "" {
		owner = ctx.Tx.From
	} else if !crypto.IsPubKeyHex(owner) {
		return fmt.Errorf("owner %q is not an account address", owner)
	}

	// Deterministic asset ID: hash of tx ID + template
	assetID := crypto.Hash([]byte(ctx.Tx.ID + ":asset:" + p.TemplateID))

	asset := &core.Asset{
		ID:         assetID,
		TemplateID: p.TemplateID,
		Owner:      owner,
		Properties: p.Properties,
		Tradeable:  tmpl.Tradeable,
		MintedAt:   ctx.Block.Header.Timestamp,
	}
	if err := ctx.State.SetAsset(asset); err != nil {
		return err
	}

	ctx.Emit(events.EventAssetMinted, map[string]any{
		"asset_id":    assetID,
		"template_id": p.TemplateID,
		"owner":       owner,
	})
	return nil
}

func handleBurnAsset(ctx *vm.Context, payload json.RawMessage) error {
	var p core.BurnAssetPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode burn_asset payload: %w", err)
	}

	asset, err := ctx.State.GetAsset(p.AssetID)
	if err != nil {
		return fmt.Errorf("asset %q not found: %w", p.AssetID, err)
	}
	// Assets in auction custody are owned by the house and cannot be burned.
	if asset.Owner != ctx.Tx.From {
		return errNotOwner
	}

	if err := ctx.State.DeleteAsset(p.AssetID); err != nil {
		return err
	}

	ctx.Emit(events.EventAssetBurned, map[string]any{
		"asset_id": p.AssetID,
		"owner":    asset.Owner,
	})
	return nil
}

func handleTransferAsset(ctx *vm.Context, payload json.RawMessage) error {
	var p core.TransferAssetPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode transfer_asset payload: %w", err)
	}
	if p.To == "" {
		return errors.New("to address required")
	}

	asset, err := ctx.State.GetAsset(p.AssetID)
	if err != nil {
		return fmt.Errorf("asset %q not found: %w", p.AssetID, err)
	}
	return move(ctx, asset, ctx.Tx.From, p.To)
}

// move transfers asset from from to to. The recipient must be an ed25519
// public key or an address with a registered receiver; the receiver is
// notified after ownership has changed.
func move(ctx *vm.Context, asset *core.Asset, from, to string) error {
	if asset.Owner != from {
		return errNotOwner
	}
	if !asset.Tradeable {
		return errNotTradeable
	}
	receiver, isModule := vm.LookupReceiver(to)
	if !isModule && !crypto.IsPubKeyHex(to) {
		return fmt.Errorf("recipient %q is not an account address", to)
	}

	asset.Owner = to
	if err := ctx.State.SetAsset(asset); err != nil {
		return err
	}
	ctx.Emit(events.EventAssetTransfer, map[string]any{
		"asset_id":    asset.ID,
		"template_id": asset.TemplateID,
		"from":        from,
		"to":          to,
	})

	if isModule {
		if err := receiver(ctx, from, asset); err != nil {
			return fmt.Errorf("receiver %s rejected asset %s: %w", to, asset.ID, err)
		}
	}
	return nil
}
