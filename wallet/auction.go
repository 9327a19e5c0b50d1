package wallet

import "github.com/tolelom/tolauction/core"

// CreateAuction signs a create_auction transaction for an asset the wallet owns.
func (w *Wallet) CreateAuction(chainID string, asset core.AssetRef, increment, durationSeconds, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxCreateAuction, nonce, fee, core.CreateAuctionPayload{
		Asset:           asset,
		BidIncrement:    increment,
		DurationSeconds: durationSeconds,
	})
}

// Bid signs a bid of amount on auction id, moving deposit into the house
// ledger first.
func (w *Wallet) Bid(chainID string, id, amount, deposit, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxBid, nonce, fee, core.BidPayload{
		AuctionID: id,
		Amount:    amount,
		Deposit:   deposit,
	})
}

// CompleteAuction signs a complete_auction transaction.
func (w *Wallet) CompleteAuction(chainID string, id, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxCompleteAuction, nonce, fee, core.AuctionIDPayload{AuctionID: id})
}

// ClaimAsset signs a claim_asset transaction.
func (w *Wallet) ClaimAsset(chainID string, id, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxClaimAsset, nonce, fee, core.AuctionIDPayload{AuctionID: id})
}

// CancelAuction signs a cancel_auction transaction addressed by id.
func (w *Wallet) CancelAuction(chainID string, id, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxCancelAuction, nonce, fee, core.CancelAuctionPayload{AuctionID: id})
}

// CancelAuctionByAsset signs a cancel_auction transaction addressed by asset.
func (w *Wallet) CancelAuctionByAsset(chainID string, asset core.AssetRef, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxCancelAuction, nonce, fee, core.CancelAuctionPayload{Asset: &asset})
}

// Withdraw signs a withdrawal of the wallet's whole ledger balance.
func (w *Wallet) Withdraw(chainID string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxWithdraw, nonce, fee, core.WithdrawPayload{})
}

// SetPaused signs a set_paused transaction. Only the house operator's
// transaction succeeds.
func (w *Wallet) SetPaused(chainID string, paused bool, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxSetPaused, nonce, fee, core.SetPausedPayload{Paused: paused})
}

// RegisterTemplate signs a register_template transaction.
func (w *Wallet) RegisterTemplate(chainID string, tmpl core.RegisterTemplatePayload, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxRegisterTemplate, nonce, fee, tmpl)
}

// MintAsset signs a mint_asset transaction. An empty owner mints to the wallet.
func (w *Wallet) MintAsset(chainID, templateID, owner string, props map[string]any, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxMintAsset, nonce, fee, core.MintAssetPayload{
		TemplateID: templateID,
		Owner:      owner,
		Properties: props,
	})
}

// TransferAsset signs a transfer_asset transaction.
func (w *Wallet) TransferAsset(chainID, assetID, to string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxTransferAsset, nonce, fee, core.TransferAssetPayload{AssetID: assetID, To: to})
}

// BurnAsset signs a burn_asset transaction.
func (w *Wallet) BurnAsset(chainID, assetID string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxBurnAsset, nonce, fee, core.BurnAssetPayload{AssetID: assetID})
}
