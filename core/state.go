package core

// HouseAddress is the escrow account that holds assets while they are
// auctioned. It is not an ed25519 key, so nobody can sign for it; only the
// auction engine moves assets out of it.
const HouseAddress = "house:escrow"

// Account holds a participant's native token balance and replay-protection nonce.
// Address is the hex-encoded ed25519 public key.
type Account struct {
	Address string `json:"address"` // pubkey hex
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// Asset is a non-fungible item. Its collection is the template it was minted from.
type Asset struct {
	ID         string         `json:"id"`
	TemplateID string         `json:"template_id"`
	Owner      string         `json:"owner"` // pubkey hex, or HouseAddress while in custody
	Properties map[string]any `json:"properties"`
	Tradeable  bool           `json:"tradeable"`
	MintedAt   int64          `json:"minted_at"`
}

// Ref returns the auction-facing reference of the asset.
func (a *Asset) Ref() AssetRef {
	return AssetRef{Collection: a.TemplateID, AssetID: a.ID}
}

// AssetTemplate defines the schema and rules for a collection of assets.
type AssetTemplate struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Schema    map[string]any `json:"schema"` // property key → type hint
	Tradeable bool           `json:"tradeable"`
	Creator   string         `json:"creator"` // pubkey hex of registrant
}

// AssetRef identifies an asset by (collection, id).
type AssetRef struct {
	Collection string `json:"collection"`
	AssetID    string `json:"asset_id"`
}

// Key is the flat form used for index keys.
func (r AssetRef) Key() string {
	return r.Collection + "/" + r.AssetID
}

func (r AssetRef) String() string { return r.Key() }

// Auction is one English auction. Asset, Seller, BidIncrement, DurationBlocks
// and StartBlock never change after creation; the rest is written only by the
// auction engine. Status is not stored: it is derived from Cancelled,
// Completed and the current block height.
type Auction struct {
	ID             uint64   `json:"id"`
	Asset          AssetRef `json:"asset"`
	Seller         string   `json:"seller"`
	BidIncrement   uint64   `json:"bid_increment"`
	DurationBlocks int64    `json:"duration_blocks"`
	StartBlock     int64    `json:"start_block"`
	StartTime      int64    `json:"start_time"`

	HighestBid    uint64 `json:"highest_bid"`
	HighestBidder string `json:"highest_bidder,omitempty"` // empty → no bids yet
	Cancelled     bool   `json:"cancelled"`
	Completed     bool   `json:"completed"` // settlement funds moved
	Claimed       bool   `json:"claimed"`   // asset left custody to the winner
}

// EndBlock is the last height at which the auction still accepts bids.
func (a *Auction) EndBlock() int64 {
	return a.StartBlock + a.DurationBlocks
}

// HouseParams is the house configuration fixed at genesis, plus the pause flag.
type HouseParams struct {
	Operator           string `json:"operator"`    // may cancel auctions and pause
	FeeAccount         string `json:"fee_account"` // ledger identity credited with the house cut
	CommissionBps      uint32 `json:"commission_bps"`
	BlockTimeSeconds   uint64 `json:"block_time_seconds"`
	MinDurationSeconds uint64 `json:"min_duration_seconds"`
	Paused             bool   `json:"paused"`
}

// HouseTotals are running aggregates used to audit fund conservation:
// Ledger + Escrowed must always equal Deposited - Withdrawn.
type HouseTotals struct {
	Deposited uint64 `json:"deposited"`
	Withdrawn uint64 `json:"withdrawn"`
	Ledger    uint64 `json:"ledger"`   // sum of all ledger balances
	Escrowed  uint64 `json:"escrowed"` // sum of highest bids of unsettled auctions
}

// State is the full chain state interface. Implementations must be
// snapshot-able so the executor can roll back failed transactions.
type State interface {
	// Accounts
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// Assets
	GetAsset(id string) (*Asset, error)
	SetAsset(asset *Asset) error
	DeleteAsset(id string) error

	// Templates
	GetTemplate(id string) (*AssetTemplate, error)
	SetTemplate(t *AssetTemplate) error

	// Auctions: an append-only arena addressed by sequential id.
	GetAuction(id uint64) (*Auction, error)
	SetAuction(a *Auction) error
	AuctionCount() (uint64, error)
	SetAuctionCount(n uint64) error

	// Asset → live auction index.
	GetAuctionIndex(ref AssetRef) (uint64, error)
	SetAuctionIndex(ref AssetRef, id uint64) error
	DeleteAuctionIndex(ref AssetRef) error

	// House balance ledger.
	GetLedgerBalance(address string) (uint64, error)
	SetLedgerBalance(address string, amount uint64) error

	// House configuration and audit totals.
	GetHouseParams() (*HouseParams, error)
	SetHouseParams(p *HouseParams) error
	GetHouseTotals() (*HouseTotals, error)
	SetHouseTotals(t *HouseTotals) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	// Always call ComputeRoot() first to obtain the root for the block header.
	Commit() error
	// Discard drops every uncommitted write.
	Discard()
}
