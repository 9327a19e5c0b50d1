package house

import "github.com/tolelom/tolauction/core"

// Status is the derived lifecycle state of an auction.
type Status string

const (
	StatusActive    Status = "active"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// StatusAt derives the status of a at the given block height. Time alone is
// enough to observe Completed; the Completed flag only records that the
// settlement funds have moved.
func StatusAt(a *core.Auction, height int64) Status {
	switch {
	case a.Cancelled:
		return StatusCancelled
	case a.Completed || height > a.EndBlock():
		return StatusCompleted
	default:
		return StatusActive
	}
}

// DurationBlocks converts a duration in seconds to a block count, never
// less than one block.
func DurationBlocks(seconds, blockTime uint64) int64 {
	if blockTime == 0 {
		blockTime = 1
	}
	n := seconds / blockTime
	if n == 0 {
		n = 1
	}
	if n > uint64(maxDurationBlocks) {
		n = uint64(maxDurationBlocks)
	}
	return int64(n)
}

// MinAuctionSeconds is the shortest auction the house accepts. A configured
// minimum can raise it but never lower it.
const MinAuctionSeconds uint64 = 60

// maxDurationBlocks keeps StartBlock + DurationBlocks far away from int64 overflow.
const maxDurationBlocks = int64(1) << 40

// View is the query-side projection of an auction with its status computed.
type View struct {
	ID             uint64        `json:"id"`
	Asset          core.AssetRef `json:"asset"`
	Seller         string        `json:"seller"`
	BidIncrement   uint64        `json:"bid_increment"`
	DurationBlocks int64         `json:"duration_blocks"`
	StartBlock     int64         `json:"start_block"`
	EndBlock       int64         `json:"end_block"`
	StartTime      int64         `json:"start_time"`
	Status         Status        `json:"status"`
	HighestBid     uint64        `json:"highest_bid"`
	HighestBidder  string        `json:"highest_bidder,omitempty"`
	Settled        bool          `json:"settled"`
	Claimed        bool          `json:"claimed"`
}

// NewView projects a at height.
func NewView(a *core.Auction, height int64) View {
	return View{
		ID:             a.ID,
		Asset:          a.Asset,
		Seller:         a.Seller,
		BidIncrement:   a.BidIncrement,
		DurationBlocks: a.DurationBlocks,
		StartBlock:     a.StartBlock,
		EndBlock:       a.EndBlock(),
		StartTime:      a.StartTime,
		Status:         StatusAt(a, height),
		HighestBid:     a.HighestBid,
		HighestBidder:  a.HighestBidder,
		Settled:        a.Completed,
		Claimed:        a.Claimed,
	}
}
