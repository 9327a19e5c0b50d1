package rpc

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/tolelom/tolauction/config"
	"github.com/tolelom/tolauction/core"
	"github.com/tolelom/tolauction/events"
	"github.com/tolelom/tolauction/house"
	"github.com/tolelom/tolauction/indexer"
	"github.com/tolelom/tolauction/storage"
	"github.com/tolelom/tolauction/vm"
)

// Handler holds all dependencies needed to serve RPC methods. Every request
// reads committed state through its own StateDB, so it never observes the
// write buffer of the block being produced.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	db      storage.DB
	indexer *indexer.Indexer
	chainID string // expected chain_id; used to reject cross-chain replay transactions
	log     *zap.Logger
	methods map[string]func(Request) Response

	onAccepted func(*core.Transaction)
}

// NewHandler creates an RPC Handler.
func NewHandler(bc *core.Blockchain, mempool *core.Mempool, db storage.DB, idx *indexer.Indexer, chainID string, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{bc: bc, mempool: mempool, db: db, indexer: idx, chainID: chainID, log: log.Named("rpc")}
	h.methods = map[string]func(Request) Response{
		"getBlockHeight":      func(req Request) Response { return okResponse(req.ID, h.bc.Height()) },
		"getMempoolSize":      func(req Request) Response { return okResponse(req.ID, h.mempool.Size()) },
		"getBlock":            h.getBlock,
		"getBalance":          h.getBalance,
		"getAsset":            h.getAsset,
		"getAssetsByOwner":    h.getAssetsByOwner,
		"sendTx":              h.sendTx,
		"simulateTx":          h.simulateTx,
		"getAuction":          h.getAuction,
		"getAuctionsCount":    h.getAuctionsCount,
		"getAuctionByAsset":   h.getAuctionByAsset,
		"getAuctionsBySeller": h.getAuctionsBySeller,
		"getAuctionsByBidder": h.getAuctionsByBidder,
		"getHouseBalance":     h.getHouseBalance,
		"getHouseParams":      h.getHouseParams,
		"getHouseTotals":      h.getHouseTotals,
		"getReceipt":          h.getReceipt,
		"getEvents":           h.getEvents,
	}
	return h
}

// OnTxAccepted registers fn to be called with every transaction sendTx adds
// to the mempool. Set it before serving requests.
func (h *Handler) OnTxAccepted(fn func(*core.Transaction)) {
	h.onAccepted = fn
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	m, ok := h.methods[req.Method]
	if !ok {
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
	return m(req)
}

// view opens a read-only view of committed state.
func (h *Handler) view() *storage.StateDB {
	return storage.NewStateDB(h.db)
}

// engine returns a query-only engine at the committed height.
func (h *Handler) engine() *house.Engine {
	return house.New(house.Config{Store: h.view(), Height: h.bc.Height()})
}

func decodeParams(req Request, v any) *Response {
	if err := json.Unmarshal(req.Params, v); err != nil {
		resp := errResponse(req.ID, CodeInvalidParams, err.Error())
		return &resp
	}
	return nil
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Height *int64 `json:"height"`
		Hash   string `json:"hash"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	var (
		block *core.Block
		err   error
	)
	switch {
	case params.Hash != "":
		block, err = h.bc.GetBlock(params.Hash)
	case params.Height != nil:
		block, err = h.bc.GetBlockByHeight(*params.Height)
	default:
		return errResponse(req.ID, CodeInvalidParams, "height or hash is required")
	}
	if err != nil {
		return classifiedResponse(req.ID, err)
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getBalance(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	acc, err := h.view().GetAccount(params.Address)
	if err != nil {
		return classifiedResponse(req.ID, err)
	}
	return okResponse(req.ID, acc)
}

func (h *Handler) getAsset(req Request) Response {
	var params struct {
		ID string `json:"id"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if params.ID == "" {
		return errResponse(req.ID, CodeInvalidParams, "id is required")
	}
	asset, err := h.view().GetAsset(params.ID)
	if err != nil {
		return classifiedResponse(req.ID, fmt.Errorf("asset %q: %w", params.ID, err))
	}
	return okResponse(req.ID, asset)
}

func (h *Handler) getAssetsByOwner(req Request) Response {
	var params struct {
		Owner string `json:"owner"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if params.Owner == "" {
		return errResponse(req.ID, CodeInvalidParams, "owner is required")
	}
	ids, err := h.indexer.GetAssetsByOwner(params.Owner)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, ids)
}

// decodeTx parses a signed transaction and checks it targets this chain.
func (h *Handler) decodeTx(req Request) (*core.Transaction, *Response) {
	var tx core.Transaction
	if resp := decodeParams(req, &tx); resp != nil {
		return nil, resp
	}
	// Reject transactions destined for a different network to prevent
	// cross-chain replay attacks.
	if tx.ChainID != h.chainID {
		resp := errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
		return nil, &resp
	}
	if !vm.Registered(tx.Type) {
		resp := errResponse(req.ID, CodeInvalidParams, fmt.Sprintf("unknown tx type %q", tx.Type))
		return nil, &resp
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	return &tx, nil
}

func (h *Handler) sendTx(req Request) Response {
	tx, resp := h.decodeTx(req)
	if resp != nil {
		return *resp
	}
	if err := h.mempool.Add(tx); err != nil {
		return errResponse(req.ID, CodeInvalidRequest, err.Error())
	}
	h.log.Debug("tx accepted", zap.String("tx", tx.ID), zap.String("type", string(tx.Type)))
	if h.onAccepted != nil {
		h.onAccepted(tx)
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}

// simulateTx executes a signed transaction against committed state and
// reports the outcome without keeping any of its effects.
func (h *Handler) simulateTx(req Request) Response {
	tx, resp := h.decodeTx(req)
	if resp != nil {
		return *resp
	}
	rc := vm.Simulate(h.view(), h.bc.Tip(), tx, h.log)
	if rc.Status == core.ReceiptFailed {
		out := errResponse(req.ID, codeForKind(rc.ErrorKind), rc.Error)
		out.Error.Data = &ErrorData{Kind: rc.ErrorKind, Code: rc.ErrorCode}
		return out
	}
	return okResponse(req.ID, rc)
}

type auctionIDParams struct {
	ID uint64 `json:"id"`
}

func (h *Handler) getAuction(req Request) Response {
	var params auctionIDParams
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	v, err := h.engine().Auction(params.ID)
	if err != nil {
		return classifiedResponse(req.ID, err)
	}
	return okResponse(req.ID, v)
}

func (h *Handler) getAuctionsCount(req Request) Response {
	n, err := h.engine().AuctionsCount()
	if err != nil {
		return classifiedResponse(req.ID, err)
	}
	return okResponse(req.ID, n)
}

func (h *Handler) getAuctionByAsset(req Request) Response {
	var ref core.AssetRef
	if resp := decodeParams(req, &ref); resp != nil {
		return *resp
	}
	if ref.Collection == "" || ref.AssetID == "" {
		return errResponse(req.ID, CodeInvalidParams, "collection and asset_id are required")
	}
	v, err := h.engine().AuctionByAsset(ref)
	if err != nil {
		return classifiedResponse(req.ID, err)
	}
	return okResponse(req.ID, v)
}

func (h *Handler) getAuctionsBySeller(req Request) Response {
	var params struct {
		Seller string `json:"seller"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if params.Seller == "" {
		return errResponse(req.ID, CodeInvalidParams, "seller is required")
	}
	ids, err := h.indexer.GetAuctionsBySeller(params.Seller)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) getAuctionsByBidder(req Request) Response {
	var params struct {
		Bidder string `json:"bidder"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if params.Bidder == "" {
		return errResponse(req.ID, CodeInvalidParams, "bidder is required")
	}
	ids, err := h.indexer.GetAuctionsByBidder(params.Bidder)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) getHouseBalance(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	bal, err := h.engine().Balance(params.Address)
	if err != nil {
		return classifiedResponse(req.ID, err)
	}
	return okResponse(req.ID, map[string]any{"address": params.Address, "balance": bal})
}

// HouseParamsResult is the getHouseParams result.
type HouseParamsResult struct {
	Operator           string `json:"operator"`
	FeeAccount         string `json:"fee_account"`
	CommissionBps      uint32 `json:"commission_bps"`
	CommissionPercent  string `json:"commission_percent"`
	BlockTimeSeconds   uint64 `json:"block_time_seconds"`
	MinDurationSeconds uint64 `json:"min_duration_seconds"`
	Paused             bool   `json:"paused"`
}

func (h *Handler) getHouseParams(req Request) Response {
	p, err := h.engine().Params()
	if err != nil {
		return classifiedResponse(req.ID, err)
	}
	return okResponse(req.ID, HouseParamsResult{
		Operator:           p.Operator,
		FeeAccount:         p.FeeAccount,
		CommissionBps:      p.CommissionBps,
		CommissionPercent:  config.FormatPercent(p.CommissionBps),
		BlockTimeSeconds:   p.BlockTimeSeconds,
		MinDurationSeconds: p.MinDurationSeconds,
		Paused:             p.Paused,
	})
}

func (h *Handler) getHouseTotals(req Request) Response {
	t, err := h.engine().Totals()
	if err != nil {
		return classifiedResponse(req.ID, err)
	}
	return okResponse(req.ID, t)
}

func (h *Handler) getReceipt(req Request) Response {
	var params struct {
		TxID string `json:"tx_id"`
	}
	if resp := decodeParams(req, &params); resp != nil {
		return *resp
	}
	if params.TxID == "" {
		return errResponse(req.ID, CodeInvalidParams, "tx_id is required")
	}
	rc, err := h.indexer.GetReceipt(params.TxID)
	if err != nil {
		return classifiedResponse(req.ID, fmt.Errorf("receipt %s: %w", params.TxID, err))
	}
	return okResponse(req.ID, rc)
}

const maxEventsPage = 1000

func (h *Handler) getEvents(req Request) Response {
	var params struct {
		From  uint64           `json:"from"`
		Limit int              `json:"limit"`
		Type  events.EventType `json:"type"`
	}
	if len(req.Params) > 0 {
		if resp := decodeParams(req, &params); resp != nil {
			return *resp
		}
	}
	if params.Limit <= 0 || params.Limit > maxEventsPage {
		params.Limit = maxEventsPage
	}
	evs, err := h.indexer.GetEvents(params.From, params.Limit, params.Type)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, evs)
}
