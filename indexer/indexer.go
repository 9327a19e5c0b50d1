// Package indexer maintains secondary indexes over committed blocks so
// clients can query assets by owner, auctions by seller or bidder, receipts,
// and the event log without scanning full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/tolelom/tolauction/core"
	"github.com/tolelom/tolauction/events"
	"github.com/tolelom/tolauction/storage"
)

const (
	prefixOwnerAssets    = "idx:owner:asset:"
	prefixSellerAuctions = "idx:seller:auction:"
	prefixBidderAuctions = "idx:bidder:auction:"
	prefixReceipt        = "idx:receipt:"
	prefixEventLog       = "idx:events:"
	keyEventSeq          = "idx:meta:event_seq"
)

// Indexer subscribes to chain events and updates secondary lookup tables.
// It only ever sees events of committed blocks.
type Indexer struct {
	db      storage.DB
	emitter *events.Emitter
	log     *zap.Logger

	mu  sync.Mutex // serialises read-modify-write of lists and the event sequence
	seq uint64
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter, log *zap.Logger) (*Indexer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	idx := &Indexer{db: db, emitter: emitter, log: log.Named("indexer")}
	seq, err := idx.loadSeq()
	if err != nil {
		return nil, err
	}
	idx.seq = seq

	emitter.SubscribeAll(idx.onAnyEvent)
	emitter.Subscribe(events.EventAssetMinted, idx.onAssetMinted)
	emitter.Subscribe(events.EventAssetTransfer, idx.onAssetTransferred)
	emitter.Subscribe(events.EventAssetBurned, idx.onAssetBurned)
	emitter.Subscribe(events.EventAuctionCreated, idx.onAuctionCreated)
	emitter.Subscribe(events.EventBidCreated, idx.onBidCreated)
	emitter.Subscribe(events.EventTxExecuted, idx.onReceipt)
	emitter.Subscribe(events.EventTxFailed, idx.onReceipt)
	return idx, nil
}

// GetAssetsByOwner returns all asset IDs owned by the given pubkey.
func (idx *Indexer) GetAssetsByOwner(owner string) ([]string, error) {
	return idx.getList(prefixOwnerAssets + owner)
}

// GetAuctionsBySeller returns the ids of auctions created by seller.
func (idx *Indexer) GetAuctionsBySeller(seller string) ([]uint64, error) {
	return idx.getIDList(prefixSellerAuctions + seller)
}

// GetAuctionsByBidder returns the ids of auctions bidder has bid on.
func (idx *Indexer) GetAuctionsByBidder(bidder string) ([]uint64, error) {
	return idx.getIDList(prefixBidderAuctions + bidder)
}

// GetReceipt returns the receipt of a transaction included in, or rejected
// from, a committed block.
func (idx *Indexer) GetReceipt(txID string) (*core.Receipt, error) {
	data, err := idx.db.Get([]byte(prefixReceipt + txID))
	if err != nil {
		return nil, err
	}
	var rc core.Receipt
	if err := json.Unmarshal(data, &rc); err != nil {
		return nil, fmt.Errorf("indexer unmarshal receipt: %w", err)
	}
	return &rc, nil
}

// LoggedEvent is an event with its position in the log.
type LoggedEvent struct {
	Seq uint64 `json:"seq"`
	events.Event
}

// GetEvents returns up to limit logged events with seq >= from, optionally
// restricted to one type.
func (idx *Indexer) GetEvents(from uint64, limit int, typ events.EventType) ([]LoggedEvent, error) {
	it := idx.db.NewIteratorFrom([]byte(prefixEventLog), eventKey(from))
	defer it.Release()

	var out []LoggedEvent
	for it.Next() {
		if limit > 0 && len(out) >= limit {
			break
		}
		var le LoggedEvent
		if err := json.Unmarshal(it.Value(), &le); err != nil {
			return nil, fmt.Errorf("indexer unmarshal event: %w", err)
		}
		if typ != "" && le.Type != typ {
			continue
		}
		out = append(out, le)
	}
	return out, it.Error()
}

// ---- event handlers ----

func (idx *Indexer) onAnyEvent(ev events.Event) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	data, err := json.Marshal(LoggedEvent{Seq: idx.seq, Event: ev})
	if err != nil {
		idx.fail("encode event", err)
		return
	}
	batch := idx.db.NewBatch()
	batch.Set(eventKey(idx.seq), data)
	batch.Set([]byte(keyEventSeq), []byte(strconv.FormatUint(idx.seq+1, 10)))
	if err := batch.Write(); err != nil {
		idx.fail("append event", err)
		return
	}
	idx.seq++
}

func (idx *Indexer) onAssetMinted(ev events.Event) {
	owner, _ := ev.Data["owner"].(string)
	assetID, _ := ev.Data["asset_id"].(string)
	if owner == "" || assetID == "" {
		return
	}
	idx.addToList(prefixOwnerAssets+owner, assetID)
}

func (idx *Indexer) onAssetTransferred(ev events.Event) {
	from, _ := ev.Data["from"].(string)
	to, _ := ev.Data["to"].(string)
	assetID, _ := ev.Data["asset_id"].(string)
	if assetID == "" || from == "" || to == "" {
		return
	}
	idx.removeFromList(prefixOwnerAssets+from, assetID)
	idx.addToList(prefixOwnerAssets+to, assetID)
}

func (idx *Indexer) onAssetBurned(ev events.Event) {
	owner, _ := ev.Data["owner"].(string)
	assetID, _ := ev.Data["asset_id"].(string)
	if owner == "" || assetID == "" {
		return
	}
	idx.removeFromList(prefixOwnerAssets+owner, assetID)
}

func (idx *Indexer) onAuctionCreated(ev events.Event) {
	seller, _ := ev.Data["seller"].(string)
	id, ok := ev.Data["auction_id"].(uint64)
	if seller == "" || !ok {
		return
	}
	idx.addToList(prefixSellerAuctions+seller, strconv.FormatUint(id, 10))
}

func (idx *Indexer) onBidCreated(ev events.Event) {
	bidder, _ := ev.Data["bidder"].(string)
	id, ok := ev.Data["auction_id"].(uint64)
	if bidder == "" || !ok {
		return
	}
	idx.addToList(prefixBidderAuctions+bidder, strconv.FormatUint(id, 10))
}

func (idx *Indexer) onReceipt(ev events.Event) {
	str := func(k string) string { s, _ := ev.Data[k].(string); return s }
	rc := core.Receipt{
		TxID:        ev.TxID,
		Type:        core.TxType(str("type")),
		From:        str("from"),
		BlockHeight: ev.BlockHeight,
		Status:      core.ReceiptStatus(str("status")),
		ErrorKind:   str("error_kind"),
		ErrorCode:   str("error_code"),
		Error:       str("error"),
	}
	data, err := json.Marshal(rc)
	if err != nil {
		idx.fail("encode receipt", err)
		return
	}
	if err := idx.db.Set([]byte(prefixReceipt+ev.TxID), data); err != nil {
		idx.fail("store receipt", err)
	}
}

// ---- list helpers ----

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEventLog, seq))
}

func (idx *Indexer) loadSeq() (uint64, error) {
	data, err := idx.db.Get([]byte(keyEventSeq))
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(data), 10, 64)
}

func (idx *Indexer) fail(op string, err error) {
	idx.log.Error("index write failed", zap.String("op", op), zap.Error(err))
}

func (idx *Indexer) getList(key string) ([]string, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Indexer) getIDList(key string) ([]uint64, error) {
	raw, err := idx.getList(key)
	if err != nil {
		return nil, err
	}
	ids := make([]uint64, 0, len(raw))
	for _, s := range raw {
		id, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("indexer id %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// addToList appends value to the list at key unless it is already present.
func (idx *Indexer) addToList(key, value string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	ids, err := idx.getList(key)
	if err != nil {
		idx.fail("read "+key, err)
		return
	}
	for _, id := range ids {
		if id == value {
			return
		}
	}
	idx.putList(key, append(ids, value))
}

func (idx *Indexer) removeFromList(key, value string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	ids, err := idx.getList(key)
	if err != nil {
		idx.fail("read "+key, err)
		return
	}
	filtered := ids[:0]
	for _, id := range ids {
		if id != value {
			filtered = append(filtered, id)
		}
	}
	idx.putList(key, filtered)
}

func (idx *Indexer) putList(key string, ids []string) {
	data, err := json.Marshal(ids)
	if err != nil {
		idx.fail("encode "+key, err)
		return
	}
	if err := idx.db.Set([]byte(key), data); err != nil {
		idx.fail("write "+key, err)
	}
}
