package events

import (
	"sync"

	"go.uber.org/zap"
)

// EventType labels what happened.
type EventType string

const (
	EventBlockCommit   EventType = "block_commit"
	EventTxExecuted    EventType = "tx_executed"
	EventTxFailed      EventType = "tx_failed"
	EventTokenTransfer EventType = "token_transfer"
	EventAssetMinted   EventType = "asset_minted"
	EventAssetBurned   EventType = "asset_burned"
	EventAssetTransfer EventType = "asset_transfer"
	EventTemplateReg   EventType = "template_registered"

	EventAuctionCreated    EventType = "auction_created"
	EventBidCreated        EventType = "bid_created"
	EventAuctionCancelled  EventType = "auction_cancelled"
	EventAuctionSuccessful EventType = "auction_successful"
	EventAssetWithdrawal   EventType = "asset_withdrawal"
	EventFundWithdrawal    EventType = "fund_withdrawal"
	EventHousePaused       EventType = "house_paused"
)

// AllTypes lists every event type, in declaration order.
var AllTypes = []EventType{
	EventBlockCommit, EventTxExecuted, EventTxFailed, EventTokenTransfer,
	EventAssetMinted, EventAssetBurned, EventAssetTransfer, EventTemplateReg,
	EventAuctionCreated, EventBidCreated, EventAuctionCancelled,
	EventAuctionSuccessful, EventAssetWithdrawal, EventFundWithdrawal,
	EventHousePaused,
}

// Event carries a typed payload emitted after a state change.
type Event struct {
	Type        EventType      `json:"type"`
	TxID        string         `json:"tx_id"`
	BlockHeight int64          `json:"block_height"`
	Data        map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Sink accepts events. Both Emitter and Buffer implement it.
type Sink interface {
	Emit(ev Event)
}

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	log      *zap.Logger
}

// NewEmitter creates an Emitter with no subscribers. A nil logger discards
// handler panics silently.
func NewEmitter(log *zap.Logger) *Emitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Emitter{handlers: make(map[EventType][]Handler), log: log.Named("events")}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// SubscribeAll registers h for every known event type.
func (e *Emitter) SubscribeAll(h Handler) {
	for _, typ := range AllTypes {
		e.Subscribe(typ, h)
	}
}

// Emit delivers ev to all subscribers for ev.Type synchronously.
// A panicking handler is logged and skipped.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.log.Error("handler panicked",
						zap.String("type", string(ev.Type)),
						zap.String("tx", ev.TxID),
						zap.Any("panic", r))
				}
			}()
			h(ev)
		}()
	}
}

// Buffer holds events until the state change that produced them is
// committed. Events of a reverted change are dropped with Reset.
type Buffer struct {
	events []Event
}

// Emit appends ev to the buffer.
func (b *Buffer) Emit(ev Event) {
	b.events = append(b.events, ev)
}

// Len reports the number of buffered events.
func (b *Buffer) Len() int { return len(b.events) }

// Events returns the buffered events.
func (b *Buffer) Events() []Event { return b.events }

// Mark returns a position that Truncate can roll back to.
func (b *Buffer) Mark() int { return len(b.events) }

// Truncate drops every event buffered after mark.
func (b *Buffer) Truncate(mark int) {
	if mark < len(b.events) {
		b.events = b.events[:mark]
	}
}

// Reset drops all buffered events.
func (b *Buffer) Reset() { b.events = nil }

// FlushTo delivers the buffered events to sink in order and empties the buffer.
func (b *Buffer) FlushTo(sink Sink) {
	evs := b.events
	b.events = nil
	if sink == nil {
		return
	}
	for _, ev := range evs {
		sink.Emit(ev)
	}
}
