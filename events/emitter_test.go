package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitterDeliversByType(t *testing.T) {
	em := NewEmitter(nil)
	var bids, all []EventType
	em.Subscribe(EventBidCreated, func(ev Event) { bids = append(bids, ev.Type) })
	em.SubscribeAll(func(ev Event) { all = append(all, ev.Type) })

	em.Emit(Event{Type: EventAuctionCreated})
	em.Emit(Event{Type: EventBidCreated})

	assert.Equal(t, []EventType{EventBidCreated}, bids)
	assert.Equal(t, []EventType{EventAuctionCreated, EventBidCreated}, all)
}

func TestEmitterSurvivesPanickingHandler(t *testing.T) {
	em := NewEmitter(nil)
	var got int
	em.Subscribe(EventHousePaused, func(Event) { panic("boom") })
	em.Subscribe(EventHousePaused, func(Event) { got++ })

	assert.NotPanics(t, func() { em.Emit(Event{Type: EventHousePaused}) })
	assert.Equal(t, 1, got)
}

func TestBufferTruncateAndFlush(t *testing.T) {
	var b Buffer
	b.Emit(Event{Type: EventAuctionCreated})
	mark := b.Mark()
	b.Emit(Event{Type: EventBidCreated})
	b.Emit(Event{Type: EventTokenTransfer})
	assert.Equal(t, 3, b.Len())

	b.Truncate(mark)
	assert.Equal(t, 1, b.Len())

	em := NewEmitter(nil)
	var seen []EventType
	em.SubscribeAll(func(ev Event) { seen = append(seen, ev.Type) })
	b.FlushTo(em)
	assert.Equal(t, []EventType{EventAuctionCreated}, seen)
	assert.Zero(t, b.Len())

	b.Emit(Event{Type: EventFundWithdrawal})
	b.Reset()
	assert.Empty(t, b.Events())
}
