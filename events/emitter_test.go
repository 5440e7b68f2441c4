package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitDeliversToTypeAndWildcard(t *testing.T) {
	e := NewEmitter()
	var typed, all []EventType
	e.Subscribe(EventStaked, func(ev Event) { typed = append(typed, ev.Type) })
	e.SubscribeAll(func(ev Event) { all = append(all, ev.Type) })

	e.Emit(New(EventStaked, "tx1", nil))
	e.Emit(New(EventRedeemed, "tx2", nil))

	assert.Equal(t, []EventType{EventStaked}, typed)
	assert.Equal(t, []EventType{EventStaked, EventRedeemed}, all)
}

func TestEmitRecoversFromPanic(t *testing.T) {
	e := NewEmitter()
	called := false
	e.Subscribe(EventPoolFunded, func(Event) { panic("boom") })
	e.Subscribe(EventPoolFunded, func(Event) { called = true })

	assert.NotPanics(t, func() { e.Emit(New(EventPoolFunded, "tx", nil)) })
	assert.True(t, called)
}

func TestNewAssignsUniqueIDs(t *testing.T) {
	a := New(EventTxExecuted, "tx", map[string]any{"k": 1})
	b := New(EventTxExecuted, "tx", nil)
	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "tx", a.TxID)
}
