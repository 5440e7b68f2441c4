package events

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
)

// EventType labels what happened.
type EventType string

const (
	EventTxExecuted      EventType = "tx_executed"
	EventTxFailed        EventType = "tx_failed"
	EventTokenTransfer   EventType = "token_transfer"
	EventPoolInitialized EventType = "pool_initialized"
	EventPoolFunded      EventType = "pool_funded"
	EventStaked          EventType = "staked"
	EventRedeemed        EventType = "redeemed"
	EventPoolClosed      EventType = "pool_closed"
)

// Types lists every event type in emission order of a typical pool lifecycle.
var Types = []EventType{
	EventTxExecuted,
	EventTxFailed,
	EventTokenTransfer,
	EventPoolInitialized,
	EventPoolFunded,
	EventStaked,
	EventRedeemed,
	EventPoolClosed,
}

// Event carries a typed payload emitted after a state change is committed.
type Event struct {
	ID   string         `json:"id"`
	Type EventType      `json:"type"`
	TxID string         `json:"tx_id"`
	Time int64          `json:"time"`
	Data map[string]any `json:"data"`
}

// New returns an event with a fresh ID and the current wall time.
func New(typ EventType, txID string, data map[string]any) Event {
	return Event{
		ID:   uuid.NewString(),
		Type: typ,
		TxID: txID,
		Time: time.Now().Unix(),
		Data: data,
	}
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	all      []Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// SubscribeAll registers h for every event type.
func (e *Emitter) SubscribeAll(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.all = append(e.all, h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously, then to
// wildcard subscribers. A panicking handler is logged and skipped.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := make([]Handler, 0, len(e.handlers[ev.Type])+len(e.all))
	handlers = append(handlers, e.handlers[ev.Type]...)
	handlers = append(handlers, e.all...)
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("Event handler panicked", "type", ev.Type, "tx", ev.TxID, "err", r)
				}
			}()
			h(ev)
		}()
	}
}
