package vm

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/staking"
)

// Handler executes one transaction payload. The returned value is reported
// in the transaction receipt.
type Handler func(ctx *Context, payload json.RawMessage) (any, error)

// Handle builds a Handler that decodes the payload into P before calling fn.
// A payload that does not decode is an invalid argument.
func Handle[P any](fn func(ctx *Context, p *P) (any, error)) Handler {
	return func(ctx *Context, payload json.RawMessage) (any, error) {
		p := new(P)
		if err := json.Unmarshal(payload, p); err != nil {
			return nil, fmt.Errorf("%w: decode %T: %v", staking.ErrInvalidArgument, *p, err)
		}
		return fn(ctx, p)
	}
}

// Registry maps transaction types to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[core.TxType]Handler
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[core.TxType]Handler)}
}

// Register associates typ with h. Panics on duplicate registration.
func (r *Registry) Register(typ core.TxType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[typ]; exists {
		panic(fmt.Sprintf("vm: duplicate handler for %q", typ))
	}
	r.handlers[typ] = h
}

// Lookup returns the handler for typ.
func (r *Registry) Lookup(typ core.TxType) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[typ]
	return h, ok
}

// Types lists the registered transaction types in sorted order.
func (r *Registry) Types() []core.TxType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.TxType, 0, len(r.handlers))
	for t := range r.handlers {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var globalRegistry = NewRegistry()

// Register adds a handler to the registry used by every Executor. Modules
// call it from init().
func Register(typ core.TxType, h Handler) {
	globalRegistry.Register(typ, h)
}

// TxTypes lists the transaction types the executor accepts.
func TxTypes() []core.TxType {
	return globalRegistry.Types()
}
