package vm

import (
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/ethereum/go-ethereum/log"

	"github.com/tolelom/tolstake/clock"
	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/crypto"
	"github.com/tolelom/tolstake/events"
	"github.com/tolelom/tolstake/ledger"
	"github.com/tolelom/tolstake/staking"
)

var (
	// ErrUnknownTxType is returned for a transaction type with no handler.
	ErrUnknownTxType = errors.New("vm: unknown transaction type")
	// ErrHandlerPanic is returned when a handler panics. The transaction is
	// reverted.
	ErrHandlerPanic = errors.New("vm: handler panic")
)

// Context is passed to every Handler and provides access to the state, the
// bank and clock the operation runs against, and the triggering transaction.
// Events are buffered and only published once the transaction commits.
type Context struct {
	State             core.State
	Bank              ledger.Bank
	Clock             clock.Clock
	Tx                *core.Transaction
	AllowTimeOverride bool

	events []events.Event
}

// Keeper returns a staking keeper bound to the context's state.
func (c *Context) Keeper() *staking.Keeper {
	return staking.NewKeeper(c.State, c.Bank, c.Clock)
}

// Emit buffers an event for publication after commit.
func (c *Context) Emit(typ events.EventType, data map[string]any) {
	txID := ""
	if c.Tx != nil {
		txID = c.Tx.ID
	}
	c.events = append(c.events, events.New(typ, txID, data))
}

// Receipt reports a committed transaction.
type Receipt struct {
	TxID      string      `json:"tx_id"`
	Type      core.TxType `json:"type"`
	From      string      `json:"from"`
	Result    any         `json:"result"`
	StateRoot string      `json:"state_root"`
}

// Executor applies transactions to the state using the handlers registered
// with Register. Each transaction is one unit of work: it either commits in full
// or leaves the state untouched.
type Executor struct {
	mu                sync.Mutex
	state             core.State
	bank              ledger.Bank
	clock             clock.Clock
	emitter           *events.Emitter
	allowTimeOverride bool
}

// NewExecutor creates an Executor. emitter may be nil.
func NewExecutor(state core.State, bank ledger.Bank, clk clock.Clock, emitter *events.Emitter) *Executor {
	return &Executor{state: state, bank: bank, clock: clk, emitter: emitter}
}

// AllowTimeOverride lets stake and redeem payloads supply their own time.
func (e *Executor) AllowTimeOverride(allow bool) {
	e.mu.Lock()
	e.allowTimeOverride = allow
	e.mu.Unlock()
}

// ExecuteTx validates, executes and commits a single transaction with
// snapshot/rollback.
func (e *Executor) ExecuteTx(tx *core.Transaction) (*Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", staking.ErrInvalidArgument, err)
	}
	if crypto.IsCustodyAddress(tx.From) {
		return nil, fmt.Errorf("%w: custody account %s cannot send transactions", staking.ErrUnauthorized, tx.From)
	}
	handler, ok := globalRegistry.Lookup(tx.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %w %q", staking.ErrInvalidArgument, ErrUnknownTxType, tx.Type)
	}
	if tx.ID == "" {
		tx.ID = tx.Hash()
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	ctx := &Context{
		State:             e.state,
		Bank:              e.bank,
		Clock:             e.clock,
		Tx:                tx,
		AllowTimeOverride: e.allowTimeOverride,
	}
	result, err := dispatch(handler, ctx, tx.Payload)
	if err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return nil, fmt.Errorf("revert snapshot after tx failure: %w (revert: %v)", err, revertErr)
		}
		log.Debug("Transaction rejected", "tx", tx.ID, "type", tx.Type, "from", tx.From, "err", err)
		e.emit(events.New(events.EventTxFailed, tx.ID, map[string]any{
			"type":  string(tx.Type),
			"from":  tx.From,
			"kind":  string(staking.KindOf(err)),
			"error": err.Error(),
		}))
		return nil, err
	}

	if err := e.state.Commit(); err != nil {
		e.state.Discard()
		log.Error("Failed to commit transaction", "tx", tx.ID, "err", err)
		return nil, fmt.Errorf("commit tx %s: %w", tx.ID, err)
	}
	root := e.state.ComputeRoot()
	log.Debug("Transaction committed", "tx", tx.ID, "type", tx.Type, "root", root)

	for _, ev := range ctx.events {
		e.emit(ev)
	}
	e.emit(events.New(events.EventTxExecuted, tx.ID, map[string]any{
		"type": string(tx.Type),
		"from": tx.From,
	}))
	return &Receipt{TxID: tx.ID, Type: tx.Type, From: tx.From, Result: result, StateRoot: root}, nil
}

// View runs fn against the committed state under the executor lock. fn must
// not write.
func (e *Executor) View(fn func(ctx *Context) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return fn(&Context{State: e.state, Bank: e.bank, Clock: e.clock, AllowTimeOverride: e.allowTimeOverride})
}

// dispatch runs h and turns a panic into an error so the caller reverts the
// handler's buffered writes.
func dispatch(h Handler, ctx *Context, payload json.RawMessage) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Transaction handler panicked", "tx", ctx.Tx.ID, "type", ctx.Tx.Type, "panic", r, "stack", string(debug.Stack()))
			result, err = nil, fmt.Errorf("%w: handler panic: %v", ErrHandlerPanic, r)
		}
	}()
	return h(ctx, payload)
}

func (e *Executor) emit(ev events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}
