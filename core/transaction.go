package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/tolstake/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer  TxType = "transfer"
	TxPoolInit  TxType = "pool_init"
	TxPoolFund  TxType = "pool_fund"
	TxStake     TxType = "stake"
	TxRedeem    TxType = "redeem"
	TxPoolClose TxType = "pool_close"
)

// Transaction is the atomic unit of work on the ledger.
// From is the identity asserted by the authenticated caller; it is compared
// for equality only.
type Transaction struct {
	ID        string          `json:"id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// hashBody holds the fields covered by the transaction ID.
type hashBody struct {
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans ID).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	data, err := json.Marshal(hashBody{
		Type:      tx.Type,
		From:      tx.From,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	})
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Validate checks the envelope fields. Payload contents are validated by the
// handler registered for the type.
func (tx *Transaction) Validate() error {
	if tx.Type == "" {
		return errors.New("missing type field")
	}
	if tx.From == "" {
		return errors.New("missing from field")
	}
	return nil
}

// NewTransaction creates a transaction with the current timestamp and sets ID.
func NewTransaction(typ TxType, from string, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	tx := &Transaction{
		Type:      typ,
		From:      from,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}
	tx.ID = tx.Hash()
	return tx, nil
}

// ---- Payload types ----

// TransferPayload moves tokens between ledger accounts.
type TransferPayload struct {
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// PoolInitPayload creates a pool administered by the sender.
// An empty PoolID is derived from the sender and token.
type PoolInitPayload struct {
	PoolID             string `json:"pool_id,omitempty"`
	Token              string `json:"token"`
	RewardRate         uint8  `json:"reward_rate"`
	MinStakingDuration int64  `json:"min_staking_duration"`
}

// PoolFundPayload adds to a pool's reward budget.
type PoolFundPayload struct {
	PoolID string `json:"pool_id"`
	Amount uint64 `json:"amount"`
}

// StakePayload opens a position. At overrides the clock and is only honoured
// when the node allows time overrides.
type StakePayload struct {
	PoolID string `json:"pool_id"`
	Token  string `json:"token"`
	Amount uint64 `json:"amount"`
	At     *int64 `json:"at,omitempty"`
}

// RedeemPayload closes the sender's position.
type RedeemPayload struct {
	PoolID string `json:"pool_id"`
	Force  bool   `json:"force"`
	At     *int64 `json:"at,omitempty"`
}

// PoolClosePayload closes a pool and returns the unspent budget to its admin.
type PoolClosePayload struct {
	PoolID string `json:"pool_id"`
}
