package core

// Account holds a participant's balance of a single token. Accounts are owned
// by the ledger; the staking core never reads or writes them directly.
type Account struct {
	Address string `json:"address"`
	Token   string `json:"token"`
	Balance uint64 `json:"balance"`
}

// Pool is a reward budget plus the configuration for stakes of one token.
type Pool struct {
	ID                 string `json:"id"`
	Admin              string `json:"admin"`
	Token              string `json:"token"`
	RewardRate         uint8  `json:"reward_rate"`          // annual percent, 0-100
	RewardBudget       uint64 `json:"reward_budget"`        // funded, not yet paid out
	MinStakingDuration int64  `json:"min_staking_duration"` // seconds; 0 disables the rule
	TotalStaked        uint64 `json:"total_staked"`
	ActivePositions    uint64 `json:"active_positions"`
	Closed             bool   `json:"closed"`
	CreatedAt          int64  `json:"created_at"`
}

// Position is one user's stake in a pool. A stored position is always active;
// redemption deletes the record.
type Position struct {
	PoolID    string `json:"pool_id"`
	Owner     string `json:"owner"`
	Principal uint64 `json:"principal"`
	OpenedAt  int64  `json:"opened_at"`
}

// Active reports whether the position currently locks funds.
func (p *Position) Active() bool {
	return p != nil && p.Principal > 0
}

// State is the full ledger state interface. Implementations must be
// snapshot-able so the executor can roll back failed transactions.
type State interface {
	// Accounts. A missing account is returned as a zero-balance account.
	GetAccount(token, address string) (*Account, error)
	SetAccount(acc *Account) error

	// Pools
	GetPool(id string) (*Pool, error)
	SetPool(p *Pool) error

	// Positions
	GetPosition(poolID, owner string) (*Position, error)
	SetPosition(p *Position) error
	DeletePosition(poolID, owner string) error

	// Node metadata (genesis marker and similar)
	GetMeta(key string) ([]byte, error)
	SetMeta(key string, value []byte) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root including the
	// uncommitted write buffer.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	Commit() error
	// Discard drops the write buffer without flushing.
	Discard()
}
