package config

import (
	"errors"
	"fmt"

	"github.com/tolelom/tolstake/clock"
	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/events"
	"github.com/tolelom/tolstake/ledger"
	"github.com/tolelom/tolstake/staking"
)

// genesisMarker is the meta key recording that genesis has been applied.
const genesisMarker = "genesis"

// Alloc credits an initial balance.
type Alloc struct {
	Token   string `toml:"token"`
	Address string `toml:"address"`
	Balance uint64 `toml:"balance"`
}

// GenesisPool is a pool created at genesis and optionally funded from the
// admin's allocation.
type GenesisPool struct {
	ID                 string `toml:"id"`
	Admin              string `toml:"admin"`
	Token              string `toml:"token"`
	RewardRate         uint8  `toml:"reward_rate"`
	MinStakingDuration int64  `toml:"min_staking_duration"`
	Fund               uint64 `toml:"fund"`
}

// GenesisConfig describes the ledger's initial state.
type GenesisConfig struct {
	Alloc []Alloc       `toml:"alloc"`
	Pools []GenesisPool `toml:"pools"`
}

// ApplyGenesis credits every allocation, creates and funds the genesis pools,
// and commits. It is a no-op on a state that already has genesis applied.
// Pool events are emitted on em (which may be nil) after the commit so the
// indexes see genesis pools. It returns the state root and whether genesis ran.
func ApplyGenesis(cfg *Config, state core.State, clk clock.Clock, em *events.Emitter) (string, bool, error) {
	if root, err := state.GetMeta(genesisMarker); err == nil {
		return string(root), false, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		return "", false, err
	}

	bank := ledger.NewStateBank(state)
	for _, a := range cfg.Genesis.Alloc {
		if err := bank.Credit(a.Token, a.Address, a.Balance); err != nil {
			state.Discard()
			return "", false, fmt.Errorf("genesis alloc %s/%s: %w", a.Token, a.Address, err)
		}
	}

	k := staking.NewKeeper(state, bank, clk)
	var pending []events.Event
	for _, p := range cfg.Genesis.Pools {
		pool, err := k.InitializePool(staking.InitPoolParams{
			ID:                 p.ID,
			Admin:              p.Admin,
			Token:              p.Token,
			RewardRate:         p.RewardRate,
			MinStakingDuration: p.MinStakingDuration,
		})
		if err != nil {
			state.Discard()
			return "", false, fmt.Errorf("genesis pool %q: %w", p.ID, err)
		}
		pending = append(pending, events.New(events.EventPoolInitialized, genesisMarker, map[string]any{
			"pool_id":              pool.ID,
			"admin":                pool.Admin,
			"token":                pool.Token,
			"reward_rate":          pool.RewardRate,
			"min_staking_duration": pool.MinStakingDuration,
		}))
		if p.Fund > 0 {
			if _, err := k.Fund(pool.ID, p.Admin, p.Fund); err != nil {
				state.Discard()
				return "", false, fmt.Errorf("genesis fund %q: %w", pool.ID, err)
			}
			pending = append(pending, events.New(events.EventPoolFunded, genesisMarker, map[string]any{
				"pool_id":       pool.ID,
				"funder":        p.Admin,
				"amount":        p.Fund,
				"reward_budget": p.Fund,
			}))
		}
	}

	root := state.ComputeRoot()
	if err := state.SetMeta(genesisMarker, []byte(root)); err != nil {
		state.Discard()
		return "", false, err
	}
	if err := state.Commit(); err != nil {
		return "", false, err
	}
	if em != nil {
		for _, ev := range pending {
			em.Emit(ev)
		}
	}
	return root, true, nil
}
