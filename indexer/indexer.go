// Package indexer maintains secondary indexes over committed events so
// clients can list pools and a user's positions without scanning full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/log"

	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/events"
	"github.com/tolelom/tolstake/storage"
)

const (
	keyAllPools       = "idx:pools"
	prefixAdminPools  = "idx:admin:pool:"
	prefixStakerPools = "idx:staker:pool:"
)

// Indexer subscribes to ledger events and updates secondary lookup tables.
type Indexer struct {
	db storage.DB
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db}
	emitter.Subscribe(events.EventPoolInitialized, idx.onPoolInitialized)
	emitter.Subscribe(events.EventStaked, idx.onStaked)
	emitter.Subscribe(events.EventRedeemed, idx.onRedeemed)
	return idx
}

// Pools returns every pool ID in creation order.
func (idx *Indexer) Pools() ([]string, error) {
	return idx.getList(keyAllPools)
}

// PoolsByAdmin returns the IDs of pools administered by admin.
func (idx *Indexer) PoolsByAdmin(admin string) ([]string, error) {
	return idx.getList(prefixAdminPools + admin)
}

// PoolsByStaker returns the IDs of pools in which user holds an active
// position.
func (idx *Indexer) PoolsByStaker(user string) ([]string, error) {
	return idx.getList(prefixStakerPools + user)
}

// ---- event handlers ----

func (idx *Indexer) onPoolInitialized(ev events.Event) {
	poolID, _ := ev.Data["pool_id"].(string)
	admin, _ := ev.Data["admin"].(string)
	if poolID == "" || admin == "" {
		return
	}
	idx.check(ev, idx.addToList(keyAllPools, poolID))
	idx.check(ev, idx.addToList(prefixAdminPools+admin, poolID))
}

func (idx *Indexer) onStaked(ev events.Event) {
	poolID, _ := ev.Data["pool_id"].(string)
	owner, _ := ev.Data["owner"].(string)
	if poolID == "" || owner == "" {
		return
	}
	idx.check(ev, idx.addToList(prefixStakerPools+owner, poolID))
}

func (idx *Indexer) onRedeemed(ev events.Event) {
	poolID, _ := ev.Data["pool_id"].(string)
	owner, _ := ev.Data["owner"].(string)
	if poolID == "" || owner == "" {
		return
	}
	idx.check(ev, idx.removeFromList(prefixStakerPools+owner, poolID))
}

func (idx *Indexer) check(ev events.Event, err error) {
	if err != nil {
		log.Warn("Failed to update index", "event", ev.Type, "tx", ev.TxID, "err", err)
	}
}

// ---- list helpers ----

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

func (idx *Indexer) putList(key string, ids []string) error {
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}

func (idx *Indexer) addToList(key, value string) error {
	ids, err := idx.getList(key)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id == value {
			return nil
		}
	}
	return idx.putList(key, append(ids, value))
}

func (idx *Indexer) removeFromList(key, value string) error {
	ids, err := idx.getList(key)
	if err != nil {
		return err
	}
	filtered := ids[:0]
	for _, id := range ids {
		if id != value {
			filtered = append(filtered, id)
		}
	}
	return idx.putList(key, filtered)
}
