package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/tolelom/tolstake/core"
	"github.com/tolelom/tolstake/crypto"
)

// Key prefixes. Everything under rootPrefixes is hashed by ComputeRoot.
const (
	prefixAccount  = "acct:"
	prefixPool     = "pool:"
	prefixPosition = "pos:"
	prefixMeta     = "meta:" // node bookkeeping, outside the root
)

var rootPrefixes = []string{prefixAccount, prefixPool, prefixPosition}

func accountKey(token, address string) string {
	return compositeKey(prefixAccount, token, address)
}

func poolKey(id string) string {
	return prefixPool + id
}

func positionKey(poolID, owner string) string {
	return compositeKey(prefixPosition, poolID, owner)
}

// compositeKey writes each part as <len>:<part> so parts containing ':'
// cannot run into each other.
func compositeKey(prefix string, parts ...string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range parts {
		b.WriteString(strconv.Itoa(len(p)))
		b.WriteByte(':')
		b.WriteString(p)
	}
	return b.String()
}

// pendingValue is a buffered write. A nil data slice marks a deletion.
type pendingValue struct {
	data []byte
}

// undo restores one key of the write buffer to what it held before a write.
type undo struct {
	key  string
	prev *pendingValue // nil: key was not buffered
}

// StateDB implements core.State on top of a DB. Writes are buffered in
// memory; every buffered write appends to an undo journal so a snapshot is
// just a journal length. It is not safe for concurrent use; vm.Executor
// serializes access.
type StateDB struct {
	db        DB
	pending   map[string]*pendingValue
	journal   []undo
	revisions []int
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{db: db, pending: make(map[string]*pendingValue)}
}

func (s *StateDB) get(key string) ([]byte, error) {
	if pv, ok := s.pending[key]; ok {
		if pv.data == nil {
			return nil, core.ErrNotFound
		}
		return pv.data, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) put(key string, data []byte) {
	s.journal = append(s.journal, undo{key: key, prev: s.pending[key]})
	s.pending[key] = &pendingValue{data: data}
}

func (s *StateDB) getJSON(key string, v any) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	return errors.Wrapf(json.Unmarshal(data, v), "decode %s", key)
}

func (s *StateDB) putJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	s.put(key, data)
	return nil
}

// GetAccount returns the account, or a zero-balance account if none is stored.
func (s *StateDB) GetAccount(token, address string) (*core.Account, error) {
	var acc core.Account
	err := s.getJSON(accountKey(token, address), &acc)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address, Token: token}, nil
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.putJSON(accountKey(acc.Token, acc.Address), acc)
}

func (s *StateDB) GetPool(id string) (*core.Pool, error) {
	var p core.Pool
	if err := s.getJSON(poolKey(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *StateDB) SetPool(p *core.Pool) error {
	return s.putJSON(poolKey(p.ID), p)
}

func (s *StateDB) GetPosition(poolID, owner string) (*core.Position, error) {
	var p core.Position
	if err := s.getJSON(positionKey(poolID, owner), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *StateDB) SetPosition(p *core.Position) error {
	return s.putJSON(positionKey(p.PoolID, p.Owner), p)
}

func (s *StateDB) DeletePosition(poolID, owner string) error {
	s.put(positionKey(poolID, owner), nil)
	return nil
}

func (s *StateDB) GetMeta(key string) ([]byte, error) {
	return s.get(prefixMeta + key)
}

func (s *StateDB) SetMeta(key string, value []byte) error {
	s.put(prefixMeta+key, value)
	return nil
}

// Snapshot marks the current journal position and returns its revision id.
func (s *StateDB) Snapshot() (int, error) {
	s.revisions = append(s.revisions, len(s.journal))
	return len(s.revisions) - 1, nil
}

// RevertToSnapshot undoes every write made since revision id was taken and
// drops that revision along with all later ones.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.revisions) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	mark := s.revisions[id]
	for i := len(s.journal) - 1; i >= mark; i-- {
		u := s.journal[i]
		if u.prev == nil {
			delete(s.pending, u.key)
		} else {
			s.pending[u.key] = u.prev
		}
	}
	s.journal = s.journal[:mark]
	s.revisions = s.revisions[:id]
	return nil
}

// ComputeRoot hashes the sorted, length-prefixed key/value pairs of the
// ledger state as it would look after Commit. Meta keys are excluded. It
// neither flushes nor modifies the buffer.
func (s *StateDB) ComputeRoot() string {
	view := make(map[string][]byte)
	for _, prefix := range rootPrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			view[string(it.Key())] = bytes.Clone(it.Value())
		}
		it.Release()
	}
	for k, pv := range s.pending {
		if !inRoot(k) {
			continue
		}
		if pv.data == nil {
			delete(view, k)
		} else {
			view[k] = pv.data
		}
	}

	keys := make([]string, 0, len(view))
	for k := range view {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		writeField(&buf, []byte(k))
		writeField(&buf, view[k])
	}
	return crypto.Hash(buf.Bytes())
}

func writeField(buf *bytes.Buffer, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	buf.Write(n[:])
	buf.Write(b)
}

func inRoot(k string) bool {
	for _, p := range rootPrefixes {
		if strings.HasPrefix(k, p) {
			return true
		}
	}
	return false
}

// Commit writes the buffer to the DB in one batch and resets the journal.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, pv := range s.pending {
		if pv.data == nil {
			batch.Delete([]byte(k))
		} else {
			batch.Set([]byte(k), pv.data)
		}
	}
	if err := batch.Write(); err != nil {
		return errors.Wrap(err, "commit state")
	}
	s.Discard()
	return nil
}

// Discard drops the buffer and all revisions without writing.
func (s *StateDB) Discard() {
	s.pending = make(map[string]*pendingValue)
	s.journal = nil
	s.revisions = nil
}
