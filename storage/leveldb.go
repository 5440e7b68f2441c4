package storage

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
	lvlstorage "github.com/syndtr/goleveldb/leveldb/storage"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/tolelom/tolstake/core"
)

var _ DB = (*LevelDB)(nil)

// Batches are synced so a committed transaction survives a crash.
var syncWrite = opt.WriteOptions{Sync: true}

// LevelDB implements DB using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB opens (or creates) a LevelDB database at path.
func NewLevelDB(path string) (*LevelDB, error) {
	stg, err := lvlstorage.OpenFile(path, false)
	if err != nil {
		return nil, errors.Wrapf(err, "open leveldb %q", path)
	}
	return openLevelDB(stg)
}

// NewMemLevelDB creates a LevelDB instance held entirely in memory.
func NewMemLevelDB() (*LevelDB, error) {
	return openLevelDB(lvlstorage.NewMemStorage())
}

func openLevelDB(stg lvlstorage.Storage) (*LevelDB, error) {
	db, err := leveldb.Open(stg, &opt.Options{
		Filter: filter.NewBloomFilter(10),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open leveldb")
	}
	return &LevelDB{db: db}, nil
}

// Get returns core.ErrNotFound for a missing key.
func (l *LevelDB) Get(key []byte) ([]byte, error) {
	val, err := l.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, core.ErrNotFound
	}
	return val, err
}

func (l *LevelDB) Set(key, value []byte) error {
	return l.db.Put(key, value, nil)
}

func (l *LevelDB) Delete(key []byte) error {
	return l.db.Delete(key, nil)
}

// NewIterator walks keys under prefix in ascending order.
func (l *LevelDB) NewIterator(prefix []byte) Iterator {
	return l.db.NewIterator(util.BytesPrefix(prefix), nil)
}

func (l *LevelDB) NewBatch() Batch {
	return &levelBatch{db: l.db}
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}

type levelBatch struct {
	db    *leveldb.DB
	batch leveldb.Batch
}

func (b *levelBatch) Set(key, value []byte) { b.batch.Put(key, value) }
func (b *levelBatch) Delete(key []byte)     { b.batch.Delete(key) }
func (b *levelBatch) Reset()                { b.batch.Reset() }

func (b *levelBatch) Write() error {
	return errors.Wrap(b.db.Write(&b.batch, &syncWrite), "write batch")
}
