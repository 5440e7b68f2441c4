// Package testutil provides in-memory storage for tests across the module.
// Never import this in production code.
package testutil

import (
	"github.com/tolelom/tolstake/storage"
)

// NewMemDB returns a LevelDB instance backed by memory storage.
func NewMemDB() *storage.LevelDB {
	db, err := storage.NewMemLevelDB()
	if err != nil {
		panic(err)
	}
	return db
}

// NewStateDB returns a storage.StateDB backed by a fresh in-memory DB.
func NewStateDB() *storage.StateDB {
	return storage.NewStateDB(NewMemDB())
}
