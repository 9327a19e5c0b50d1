// Package testutil builds throwaway stores for tests. Never import it from
// production code.
package testutil

import "github.com/tolelom/tolauction/storage"

// MemDB is a LevelDB database kept entirely in memory.
type MemDB = storage.LevelDB

// NewMemDB opens an empty MemDB. It panics if LevelDB cannot open its
// in-memory storage.
func NewMemDB() *MemDB {
	db, err := storage.NewMemLevelDB()
	if err != nil {
		panic(err)
	}
	return db
}

// NewStateDB returns a StateDB over a fresh MemDB.
func NewStateDB() *storage.StateDB {
	return storage.NewStateDB(NewMemDB())
}

// NewBlockStore returns a BlockStore over a fresh MemDB.
func NewBlockStore() *storage.BlockStore {
	return storage.NewBlockStore(NewMemDB())
}
