package core

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	maxMempoolSize = 10_000
	maxTxAge       = int64(time.Hour)
	maxTxFuture    = int64(5 * time.Minute)
)

var (
	ErrMempoolFull  = errors.New("mempool full")
	ErrDuplicateTx  = errors.New("tx already in pool")
	ErrTxExpired    = errors.New("transaction expired")
	ErrTxFromFuture = errors.New("transaction timestamp too far in the future")
)

// Mempool holds signed transactions waiting for a block, in arrival order.
type Mempool struct {
	mu    sync.RWMutex
	txs   map[string]*Transaction
	order []string
}

// NewMempool returns an empty pool.
func NewMempool() *Mempool {
	return &Mempool{txs: make(map[string]*Transaction)}
}

// Add admits tx if its signature verifies and its timestamp is within one
// hour behind and five minutes ahead of now.
func (m *Mempool) Add(tx *Transaction) error {
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("invalid tx signature: %w", err)
	}
	if err := checkAge(tx, time.Now().UnixNano()); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.txs) >= maxMempoolSize {
		return ErrMempoolFull
	}
	if _, ok := m.txs[tx.ID]; ok {
		return ErrDuplicateTx
	}
	m.txs[tx.ID] = tx
	m.order = append(m.order, tx.ID)
	return nil
}

func checkAge(tx *Transaction, now int64) error {
	switch {
	case now-tx.Timestamp > maxTxAge:
		return ErrTxExpired
	case tx.Timestamp-now > maxTxFuture:
		return ErrTxFromFuture
	}
	return nil
}

// Get returns a pending transaction by id.
func (m *Mempool) Get(id string) (*Transaction, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	return tx, ok
}

// Pending returns up to n transactions, oldest first.
func (m *Mempool) Pending(n int) []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if n > len(m.order) {
		n = len(m.order)
	}
	out := make([]*Transaction, 0, n)
	for _, id := range m.order[:n] {
		out = append(out, m.txs[id])
	}
	return out
}

// Remove drops the given ids once they are decided.
func (m *Mempool) Remove(ids []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range ids {
		delete(m.txs, id)
	}
	m.compact()
}

// Prune drops transactions that have aged out and reports how many.
func (m *Mempool) Prune() int {
	now := time.Now().UnixNano()
	m.mu.Lock()
	defer m.mu.Unlock()
	before := len(m.txs)
	for id, tx := range m.txs {
		if now-tx.Timestamp > maxTxAge {
			delete(m.txs, id)
		}
	}
	m.compact()
	return before - len(m.txs)
}

// compact drops order entries whose transaction is gone. Callers hold mu.
func (m *Mempool) compact() {
	kept := m.order[:0]
	for _, id := range m.order {
		if _, ok := m.txs[id]; ok {
			kept = append(kept, id)
		}
	}
	m.order = kept
}

// Size is the number of pending transactions.
func (m *Mempool) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.txs)
}
