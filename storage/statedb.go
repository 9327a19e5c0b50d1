package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/tolelom/tolauction/core"
	"github.com/tolelom/tolauction/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it. All prefix constants must be declared
// via this function.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated by registerPrefix() below.
var statePrefixes []string

var (
	prefixAccount      = registerPrefix("acct:")
	prefixAsset        = registerPrefix("asset:")
	prefixTemplate     = registerPrefix("tmpl:")
	prefixAuction      = registerPrefix("auct:")
	prefixAuctionIndex = registerPrefix("auctidx:")
	prefixLedger       = registerPrefix("ledger:")
	prefixHouse        = registerPrefix("house:")
)

var (
	keyAuctionCount = prefixHouse + "auction_count"
	keyHouseParams  = prefixHouse + "params"
	keyHouseTotals  = prefixHouse + "totals"
)

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with in-memory write buffer,
// snapshot/rollback, and deterministic state-root computation.
//
// A StateDB is not safe for concurrent use. Readers on other goroutines
// should open their own StateDB over the same DB; they then see committed
// state only.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) del(key string) {
	delete(s.dirty, key)
	s.deleted[key] = true
}

func (s *StateDB) getJSON(key string, v any) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *StateDB) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.set(key, data)
	return nil
}

func (s *StateDB) getUint(key string) (uint64, error) {
	data, err := s.get(key)
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(data), 10, 64)
}

func (s *StateDB) setUint(key string, v uint64) {
	s.set(key, []byte(strconv.FormatUint(v, 10)))
}

// auctionKey zero-pads the id so prefix iteration yields creation order.
func auctionKey(id uint64) string {
	return fmt.Sprintf("%s%020d", prefixAuction, id)
}

// ---- Account ----

func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	var acc core.Account
	err := s.getJSON(prefixAccount+address, &acc)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address}, nil // zero-value account
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.setJSON(prefixAccount+acc.Address, acc)
}

// ---- Asset ----

func (s *StateDB) GetAsset(id string) (*core.Asset, error) {
	var asset core.Asset
	if err := s.getJSON(prefixAsset+id, &asset); err != nil {
		return nil, err
	}
	return &asset, nil
}

func (s *StateDB) SetAsset(asset *core.Asset) error {
	return s.setJSON(prefixAsset+asset.ID, asset)
}

func (s *StateDB) DeleteAsset(id string) error {
	s.del(prefixAsset + id)
	return nil
}

// ---- Template ----

func (s *StateDB) GetTemplate(id string) (*core.AssetTemplate, error) {
	var t core.AssetTemplate
	if err := s.getJSON(prefixTemplate+id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *StateDB) SetTemplate(t *core.AssetTemplate) error {
	return s.setJSON(prefixTemplate+t.ID, t)
}

// ---- Auctions ----

func (s *StateDB) GetAuction(id uint64) (*core.Auction, error) {
	var a core.Auction
	if err := s.getJSON(auctionKey(id), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *StateDB) SetAuction(a *core.Auction) error {
	return s.setJSON(auctionKey(a.ID), a)
}

func (s *StateDB) AuctionCount() (uint64, error) {
	return s.getUint(keyAuctionCount)
}

func (s *StateDB) SetAuctionCount(n uint64) error {
	s.setUint(keyAuctionCount, n)
	return nil
}

func (s *StateDB) GetAuctionIndex(ref core.AssetRef) (uint64, error) {
	data, err := s.get(prefixAuctionIndex + ref.Key())
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(data), 10, 64)
}

func (s *StateDB) SetAuctionIndex(ref core.AssetRef, id uint64) error {
	s.setUint(prefixAuctionIndex+ref.Key(), id)
	return nil
}

func (s *StateDB) DeleteAuctionIndex(ref core.AssetRef) error {
	s.del(prefixAuctionIndex + ref.Key())
	return nil
}

// ---- Ledger ----

func (s *StateDB) GetLedgerBalance(address string) (uint64, error) {
	return s.getUint(prefixLedger + address)
}

// SetLedgerBalance stores amount. A zeroed balance keeps its entry.
func (s *StateDB) SetLedgerBalance(address string, amount uint64) error {
	s.setUint(prefixLedger+address, amount)
	return nil
}

// ---- House ----

func (s *StateDB) GetHouseParams() (*core.HouseParams, error) {
	var p core.HouseParams
	if err := s.getJSON(keyHouseParams, &p); err != nil {
		return nil, fmt.Errorf("house params: %w", err)
	}
	return &p, nil
}

func (s *StateDB) SetHouseParams(p *core.HouseParams) error {
	return s.setJSON(keyHouseParams, p)
}

func (s *StateDB) GetHouseTotals() (*core.HouseTotals, error) {
	var t core.HouseTotals
	err := s.getJSON(keyHouseTotals, &t)
	if errors.Is(err, core.ErrNotFound) {
		return &t, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *StateDB) SetHouseTotals(t *core.HouseTotals) error {
	return s.setJSON(keyHouseTotals, t)
}

// ---- Snapshot / Rollback / Commit ----

func copyBuffer(dirty map[string][]byte, deleted map[string]bool) stateSnapshot {
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(dirty)),
		deleted: make(map[string]bool, len(deleted)),
	}
	for k, v := range dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range deleted {
		snap.deleted[k] = v
	}
	return snap
}

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	s.snapshots = append(s.snapshots, copyBuffer(s.dirty, s.deleted))
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot
// and discards it together with every later snapshot.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	restored := copyBuffer(s.snapshots[id].dirty, s.snapshots[id].deleted)
	s.dirty = restored.dirty
	s.deleted = restored.deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot returns the deterministic hash of the complete world state.
// Persisted entries under the registered prefixes are merged with the write
// buffer, sorted, and hashed with length-prefix encoding. It does not flush
// or modify state.
func (s *StateDB) ComputeRoot() string {
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[string(it.Key())] = v
		}
		it.Release()
	}
	for k, v := range s.dirty {
		merged[k] = v
	}
	for k := range s.deleted {
		delete(merged, k)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(k)))
		buf.Write(lenBuf[:])
		buf.WriteString(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// Batch and then clears it. Call ComputeRoot() before signing the block,
// then call Commit() after the block is safely stored.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}

// Discard drops all uncommitted writes.
func (s *StateDB) Discard() {
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
}
