// store.go - ledger state storage.
//
// The state machine drives an explicit Store handle rather than ambient
// globals, so tests can substitute their own implementation and the daemon
// can persist the in-memory store as a single JSON file.

package currency

import (
	"encoding/json"
	"errors"
	"os"
	"sort"
)

var errNotSnapshottable = errors.New("store does not support file snapshots")

// Store holds all committed ledger state: accounts, transfer records, and
// the expiry index that schedules refunds. Implementations are not required
// to be safe for concurrent use; the Ledger serializes access.
type Store interface {
	// Account returns the account for key, if any.
	Account(key AccountKey) (*Account, bool)
	// PutAccount inserts or replaces an account.
	PutAccount(a *Account)
	// Accounts returns all accounts in key order.
	Accounts() []*Account

	// Transfer returns the record for id, if any.
	Transfer(id TransferID) (*TransferRecord, bool)
	// PutTransfer inserts or replaces a transfer record and keeps the
	// per-receiver unaccepted index consistent with its state.
	PutTransfer(rec *TransferRecord)
	// Transfers returns all transfer records in id order.
	Transfers() []*TransferRecord
	// Unaccepted returns the ids of pending transfers addressed to key.
	Unaccepted(key AccountKey) []TransferID

	// ScheduleExpiry records that id must be refunded if still pending
	// once the chain height passes deadline.
	ScheduleExpiry(deadline uint64, id TransferID)
	// TakeExpired removes and returns all ids scheduled at deadlines
	// strictly below height, in deadline order.
	TakeExpired(height uint64) []TransferID
}

// MemStore is the in-memory Store, serializable as JSON for snapshots.
type MemStore struct {
	AccountMap  map[AccountKey]*Account       `json:"accounts"`
	TransferMap map[TransferID]*TransferRecord `json:"transfers"`
	// ExpiryMap maps a deadline height to the transfers whose timelock
	// window ends there.
	ExpiryMap map[uint64][]TransferID `json:"expiry"`
	// Pending maps a receiver key to its unaccepted incoming transfers.
	Pending map[AccountKey][]TransferID `json:"pending"`
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		AccountMap:  make(map[AccountKey]*Account),
		TransferMap: make(map[TransferID]*TransferRecord),
		ExpiryMap:   make(map[uint64][]TransferID),
		Pending:     make(map[AccountKey][]TransferID),
	}
}

// Account returns the account for key, if any.
func (s *MemStore) Account(key AccountKey) (*Account, bool) {
	a, ok := s.AccountMap[key]
	return a, ok
}

// PutAccount inserts or replaces an account.
func (s *MemStore) PutAccount(a *Account) {
	s.AccountMap[KeyOf(a.PublicKey)] = a
}

// Accounts returns all accounts in key order.
func (s *MemStore) Accounts() []*Account {
	keys := make([]AccountKey, 0, len(s.AccountMap))
	for k := range s.AccountMap {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	out := make([]*Account, len(keys))
	for i, k := range keys {
		out[i] = s.AccountMap[k]
	}
	return out
}

// Transfer returns the record for id, if any.
func (s *MemStore) Transfer(id TransferID) (*TransferRecord, bool) {
	r, ok := s.TransferMap[id]
	return r, ok
}

// PutTransfer inserts or replaces a transfer record, updating the
// receiver's unaccepted index to match the record's state.
func (s *MemStore) PutTransfer(rec *TransferRecord) {
	receiver := KeyOf(rec.Transfer.Receiver)
	if _, known := s.TransferMap[rec.ID]; !known && rec.State == StatePending {
		s.Pending[receiver] = append(s.Pending[receiver], rec.ID)
	}
	if rec.State != StatePending {
		s.Pending[receiver] = removeID(s.Pending[receiver], rec.ID)
		if len(s.Pending[receiver]) == 0 {
			delete(s.Pending, receiver)
		}
	}
	s.TransferMap[rec.ID] = rec
}

// Transfers returns all transfer records in id order.
func (s *MemStore) Transfers() []*TransferRecord {
	out := make([]*TransferRecord, 0, len(s.TransferMap))
	for _, r := range s.TransferMap {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}

// Unaccepted returns the ids of pending transfers addressed to key.
func (s *MemStore) Unaccepted(key AccountKey) []TransferID {
	return append([]TransferID(nil), s.Pending[key]...)
}

// ScheduleExpiry records id under its refund deadline.
func (s *MemStore) ScheduleExpiry(deadline uint64, id TransferID) {
	s.ExpiryMap[deadline] = append(s.ExpiryMap[deadline], id)
}

// TakeExpired removes and returns all ids with deadlines strictly below
// height.
func (s *MemStore) TakeExpired(height uint64) []TransferID {
	var deadlines []uint64
	for d := range s.ExpiryMap {
		if d < height {
			deadlines = append(deadlines, d)
		}
	}
	sort.Slice(deadlines, func(i, j int) bool { return deadlines[i] < deadlines[j] })

	var out []TransferID
	for _, d := range deadlines {
		out = append(out, s.ExpiryMap[d]...)
		delete(s.ExpiryMap, d)
	}
	return out
}

func removeID(ids []TransferID, id TransferID) []TransferID {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// ledgerSnapshot is the persisted form of a ledger: the store plus the
// chain height at save time.
type ledgerSnapshot struct {
	Height uint64    `json:"height"`
	Config Config    `json:"config"`
	Store  *MemStore `json:"store"`
}

// SaveToFile saves the ledger's full state to a JSON file, overwriting any
// existing file.
func (l *Ledger) SaveToFile(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	mem, ok := l.store.(*MemStore)
	if !ok {
		return errNotSnapshottable
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(ledgerSnapshot{Height: l.height, Config: l.cfg, Store: mem})
}

// LoadLedgerFromFile restores a ledger saved with SaveToFile.
func LoadLedgerFromFile(path string) (*Ledger, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var snap ledgerSnapshot
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return nil, err
	}
	if snap.Store == nil {
		snap.Store = NewMemStore()
	}
	l, err := NewLedger(snap.Store, snap.Config)
	if err != nil {
		return nil, err
	}
	l.height = snap.Height
	return l, nil
}
