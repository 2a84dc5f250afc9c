// account.go - per-account ledger entries and the homomorphic update rules.
//
// An account's balance exists only as a commitment. Every event that
// touches the account appends a balance snapshot, so the ledger can later
// serve the exact commitment the account held at any history length. The
// snapshots are what sufficient-balance proofs are verified against.

package currency

import (
	"crypto/ed25519"

	"veilcash/internal/commitment"
)

// HistoryEventKind labels an entry in an account's history.
type HistoryEventKind string

const (
	// EventCreated is the account's genesis entry.
	EventCreated HistoryEventKind = "created"
	// EventSent records an outgoing transfer entering Pending.
	EventSent HistoryEventKind = "sent"
	// EventReceived records an accepted incoming transfer.
	EventReceived HistoryEventKind = "received"
	// EventRefunded records a timed-out outgoing transfer returning.
	EventRefunded HistoryEventKind = "refunded"
)

// HistoryEvent is one entry in an account's transaction history.
type HistoryEvent struct {
	Kind       HistoryEventKind `json:"kind"`
	TransferID TransferID       `json:"transfer_id,omitempty"`
}

// Account is one ledger entry. Balance, HistoryLen and LastSendIndex are
// mutated only through the credit/debit rules below; callers treat them as
// read-only.
type Account struct {
	PublicKey ed25519.PublicKey      `json:"public_key"`
	Balance   *commitment.Commitment `json:"balance"`
	// HistoryLen counts the events recorded against the account, including
	// its creation. Monotonically increasing.
	HistoryLen uint64 `json:"history_len"`
	// LastSendIndex is the history position of the account's most recent
	// outgoing transfer. Zero until the first send; the creation event at
	// position zero can never be a send, so no ambiguity arises.
	LastSendIndex uint64 `json:"last_send_index"`

	// Snapshots[h] is the balance commitment the account held once its
	// history reached length h; len(Snapshots) == HistoryLen+1. Snapshots
	// are kept for the account's full history so historical references can
	// always be resolved and distinguished from merely stale ones.
	Snapshots []*commitment.Commitment `json:"snapshots"`
	History   []HistoryEvent           `json:"history"`
}

// NewAccount creates an account holding the initial balance commitment.
// Creation itself is the account's first history event.
func NewAccount(pub ed25519.PublicKey, initial *commitment.Commitment) *Account {
	return &Account{
		PublicKey:  append(ed25519.PublicKey(nil), pub...),
		Balance:    initial,
		HistoryLen: 1,
		Snapshots:  []*commitment.Commitment{initial, initial},
		History:    []HistoryEvent{{Kind: EventCreated}},
	}
}

// clone returns a copy safe to hand out after the ledger lock is released.
// Commitments and history events are never mutated in place once recorded,
// so the element pointers stay shared; the slices and scalar fields are
// copied.
func (a *Account) clone() *Account {
	c := *a
	c.Snapshots = append([]*commitment.Commitment(nil), a.Snapshots...)
	c.History = append([]HistoryEvent(nil), a.History...)
	return &c
}

// BalanceAt returns the balance commitment the account held at history
// length h, or ErrHistoryIndexOutOfRange if h exceeds the recorded history.
func (a *Account) BalanceAt(h uint64) (*commitment.Commitment, error) {
	if h >= uint64(len(a.Snapshots)) {
		return nil, ErrHistoryIndexOutOfRange
	}
	return a.Snapshots[h], nil
}

// debit applies the sender-side transfer rule: subtract the amount, mark
// this history slot as the latest send, and record the event.
func (a *Account) debit(amount *commitment.Commitment, id TransferID) {
	a.Balance = a.Balance.Sub(amount)
	a.LastSendIndex = a.HistoryLen
	a.record(EventSent, id)
}

// credit applies the receiving rule shared by Accept (on the receiver) and
// Refund (on the sender): add the amount back without touching
// LastSendIndex.
func (a *Account) credit(amount *commitment.Commitment, kind HistoryEventKind, id TransferID) {
	a.Balance = a.Balance.Add(amount)
	a.record(kind, id)
}

func (a *Account) record(kind HistoryEventKind, id TransferID) {
	a.HistoryLen++
	a.Snapshots = append(a.Snapshots, a.Balance)
	a.History = append(a.History, HistoryEvent{Kind: kind, TransferID: id})
}
