// ledger.go - the transfer lifecycle state machine.
//
// The Ledger validates and applies Transfer and Accept transactions and
// evaluates timelock refunds on every height advance. Operations are
// applied one at a time under a single lock; every read observes the result
// of every prior committed operation, which is what makes the history-length
// concurrency guard sound.

package currency

import (
	"crypto/ed25519"
	"fmt"
	"sync"

	"veilcash/internal/commitment"
	"veilcash/internal/rangeproof"
)

// Ledger owns all account and transfer state for one chain.
type Ledger struct {
	mu     sync.Mutex
	store  Store
	cfg    Config
	height uint64

	// minShift is Comm(MinTransferAmount; 0), subtracted from amount
	// commitments before verifying the amount range proof. Precomputed;
	// it depends only on configuration.
	minShift *commitment.Commitment
}

// NewLedger creates a ledger over the given store.
func NewLedger(store Store, cfg Config) (*Ledger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ledger config: %w", err)
	}
	return &Ledger{
		store:    store,
		cfg:      cfg,
		minShift: commitment.WithNoBlinding(cfg.MinTransferAmount),
	}, nil
}

// Config returns the ledger's protocol parameters.
func (l *Ledger) Config() Config {
	return l.cfg
}

// CurrentHeight returns the last height delivered via OnHeightAdvance.
func (l *Ledger) CurrentHeight() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height
}

// CreateAccount registers a new account holding the initial balance. The
// initial balance commitment uses a zero blinding factor: the grant is
// public, only subsequent transfers are hidden.
func (l *Ledger) CreateAccount(pub ed25519.PublicKey) error {
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: bad key length", ErrInvalidSignature)
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	key := KeyOf(pub)
	if _, exists := l.store.Account(key); exists {
		return ErrAccountExists
	}
	l.store.PutAccount(NewAccount(pub, commitment.WithNoBlinding(l.cfg.InitialBalance)))
	return nil
}

// AccountState returns a copy of the ledger entry for a key. Submissions
// mutate the stored entry under the ledger lock, so the live object must
// never escape it.
func (l *Ledger) AccountState(pub ed25519.PublicKey) (*Account, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.store.Account(KeyOf(pub))
	if !ok {
		return nil, ErrUnknownSender
	}
	return acct.clone(), nil
}

// TransferRecord returns a copy of the committed record for a transfer id.
func (l *Ledger) TransferRecord(id TransferID) (*TransferRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.store.Transfer(id)
	if !ok {
		return nil, ErrUnknownTransfer
	}
	return rec.clone(), nil
}

// CommitHeightOf returns the height at which a transfer was committed.
func (l *Ledger) CommitHeightOf(id TransferID) (uint64, error) {
	rec, err := l.TransferRecord(id)
	if err != nil {
		return 0, err
	}
	return rec.CommitHeight, nil
}

// Unaccepted returns the pending incoming transfer ids for a receiver.
func (l *Ledger) Unaccepted(pub ed25519.PublicKey) []TransferID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.store.Unaccepted(KeyOf(pub))
}

// SubmitTransfer validates a transfer and, on success, commits it as
// Pending: the amount leaves the sender immediately, and either an Accept
// or the timelock will deliver it. Validation performs no state change
// until every check has passed.
func (l *Ledger) SubmitTransfer(t *Transfer) (TransferID, error) {
	if err := t.VerifySignature(); err != nil {
		return TransferID{}, err
	}
	if KeyOf(t.Sender) == KeyOf(t.Receiver) {
		return TransferID{}, ErrSelfTransfer
	}
	if t.Timelock < l.cfg.MinTimelock || t.Timelock > l.cfg.MaxTimelock {
		return TransferID{}, fmt.Errorf("%w: %d not in [%d, %d]",
			ErrTimelockOutOfBounds, t.Timelock, l.cfg.MinTimelock, l.cfg.MaxTimelock)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	id := t.ID()
	if _, dup := l.store.Transfer(id); dup {
		return TransferID{}, ErrDuplicateTransfer
	}
	sender, ok := l.store.Account(KeyOf(t.Sender))
	if !ok {
		return TransferID{}, ErrUnknownSender
	}
	if _, ok := l.store.Account(KeyOf(t.Receiver)); !ok {
		return TransferID{}, ErrUnknownReceiver
	}

	// The amount proof covers C_a - Comm(min; 0): in range means the
	// hidden amount is at least the configured minimum.
	if err := t.AmountProof.Verify(t.Amount.Sub(l.minShift), rangeproof.DefaultBits); err != nil {
		return TransferID{}, ErrInvalidAmountProof
	}

	// The sufficient-balance proof is anchored to the balance the sender
	// held at the claimed history length, not the live balance.
	histBalance, err := sender.BalanceAt(t.HistoryLen)
	if err != nil {
		return TransferID{}, err
	}

	// Concurrency guard: the claimed history must postdate the sender's
	// last outgoing transfer. Otherwise two transfers would be authorized
	// against overlapping balance snapshots and their combined amounts
	// could exceed the live balance.
	if t.HistoryLen <= sender.LastSendIndex {
		return TransferID{}, ErrStaleBalanceReference
	}

	if err := t.SufficientBalanceProof.Verify(histBalance.Sub(t.Amount), rangeproof.DefaultBits); err != nil {
		return TransferID{}, ErrInsufficientBalanceProof
	}

	sender.debit(t.Amount, id)
	l.store.PutAccount(sender)

	rec := &TransferRecord{
		ID:           id,
		Transfer:     t,
		CommitHeight: l.height,
		State:        StatePending,
	}
	l.store.PutTransfer(rec)
	l.store.ScheduleExpiry(rec.Deadline(), id)
	return id, nil
}

// SubmitAccept finalizes a pending transfer in the receiver's favor.
// An accept always wins over a refund that would fire at the same height:
// refunds are only evaluated on height advance, so any accept processed
// while the transfer is still Pending finalizes it as Accepted.
func (l *Ledger) SubmitAccept(a *Accept) error {
	if err := a.VerifySignature(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.store.Transfer(a.TransferID)
	if !ok {
		return ErrUnknownTransfer
	}
	if KeyOf(a.Receiver) != KeyOf(rec.Transfer.Receiver) {
		return ErrUnauthorizedAccept
	}
	if rec.State != StatePending {
		return ErrAlreadyFinalized
	}
	if a.Knowledge == nil ||
		!a.Knowledge.Verify(rec.Transfer.Amount, KnowledgeContext(a.TransferID, a.Receiver)) {
		return ErrOpeningMismatch
	}

	receiver, ok := l.store.Account(KeyOf(a.Receiver))
	if !ok {
		return ErrUnknownReceiver
	}
	receiver.credit(rec.Transfer.Amount, EventReceived, rec.ID)
	l.store.PutAccount(receiver)

	rec.State = StateAccepted
	l.store.PutTransfer(rec)
	return nil
}

// OnHeightAdvance delivers a new chain height and refunds every pending
// transfer whose timelock window has closed (deadline strictly below the
// new height). It returns the refunded transfer ids. Heights that do not
// advance the clock are ignored.
func (l *Ledger) OnHeightAdvance(height uint64) []TransferID {
	l.mu.Lock()
	defer l.mu.Unlock()

	if height <= l.height {
		return nil
	}
	l.height = height

	var refunded []TransferID
	for _, id := range l.store.TakeExpired(height) {
		rec, ok := l.store.Transfer(id)
		if !ok || rec.State != StatePending {
			// Accepted while scheduled; the expiry entry is stale.
			continue
		}
		sender, ok := l.store.Account(KeyOf(rec.Transfer.Sender))
		if !ok {
			continue
		}
		sender.credit(rec.Transfer.Amount, EventRefunded, rec.ID)
		l.store.PutAccount(sender)

		rec.State = StateRefunded
		l.store.PutTransfer(rec)
		refunded = append(refunded, id)
	}
	return refunded
}
