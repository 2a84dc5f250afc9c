// secrets.go - wallet-side secret state.
//
// The ledger only ever sees commitments; the opening of an account's
// balance lives here, with the keyholder. SecretState mirrors the ledger's
// update rules over openings instead of commitments, so the local balance
// opening always matches the on-ledger balance commitment as long as the
// wallet applies every event that touches its account.

package currency

import (
	"crypto/ed25519"
	"fmt"

	"veilcash/internal/commitment"
	"veilcash/internal/envelope"
	"veilcash/internal/rangeproof"
)

// SecretState is the private counterpart of one ledger account.
type SecretState struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	cfg  Config

	balance    *commitment.Opening
	historyLen uint64

	// outgoing holds the openings of this wallet's unresolved transfers,
	// needed to restore the balance opening if one is refunded.
	outgoing map[TransferID]*commitment.Opening
}

// NewSecretState creates the secret state for a freshly created account:
// the initial balance grant with a zero blinding factor, history length 1
// (the creation event).
func NewSecretState(priv ed25519.PrivateKey, cfg Config) *SecretState {
	return &SecretState{
		priv:       priv,
		pub:        priv.Public().(ed25519.PublicKey),
		cfg:        cfg,
		balance:    commitment.ZeroOpening(cfg.InitialBalance),
		historyLen: 1,
		outgoing:   make(map[TransferID]*commitment.Opening),
	}
}

// PublicKey returns the wallet's account key.
func (s *SecretState) PublicKey() ed25519.PublicKey {
	return s.pub
}

// Balance returns the currently known balance value.
func (s *SecretState) Balance() uint64 {
	return s.balance.Value
}

// HistoryLen returns the history length the wallet has applied up to.
func (s *SecretState) HistoryLen() uint64 {
	return s.historyLen
}

// CorrespondsTo reports whether the wallet's opening still matches the
// ledger entry. False means the wallet missed an event (or the ledger
// diverged) and must not build transfers until resynchronized.
func (s *SecretState) CorrespondsTo(acct *Account) bool {
	return acct.HistoryLen == s.historyLen && acct.Balance.Verify(s.balance)
}

// CreateTransfer builds a signed transfer of amount to receiver. The
// wallet's state is not modified; call ApplyTransfer once the ledger
// commits it. Fails if the amount is below the configured minimum or
// exceeds the known balance: an honest wallet never submits a transfer
// whose proofs could not be constructed.
func (s *SecretState) CreateTransfer(receiver ed25519.PublicKey, amount, timelock uint64) (*Transfer, error) {
	if amount < s.cfg.MinTransferAmount {
		return nil, fmt.Errorf("amount %d below minimum %d", amount, s.cfg.MinTransferAmount)
	}
	if amount > s.balance.Value {
		return nil, fmt.Errorf("amount %d exceeds balance %d", amount, s.balance.Value)
	}

	amountComm, amountOpening, err := commitment.New(amount)
	if err != nil {
		return nil, fmt.Errorf("amount commitment failed: %w", err)
	}

	// Proof that amount >= minimum: range proof over the opening shifted
	// down by the public minimum.
	shifted, err := amountOpening.Sub(commitment.ZeroOpening(s.cfg.MinTransferAmount))
	if err != nil {
		return nil, fmt.Errorf("amount below minimum: %w", err)
	}
	amountProof, err := rangeproof.Prove(shifted, rangeproof.DefaultBits)
	if err != nil {
		return nil, fmt.Errorf("amount proof construction failed: %w", err)
	}

	// Proof that the balance at the wallet's history length covers the
	// amount. The wallet's opening corresponds to exactly that snapshot.
	remainder, err := s.balance.Sub(amountOpening)
	if err != nil {
		return nil, fmt.Errorf("amount exceeds balance: %w", err)
	}
	balanceProof, err := rangeproof.Prove(remainder, rangeproof.DefaultBits)
	if err != nil {
		return nil, fmt.Errorf("balance proof construction failed: %w", err)
	}

	sealed, err := envelope.Seal(amountOpening.Bytes(), s.priv, receiver)
	if err != nil {
		return nil, fmt.Errorf("envelope seal failed: %w", err)
	}

	t := &Transfer{
		Sender:                 s.pub,
		Receiver:               receiver,
		Amount:                 amountComm,
		AmountProof:            amountProof,
		SufficientBalanceProof: balanceProof,
		HistoryLen:             s.historyLen,
		Timelock:               timelock,
		Envelope:               sealed,
	}
	t.Sign(s.priv)

	s.outgoing[t.ID()] = amountOpening
	return t, nil
}

// ApplyTransfer applies the sender-side effect of a committed outgoing
// transfer: subtract its opening from the balance and advance history.
func (s *SecretState) ApplyTransfer(id TransferID) error {
	opening, ok := s.outgoing[id]
	if !ok {
		return fmt.Errorf("no opening recorded for transfer %s", id)
	}
	balance, err := s.balance.Sub(opening)
	if err != nil {
		return fmt.Errorf("balance underflow applying transfer %s: %w", id, err)
	}
	s.balance = balance
	s.historyLen++
	return nil
}

// ApplyRefund restores a refunded outgoing transfer to the balance.
func (s *SecretState) ApplyRefund(id TransferID) error {
	opening, ok := s.outgoing[id]
	if !ok {
		return fmt.Errorf("no opening recorded for transfer %s", id)
	}
	balance, err := s.balance.Add(opening)
	if err != nil {
		return fmt.Errorf("balance overflow applying refund %s: %w", id, err)
	}
	delete(s.outgoing, id)
	s.balance = balance
	s.historyLen++
	return nil
}

// ForgetTransfer discards the stashed opening of an accepted outgoing
// transfer. The amount is gone for good; only the history advances.
func (s *SecretState) ForgetTransfer(id TransferID) {
	delete(s.outgoing, id)
}

// RecoverOutgoing re-derives the opening of one of this wallet's own
// transfers from its envelope. Symmetric key agreement means the sender
// can open what it sealed, which is how in-flight amounts survive a
// wallet restart.
func (s *SecretState) RecoverOutgoing(t *Transfer) (*commitment.Opening, error) {
	payload, err := envelope.Open(t.Envelope, s.priv, t.Receiver)
	if err != nil {
		return nil, err
	}
	opening, err := commitment.OpeningFromBytes(payload)
	if err != nil {
		return nil, err
	}
	if !t.Amount.Verify(opening) {
		return nil, ErrOpeningMismatch
	}
	s.outgoing[t.ID()] = opening
	return opening, nil
}

// VerifyIncoming decrypts and checks an incoming transfer's envelope.
// It returns the amount opening when the envelope contents genuinely open
// the transfer's commitment. A transfer that fails here must be left
// alone: its timelock will eventually refund the sender.
func (s *SecretState) VerifyIncoming(t *Transfer) (*commitment.Opening, error) {
	payload, err := envelope.Open(t.Envelope, s.priv, t.Sender)
	if err != nil {
		return nil, err
	}
	opening, err := commitment.OpeningFromBytes(payload)
	if err != nil {
		return nil, err
	}
	if !t.Amount.Verify(opening) {
		return nil, ErrOpeningMismatch
	}
	if opening.Value < s.cfg.MinTransferAmount {
		return nil, ErrOpeningMismatch
	}
	return opening, nil
}

// BuildAccept verifies an incoming transfer and produces the signed accept
// for it, including the proof that the wallet knows the amount opening.
func (s *SecretState) BuildAccept(t *Transfer) (*Accept, error) {
	opening, err := s.VerifyIncoming(t)
	if err != nil {
		return nil, err
	}
	id := t.ID()
	knowledge, err := commitment.ProveKnowledge(opening, KnowledgeContext(id, s.pub))
	if err != nil {
		return nil, fmt.Errorf("knowledge proof construction failed: %w", err)
	}
	a := &Accept{
		TransferID: id,
		Receiver:   s.pub,
		Knowledge:  knowledge,
	}
	a.Sign(s.priv)
	return a, nil
}

// ApplyIncoming applies the receiver-side effect of an accepted incoming
// transfer.
func (s *SecretState) ApplyIncoming(opening *commitment.Opening) error {
	balance, err := s.balance.Add(opening)
	if err != nil {
		return fmt.Errorf("balance overflow applying incoming transfer: %w", err)
	}
	s.balance = balance
	s.historyLen++
	return nil
}
