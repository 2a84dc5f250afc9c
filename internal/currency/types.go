// types.go - transactions and identifiers.
//
// Transfers and accepts are signed by their originator over a Keccak digest
// of their canonical field encoding. The transfer id is the digest of the
// signed payload, so it is stable across serialization formats.

package currency

import (
	"crypto/ed25519"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"

	"veilcash/internal/commitment"
	"veilcash/internal/rangeproof"
)

// AccountKey is an Ed25519 public key in comparable form, used to key
// account lookups.
type AccountKey [ed25519.PublicKeySize]byte

// KeyOf converts a public key to its comparable form.
func KeyOf(pub ed25519.PublicKey) AccountKey {
	var k AccountKey
	copy(k[:], pub)
	return k
}

// PublicKey returns the key in its crypto/ed25519 form.
func (k AccountKey) PublicKey() ed25519.PublicKey {
	return ed25519.PublicKey(k[:])
}

// String returns the hex form of the key.
func (k AccountKey) String() string {
	return hex.EncodeToString(k[:])
}

// MarshalText encodes the key as hex; required so AccountKey can serve as a
// JSON map key in ledger snapshots.
func (k AccountKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a hex-encoded key.
func (k *AccountKey) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil || len(raw) != len(k) {
		return errors.New("malformed account key")
	}
	copy(k[:], raw)
	return nil
}

// TransferID uniquely identifies a transfer: the Keccak digest of its
// signed payload.
type TransferID [32]byte

// String returns the hex form of the id.
func (id TransferID) String() string {
	return hex.EncodeToString(id[:])
}

// MarshalText encodes the id as hex.
func (id TransferID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText decodes a hex-encoded id.
func (id *TransferID) UnmarshalText(text []byte) error {
	raw, err := hex.DecodeString(string(text))
	if err != nil || len(raw) != len(id) {
		return errors.New("malformed transfer id")
	}
	copy(id[:], raw)
	return nil
}

// ParseTransferID decodes a transfer id from its hex form.
func ParseTransferID(s string) (TransferID, error) {
	var id TransferID
	if err := id.UnmarshalText([]byte(s)); err != nil {
		return TransferID{}, err
	}
	return id, nil
}

// Transfer moves a hidden amount from sender to receiver. The amount
// appears only as a commitment; the attached proofs let the ledger validate
// the transfer without learning the value, and the envelope lets the
// receiver (and the sender, later) recover the opening.
type Transfer struct {
	Sender   ed25519.PublicKey `json:"sender"`
	Receiver ed25519.PublicKey `json:"receiver"`

	// Amount commits to the transferred value.
	Amount *commitment.Commitment `json:"amount"`
	// AmountProof shows the amount, shifted down by the configured minimum,
	// is still in range: the value is at least the minimum.
	AmountProof *rangeproof.Proof `json:"amount_proof"`
	// SufficientBalanceProof shows the sender's balance at HistoryLen,
	// minus the amount, is in range: the referenced balance covers it.
	SufficientBalanceProof *rangeproof.Proof `json:"sufficient_balance_proof"`

	// HistoryLen is the sender's history length whose balance snapshot the
	// sufficient-balance proof was built against.
	HistoryLen uint64 `json:"history_len"`
	// Timelock is the refund delay in blocks, relative to commit height.
	Timelock uint64 `json:"timelock"`
	// Envelope is the encrypted opening of Amount, readable by both
	// parties.
	Envelope []byte `json:"envelope"`

	Signature []byte `json:"signature"`
}

// digest computes the Keccak digest the sender signs.
func (t *Transfer) digest() []byte {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte("veilcash.transfer.v1"))
	hasher.Write(t.Sender)
	hasher.Write(t.Receiver)
	hasher.Write(t.Amount.Marshal())
	hasher.Write(t.AmountProof.Marshal())
	hasher.Write(t.SufficientBalanceProof.Marshal())
	var nums [16]byte
	binary.LittleEndian.PutUint64(nums[:8], t.HistoryLen)
	binary.LittleEndian.PutUint64(nums[8:], t.Timelock)
	hasher.Write(nums[:])
	hasher.Write(t.Envelope)
	return hasher.Sum(nil)
}

// Sign signs the transfer with the sender's private key.
func (t *Transfer) Sign(priv ed25519.PrivateKey) {
	t.Signature = ed25519.Sign(priv, t.digest())
}

// wellFormed checks structural completeness before any field is dereferenced
// by validation.
func (t *Transfer) wellFormed() error {
	switch {
	case len(t.Sender) != ed25519.PublicKeySize:
		return fmt.Errorf("%w: bad sender key length", ErrInvalidSignature)
	case len(t.Receiver) != ed25519.PublicKeySize:
		return fmt.Errorf("%w: bad receiver key length", ErrInvalidSignature)
	case t.Amount == nil || t.AmountProof == nil || t.SufficientBalanceProof == nil:
		return fmt.Errorf("%w: missing commitment or proof", ErrInvalidSignature)
	}
	return nil
}

// VerifySignature checks the sender's signature over the transfer body.
func (t *Transfer) VerifySignature() error {
	if err := t.wellFormed(); err != nil {
		return err
	}
	if !ed25519.Verify(t.Sender, t.digest(), t.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// ID returns the transfer's identifier, the digest of its signed payload.
func (t *Transfer) ID() TransferID {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(t.digest())
	hasher.Write(t.Signature)
	var id TransferID
	copy(id[:], hasher.Sum(nil))
	return id
}

// Accept finalizes a pending transfer in the receiver's favor. The
// knowledge proof shows the receiver decrypted a valid opening of the
// transfer's amount commitment; without it a receiver could force
// acceptance of a transfer whose envelope holds garbage.
type Accept struct {
	TransferID TransferID                `json:"transfer_id"`
	Receiver   ed25519.PublicKey         `json:"receiver"`
	Knowledge  *commitment.KnowledgeProof `json:"knowledge"`

	Signature []byte `json:"signature"`
}

// KnowledgeContext is the context string binding an opening-knowledge proof
// to one accept: the transfer id plus the accepting key.
func KnowledgeContext(id TransferID, receiver ed25519.PublicKey) []byte {
	ctx := make([]byte, 0, len(id)+len(receiver))
	ctx = append(ctx, id[:]...)
	ctx = append(ctx, receiver...)
	return ctx
}

func (a *Accept) digest() []byte {
	hasher := sha3.NewLegacyKeccak256()
	hasher.Write([]byte("veilcash.accept.v1"))
	hasher.Write(a.TransferID[:])
	hasher.Write(a.Receiver)
	if a.Knowledge != nil {
		hasher.Write(a.Knowledge.Marshal())
	}
	return hasher.Sum(nil)
}

// Sign signs the accept with the receiver's private key.
func (a *Accept) Sign(priv ed25519.PrivateKey) {
	a.Signature = ed25519.Sign(priv, a.digest())
}

// VerifySignature checks the receiver's signature over the accept body.
func (a *Accept) VerifySignature() error {
	if len(a.Receiver) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: bad receiver key length", ErrInvalidSignature)
	}
	if !ed25519.Verify(a.Receiver, a.digest(), a.Signature) {
		return ErrInvalidSignature
	}
	return nil
}

// TransferState tracks a transfer through its lifecycle.
type TransferState uint8

const (
	// StatePending means the amount left the sender but has not been
	// claimed or returned.
	StatePending TransferState = iota
	// StateAccepted means the receiver claimed the amount. Terminal.
	StateAccepted
	// StateRefunded means the timelock expired and the amount returned to
	// the sender. Terminal.
	StateRefunded
)

// String returns the state's display name.
func (s TransferState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateAccepted:
		return "accepted"
	case StateRefunded:
		return "refunded"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// MarshalText encodes the state by name for JSON snapshots.
func (s TransferState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name.
func (s *TransferState) UnmarshalText(text []byte) error {
	switch string(text) {
	case "pending":
		*s = StatePending
	case "accepted":
		*s = StateAccepted
	case "refunded":
		*s = StateRefunded
	default:
		return fmt.Errorf("unknown transfer state %q", text)
	}
	return nil
}

// TransferRecord is a committed transfer with its ledger bookkeeping.
type TransferRecord struct {
	ID           TransferID    `json:"id"`
	Transfer     *Transfer     `json:"transfer"`
	CommitHeight uint64        `json:"commit_height"`
	State        TransferState `json:"state"`
}

// clone returns a copy safe to hand out after the ledger lock is released.
// The Transfer itself is never mutated once committed and stays shared.
func (r *TransferRecord) clone() *TransferRecord {
	c := *r
	return &c
}

// Deadline is the last height at which the transfer can still be accepted;
// past it, the next height advance refunds the sender.
func (r *TransferRecord) Deadline() uint64 {
	return r.CommitHeight + r.Transfer.Timelock
}
