// errors.go - rejection conditions for ledger operations.
//
// Every rejection is local to the offending transaction: the ledger never
// mutates state before validation completes, so a returned error means
// nothing changed. Cryptographic rejections (bad proofs, mismatched
// openings) indicate adversarial or corrupted input and are never worth
// retrying; consistency rejections (stale history references, finalized
// transfers) mean the caller must rebuild against fresher state.

package currency

import "errors"

var (
	// ErrUnknownSender is returned when a transfer names a sender with no
	// ledger account.
	ErrUnknownSender = errors.New("sender account not found")
	// ErrUnknownReceiver is returned when a transfer names a receiver with
	// no ledger account.
	ErrUnknownReceiver = errors.New("receiver account not found")
	// ErrUnknownTransfer is returned when an accept references a transfer
	// id the ledger has never seen.
	ErrUnknownTransfer = errors.New("transfer not found")
	// ErrAccountExists is returned when creating an account for a key that
	// already has one.
	ErrAccountExists = errors.New("account already exists")

	// ErrInvalidSignature is returned when a transaction's signature does
	// not verify under the key it names.
	ErrInvalidSignature = errors.New("invalid transaction signature")
	// ErrSelfTransfer is returned when sender and receiver are the same key.
	ErrSelfTransfer = errors.New("transfer to self")
	// ErrTimelockOutOfBounds is returned when a transfer's timelock falls
	// outside the configured window.
	ErrTimelockOutOfBounds = errors.New("timelock out of bounds")
	// ErrDuplicateTransfer is returned when a transfer id is already known.
	ErrDuplicateTransfer = errors.New("duplicate transfer")

	// ErrInvalidAmountProof is returned when the non-negativity proof over
	// the (minimum-shifted) amount commitment fails.
	ErrInvalidAmountProof = errors.New("amount range proof rejected")
	// ErrInsufficientBalanceProof is returned when the proof that the
	// referenced balance covers the amount fails.
	ErrInsufficientBalanceProof = errors.New("sufficient-balance proof rejected")
	// ErrHistoryIndexOutOfRange is returned when a transfer references a
	// history length beyond the sender's recorded history.
	ErrHistoryIndexOutOfRange = errors.New("history index out of range")
	// ErrStaleBalanceReference is returned when a transfer's history
	// reference overlaps the sender's last outgoing transfer; accepting it
	// could double-spend against the same balance snapshot.
	ErrStaleBalanceReference = errors.New("stale balance reference")

	// ErrAlreadyFinalized is returned when an accept references a transfer
	// that was already accepted or refunded.
	ErrAlreadyFinalized = errors.New("transfer already finalized")
	// ErrUnauthorizedAccept is returned when an accept is not signed by the
	// transfer's receiver.
	ErrUnauthorizedAccept = errors.New("accept not authorized by receiver")
	// ErrOpeningMismatch is returned when an accept's knowledge proof does
	// not match the transfer's amount commitment, or when a decrypted
	// envelope does not open the commitment it travelled with.
	ErrOpeningMismatch = errors.New("opening does not match commitment")
)
