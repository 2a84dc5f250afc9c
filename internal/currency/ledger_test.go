package currency

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veilcash/internal/commitment"
	"veilcash/internal/envelope"
	"veilcash/internal/rangeproof"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.InitialBalance = 1000
	return cfg
}

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := NewLedger(NewMemStore(), testConfig())
	require.NoError(t, err)
	return l
}

// newWallet creates a keypair, registers its account, and returns the
// wallet's secret state.
func newWallet(t *testing.T, l *Ledger) *SecretState {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	s := NewSecretState(priv, l.Config())
	require.NoError(t, l.CreateAccount(s.PublicKey()))
	return s
}

func TestCreateAccount(t *testing.T) {
	l := newTestLedger(t)
	alice := newWallet(t, l)

	acct, err := l.AccountState(alice.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), acct.HistoryLen)
	assert.Equal(t, uint64(0), acct.LastSendIndex)
	assert.True(t, acct.Balance.Verify(commitment.ZeroOpening(testConfig().InitialBalance)),
		"initial balance should open to the configured grant")
	assert.True(t, alice.CorrespondsTo(acct))

	assert.ErrorIs(t, l.CreateAccount(alice.PublicKey()), ErrAccountExists)
}

func TestTransferAcceptLifecycle(t *testing.T) {
	l := newTestLedger(t)
	alice := newWallet(t, l)
	bob := newWallet(t, l)

	tr, err := alice.CreateTransfer(bob.PublicKey(), 300, 10)
	require.NoError(t, err)

	id, err := l.SubmitTransfer(tr)
	require.NoError(t, err)
	require.NoError(t, alice.ApplyTransfer(id))

	// Sender side: amount gone, history advanced, send slot marked.
	sender, err := l.AccountState(alice.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), sender.HistoryLen)
	assert.Equal(t, uint64(1), sender.LastSendIndex)
	assert.True(t, alice.CorrespondsTo(sender))
	assert.Equal(t, uint64(700), alice.Balance())

	// Receiver side: nothing yet, but the transfer shows as unaccepted.
	assert.Equal(t, []TransferID{id}, l.Unaccepted(bob.PublicKey()))

	accept, err := bob.BuildAccept(tr)
	require.NoError(t, err)
	require.NoError(t, l.SubmitAccept(accept))

	opening, err := bob.VerifyIncoming(tr)
	require.NoError(t, err)
	require.NoError(t, bob.ApplyIncoming(opening))
	alice.ForgetTransfer(id)

	receiver, err := l.AccountState(bob.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), receiver.HistoryLen)
	assert.Equal(t, uint64(0), receiver.LastSendIndex)
	assert.True(t, bob.CorrespondsTo(receiver))
	assert.Equal(t, uint64(1300), bob.Balance())
	assert.Empty(t, l.Unaccepted(bob.PublicKey()))

	rec, err := l.TransferRecord(id)
	require.NoError(t, err)
	assert.Equal(t, StateAccepted, rec.State)

	// Lifecycle exclusivity: a second accept changes nothing.
	again, err := bob.BuildAccept(tr)
	require.NoError(t, err)
	assert.ErrorIs(t, l.SubmitAccept(again), ErrAlreadyFinalized)
}

func TestTransferFromSnapshotState(t *testing.T) {
	// Sender with balance 100, history_len=3, last_send_index=0 submits a
	// transfer of 30 referencing history length 3: committed as Pending,
	// balance drops to 70, last_send_index=3, history_len=4.
	cfg := testConfig()
	cfg.InitialBalance = 100
	store := NewMemStore()
	l, err := NewLedger(store, cfg)
	require.NoError(t, err)

	_, alicePriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	alice := NewSecretState(alicePriv, cfg)
	require.NoError(t, l.CreateAccount(alice.PublicKey()))
	_, bobPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	bob := NewSecretState(bobPriv, cfg)
	require.NoError(t, l.CreateAccount(bob.PublicKey()))

	// Advance Alice's history with two zero-value credit events so the
	// ledger and wallet sit at history_len=3 without moving funds. Mutate
	// the stored account directly: AccountState returns a copy.
	acct, ok := store.Account(KeyOf(alice.PublicKey()))
	require.True(t, ok)
	zero := commitment.WithNoBlinding(0)
	acct.credit(zero, EventReceived, TransferID{})
	acct.credit(zero, EventReceived, TransferID{})
	require.NoError(t, alice.ApplyIncoming(commitment.ZeroOpening(0)))
	require.NoError(t, alice.ApplyIncoming(commitment.ZeroOpening(0)))

	require.Equal(t, uint64(3), acct.HistoryLen)
	require.Equal(t, uint64(0), acct.LastSendIndex)
	require.True(t, alice.CorrespondsTo(acct))

	tr, err := alice.CreateTransfer(bob.PublicKey(), 30, 10)
	require.NoError(t, err)
	require.Equal(t, uint64(3), tr.HistoryLen)

	id, err := l.SubmitTransfer(tr)
	require.NoError(t, err)
	require.NoError(t, alice.ApplyTransfer(id))

	acct, err = l.AccountState(alice.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(4), acct.HistoryLen)
	assert.Equal(t, uint64(3), acct.LastSendIndex)
	assert.True(t, acct.Balance.Verify(alice.balance))
	assert.Equal(t, uint64(70), alice.Balance())

	rec, err := l.TransferRecord(id)
	require.NoError(t, err)
	assert.Equal(t, StatePending, rec.State)
}

func TestConcurrentSendRejected(t *testing.T) {
	l := newTestLedger(t)
	alice := newWallet(t, l)
	bob := newWallet(t, l)

	first, err := alice.CreateTransfer(bob.PublicKey(), 100, 10)
	require.NoError(t, err)
	_, err = l.SubmitTransfer(first)
	require.NoError(t, err)

	// A second transfer built before the first resolved references the
	// same balance snapshot. It must be rejected even though the balance
	// would comfortably cover both amounts.
	second, err := alice.CreateTransfer(bob.PublicKey(), 100, 10)
	require.NoError(t, err)
	_, err = l.SubmitTransfer(second)
	assert.ErrorIs(t, err, ErrStaleBalanceReference)
}

func TestHistoryIndexOutOfRange(t *testing.T) {
	l := newTestLedger(t)
	alice := newWallet(t, l)
	bob := newWallet(t, l)

	// A wallet that believes it is further along than the ledger produces
	// a reference the ledger cannot resolve.
	alice.historyLen = 7
	tr, err := alice.CreateTransfer(bob.PublicKey(), 10, 10)
	require.NoError(t, err)
	_, err = l.SubmitTransfer(tr)
	assert.ErrorIs(t, err, ErrHistoryIndexOutOfRange)
}

func TestForgedAcceptRejected(t *testing.T) {
	l := newTestLedger(t)
	alice := newWallet(t, l)
	bob := newWallet(t, l)

	tr, err := alice.CreateTransfer(bob.PublicKey(), 200, 10)
	require.NoError(t, err)
	id, err := l.SubmitTransfer(tr)
	require.NoError(t, err)

	// Bob forges an opening and proves knowledge of the wrong pair.
	opening, err := bob.VerifyIncoming(tr)
	require.NoError(t, err)
	forged := &commitment.Opening{Value: opening.Value + 1, Blinding: opening.Blinding}
	knowledge, err := commitment.ProveKnowledge(forged, KnowledgeContext(id, bob.PublicKey()))
	require.NoError(t, err)
	accept := &Accept{TransferID: id, Receiver: bob.PublicKey(), Knowledge: knowledge}
	accept.Sign(bob.priv)

	assert.ErrorIs(t, l.SubmitAccept(accept), ErrOpeningMismatch)

	// No state change: still pending, receiver untouched.
	rec, err := l.TransferRecord(id)
	require.NoError(t, err)
	assert.Equal(t, StatePending, rec.State)
	receiver, err := l.AccountState(bob.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), receiver.HistoryLen)
	assert.True(t, receiver.Balance.Verify(commitment.ZeroOpening(testConfig().InitialBalance)))
}

func TestTimelockRefund(t *testing.T) {
	l := newTestLedger(t)
	alice := newWallet(t, l)
	bob := newWallet(t, l)

	l.OnHeightAdvance(100)
	tr, err := alice.CreateTransfer(bob.PublicKey(), 400, 50)
	require.NoError(t, err)
	id, err := l.SubmitTransfer(tr)
	require.NoError(t, err)
	require.NoError(t, alice.ApplyTransfer(id))
	assert.Equal(t, uint64(600), alice.Balance())

	// Strictly inside the window nothing happens, including the deadline
	// height itself.
	for h := uint64(101); h <= 150; h++ {
		assert.Empty(t, l.OnHeightAdvance(h))
	}

	refunded := l.OnHeightAdvance(151)
	require.Equal(t, []TransferID{id}, refunded)
	require.NoError(t, alice.ApplyRefund(id))

	sender, err := l.AccountState(alice.PublicKey())
	require.NoError(t, err)
	assert.True(t, alice.CorrespondsTo(sender))
	assert.Equal(t, uint64(1000), alice.Balance())

	rec, err := l.TransferRecord(id)
	require.NoError(t, err)
	assert.Equal(t, StateRefunded, rec.State)

	// An accept arriving after the refund fails and changes nothing.
	accept, err := bob.BuildAccept(tr)
	require.NoError(t, err)
	assert.ErrorIs(t, l.SubmitAccept(accept), ErrAlreadyFinalized)
}

func TestAcceptInsideWindowNeverRefunded(t *testing.T) {
	l := newTestLedger(t)
	alice := newWallet(t, l)
	bob := newWallet(t, l)

	l.OnHeightAdvance(10)
	tr, err := alice.CreateTransfer(bob.PublicKey(), 50, 5)
	require.NoError(t, err)
	id, err := l.SubmitTransfer(tr)
	require.NoError(t, err)

	// Accept lands at the deadline height; the refund sweep that follows
	// must skip the finalized transfer.
	l.OnHeightAdvance(15)
	accept, err := bob.BuildAccept(tr)
	require.NoError(t, err)
	require.NoError(t, l.SubmitAccept(accept))

	assert.Empty(t, l.OnHeightAdvance(16))

	rec, err := l.TransferRecord(id)
	require.NoError(t, err)
	assert.Equal(t, StateAccepted, rec.State)

	// Balance credited exactly once.
	opening, err := bob.VerifyIncoming(tr)
	require.NoError(t, err)
	require.NoError(t, bob.ApplyIncoming(opening))
	receiver, err := l.AccountState(bob.PublicKey())
	require.NoError(t, err)
	assert.True(t, bob.CorrespondsTo(receiver))
}

func TestConservation(t *testing.T) {
	l := newTestLedger(t)
	alice := newWallet(t, l)
	bob := newWallet(t, l)
	carol := newWallet(t, l)
	wallets := []*SecretState{alice, bob, carol}

	checkConservation := func() {
		t.Helper()
		var total uint64
		for _, w := range wallets {
			acct, err := l.AccountState(w.PublicKey())
			require.NoError(t, err)
			require.True(t, w.CorrespondsTo(acct), "wallet diverged from ledger")
			total += w.Balance()
		}
		// Pending transfers hold amounts that belong to no account yet.
		for _, w := range wallets {
			for _, o := range w.outgoing {
				total += o.Value
			}
		}
		assert.Equal(t, uint64(3000), total)
	}
	checkConservation()

	// Transfer accepted: Alice -> Bob, 250.
	tr1, err := alice.CreateTransfer(bob.PublicKey(), 250, 10)
	require.NoError(t, err)
	id1, err := l.SubmitTransfer(tr1)
	require.NoError(t, err)
	require.NoError(t, alice.ApplyTransfer(id1))
	checkConservation()

	a1, err := bob.BuildAccept(tr1)
	require.NoError(t, err)
	require.NoError(t, l.SubmitAccept(a1))
	o1, err := bob.VerifyIncoming(tr1)
	require.NoError(t, err)
	require.NoError(t, bob.ApplyIncoming(o1))
	alice.ForgetTransfer(id1)
	checkConservation()

	// Transfer refunded: Carol -> Alice, 500, never accepted.
	tr2, err := carol.CreateTransfer(alice.PublicKey(), 500, 5)
	require.NoError(t, err)
	id2, err := l.SubmitTransfer(tr2)
	require.NoError(t, err)
	require.NoError(t, carol.ApplyTransfer(id2))
	checkConservation()

	require.Equal(t, []TransferID{id2}, l.OnHeightAdvance(6))
	require.NoError(t, carol.ApplyRefund(id2))
	checkConservation()
}

func TestSubmitTransferStatelessRejections(t *testing.T) {
	l := newTestLedger(t)
	alice := newWallet(t, l)
	bob := newWallet(t, l)

	t.Run("self transfer", func(t *testing.T) {
		tr, err := alice.CreateTransfer(alice.PublicKey(), 10, 10)
		require.NoError(t, err)
		_, err = l.SubmitTransfer(tr)
		assert.ErrorIs(t, err, ErrSelfTransfer)
	})

	t.Run("timelock out of bounds", func(t *testing.T) {
		tooShort, err := alice.CreateTransfer(bob.PublicKey(), 10, l.Config().MinTimelock-1)
		require.NoError(t, err)
		_, err = l.SubmitTransfer(tooShort)
		assert.ErrorIs(t, err, ErrTimelockOutOfBounds)

		tooLong, err := alice.CreateTransfer(bob.PublicKey(), 10, l.Config().MaxTimelock+1)
		require.NoError(t, err)
		_, err = l.SubmitTransfer(tooLong)
		assert.ErrorIs(t, err, ErrTimelockOutOfBounds)
	})

	t.Run("tampered body", func(t *testing.T) {
		tr, err := alice.CreateTransfer(bob.PublicKey(), 10, 10)
		require.NoError(t, err)
		tr.Timelock++
		_, err = l.SubmitTransfer(tr)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("duplicate", func(t *testing.T) {
		tr, err := alice.CreateTransfer(bob.PublicKey(), 10, 10)
		require.NoError(t, err)
		id, err := l.SubmitTransfer(tr)
		require.NoError(t, err)
		require.NoError(t, alice.ApplyTransfer(id))
		_, err = l.SubmitTransfer(tr)
		assert.ErrorIs(t, err, ErrDuplicateTransfer)
	})

	t.Run("unknown receiver", func(t *testing.T) {
		strangerPub, _, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		tr, err := alice.CreateTransfer(strangerPub, 10, 10)
		require.NoError(t, err)
		_, err = l.SubmitTransfer(tr)
		assert.ErrorIs(t, err, ErrUnknownReceiver)
	})

	t.Run("unknown sender", func(t *testing.T) {
		_, strangerPriv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		stranger := NewSecretState(strangerPriv, l.Config())
		tr, err := stranger.CreateTransfer(bob.PublicKey(), 10, 10)
		require.NoError(t, err)
		_, err = l.SubmitTransfer(tr)
		assert.ErrorIs(t, err, ErrUnknownSender)
	})
}

func TestInsufficientBalanceProofRejected(t *testing.T) {
	l := newTestLedger(t)
	alice := newWallet(t, l)
	bob := newWallet(t, l)

	// Build a transfer claiming more than the balance by assembling it by
	// hand: the sufficient-balance proof then covers a negative value and
	// cannot verify.
	amount := l.Config().InitialBalance * 2
	amountComm, amountOpening, err := commitment.New(amount)
	require.NoError(t, err)
	shifted, err := amountOpening.Sub(commitment.ZeroOpening(l.Config().MinTransferAmount))
	require.NoError(t, err)
	amountProof, err := rangeproof.Prove(shifted, rangeproof.DefaultBits)
	require.NoError(t, err)

	// The honest remainder underflows, so a cheater proves some other
	// opening of their choosing; it cannot match the commitment algebra.
	_, bogusOpening, err := commitment.New(1)
	require.NoError(t, err)
	bogusProof, err := rangeproof.Prove(bogusOpening, rangeproof.DefaultBits)
	require.NoError(t, err)

	sealed, err := envelope.Seal(amountOpening.Bytes(), alice.priv, bob.PublicKey())
	require.NoError(t, err)

	tr := &Transfer{
		Sender:                 alice.PublicKey(),
		Receiver:               bob.PublicKey(),
		Amount:                 amountComm,
		AmountProof:            amountProof,
		SufficientBalanceProof: bogusProof,
		HistoryLen:             1,
		Timelock:               10,
		Envelope:               sealed,
	}
	tr.Sign(alice.priv)

	_, err = l.SubmitTransfer(tr)
	assert.ErrorIs(t, err, ErrInsufficientBalanceProof)
}

func TestLedgerPersistence(t *testing.T) {
	l := newTestLedger(t)
	alice := newWallet(t, l)
	bob := newWallet(t, l)

	l.OnHeightAdvance(20)
	tr, err := alice.CreateTransfer(bob.PublicKey(), 150, 5)
	require.NoError(t, err)
	id, err := l.SubmitTransfer(tr)
	require.NoError(t, err)
	require.NoError(t, alice.ApplyTransfer(id))

	path := filepath.Join(t.TempDir(), "ledger.json")
	require.NoError(t, l.SaveToFile(path))

	loaded, err := LoadLedgerFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(20), loaded.CurrentHeight())

	sender, err := loaded.AccountState(alice.PublicKey())
	require.NoError(t, err)
	assert.True(t, alice.CorrespondsTo(sender))

	rec, err := loaded.TransferRecord(id)
	require.NoError(t, err)
	assert.Equal(t, StatePending, rec.State)
	assert.Equal(t, []TransferID{id}, loaded.Unaccepted(bob.PublicKey()))

	// The expiry schedule survives persistence: the loaded ledger still
	// refunds the transfer when its window closes.
	refunded := loaded.OnHeightAdvance(26)
	assert.Equal(t, []TransferID{id}, refunded)
}

func TestAccessorsReturnCopies(t *testing.T) {
	l := newTestLedger(t)
	alice := newWallet(t, l)
	bob := newWallet(t, l)

	before, err := l.AccountState(alice.PublicKey())
	require.NoError(t, err)

	tr, err := alice.CreateTransfer(bob.PublicKey(), 300, 10)
	require.NoError(t, err)

	// Readers hold and serialize accessor results while submissions run;
	// the returned objects must be detached from the entries the ledger
	// keeps mutating under its lock.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			acct, err := l.AccountState(alice.PublicKey())
			if err != nil {
				continue
			}
			if _, err := json.Marshal(acct); err != nil {
				t.Errorf("marshalling account state failed: %v", err)
				return
			}
		}
	}()
	id, err := l.SubmitTransfer(tr)
	require.NoError(t, err)
	<-done

	// The entry fetched before the submission does not observe it.
	assert.Equal(t, uint64(1), before.HistoryLen)
	assert.Len(t, before.Snapshots, 2)

	pending, err := l.TransferRecord(id)
	require.NoError(t, err)
	accept, err := bob.BuildAccept(tr)
	require.NoError(t, err)
	require.NoError(t, l.SubmitAccept(accept))
	assert.Equal(t, StatePending, pending.State,
		"record fetched before the accept must not change state")

	// Writes to a returned copy must not reach the ledger.
	rec, err := l.TransferRecord(id)
	require.NoError(t, err)
	rec.State = StateRefunded
	fresh, err := l.TransferRecord(id)
	require.NoError(t, err)
	assert.Equal(t, StateAccepted, fresh.State)

	acct, err := l.AccountState(alice.PublicKey())
	require.NoError(t, err)
	acct.HistoryLen = 99
	acct.Snapshots = append(acct.Snapshots, acct.Balance)
	reread, err := l.AccountState(alice.PublicKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), reread.HistoryLen)
	assert.Len(t, reread.Snapshots, 3)
}
