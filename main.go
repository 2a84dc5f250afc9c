// main.go - Walkthrough of the confidential-transfer lifecycle.
//
// This runs the full protocol on a single in-process ledger:
//   - Alice, Bob, and Carol create accounts (the initial grant is public)
//   - Alice sends Bob a hidden amount; the ledger validates range proofs
//     without ever learning the value
//   - A second send built against Alice's stale history is rejected
//   - Bob decrypts the disclosure envelope, checks the opening, and accepts
//   - Carol sends an amount nobody accepts; the timelock refunds it
//
// Usage:
//
//	go run main.go
//
// The resulting ledger is saved to demo_ledger.json.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"log"

	"veilcash/internal/currency"
)

func main() {
	log.Println("=== Confidential Transfer Walkthrough ===")

	cfg := currency.DefaultConfig()
	ledger, err := currency.NewLedger(currency.NewMemStore(), cfg)
	if err != nil {
		log.Fatalf("ledger creation failed: %v", err)
	}

	alice := newWallet(ledger, cfg, "Alice")
	bob := newWallet(ledger, cfg, "Bob")
	carol := newWallet(ledger, cfg, "Carol")

	ledger.OnHeightAdvance(1)

	// --- Alice -> Bob, accepted -------------------------------------------
	log.Println("--- Alice sends Bob 40000 (hidden on the ledger) ---")
	transfer, err := alice.CreateTransfer(bob.PublicKey(), 40_000, 20)
	if err != nil {
		log.Fatalf("transfer construction failed: %v", err)
	}
	// Built before the first send resolves, so it references the same
	// balance snapshot. The history guard must reject it.
	stale, err := alice.CreateTransfer(carol.PublicKey(), 10, 20)
	if err != nil {
		log.Fatalf("transfer construction failed: %v", err)
	}

	id, err := ledger.SubmitTransfer(transfer)
	if err != nil {
		log.Fatalf("transfer rejected: %v", err)
	}
	if err := alice.ApplyTransfer(id); err != nil {
		log.Fatalf("applying transfer locally failed: %v", err)
	}
	log.Printf("Committed transfer %s as pending", id)

	if _, err := ledger.SubmitTransfer(stale); err != nil {
		log.Printf("Concurrent second send rejected as expected: %v", err)
	} else {
		log.Fatal("concurrent second send was not rejected")
	}
	alice.ForgetTransfer(stale.ID())

	opening, err := bob.VerifyIncoming(transfer)
	if err != nil {
		log.Fatalf("Bob could not verify the transfer: %v", err)
	}
	log.Printf("Bob decrypted the envelope: amount=%d", opening.Value)

	accept, err := bob.BuildAccept(transfer)
	if err != nil {
		log.Fatalf("accept construction failed: %v", err)
	}
	if err := ledger.SubmitAccept(accept); err != nil {
		log.Fatalf("accept rejected: %v", err)
	}
	if err := bob.ApplyIncoming(opening); err != nil {
		log.Fatalf("applying incoming transfer failed: %v", err)
	}
	alice.ForgetTransfer(id)
	log.Printf("Accepted; Alice=%d Bob=%d (values known only to their wallets)",
		alice.Balance(), bob.Balance())

	// --- Carol -> Alice, refunded -----------------------------------------
	log.Println("--- Carol sends Alice 5000, never accepted ---")
	neglected, err := carol.CreateTransfer(alice.PublicKey(), 5_000, cfg.MinTimelock)
	if err != nil {
		log.Fatalf("transfer construction failed: %v", err)
	}
	nid, err := ledger.SubmitTransfer(neglected)
	if err != nil {
		log.Fatalf("transfer rejected: %v", err)
	}
	if err := carol.ApplyTransfer(nid); err != nil {
		log.Fatalf("applying transfer locally failed: %v", err)
	}

	expiry := ledger.CurrentHeight() + cfg.MinTimelock + 1
	for h := ledger.CurrentHeight() + 1; h <= expiry; h++ {
		for _, refunded := range ledger.OnHeightAdvance(h) {
			log.Printf("Height %d: refunded transfer %s", h, refunded)
			if err := carol.ApplyRefund(refunded); err != nil {
				log.Fatalf("applying refund failed: %v", err)
			}
		}
	}
	log.Printf("Carol's balance restored: %d", carol.Balance())

	// --- Wrap up ----------------------------------------------------------
	wallets := map[string]*currency.SecretState{"Alice": alice, "Bob": bob, "Carol": carol}
	for name, w := range wallets {
		acct, err := ledger.AccountState(w.PublicKey())
		if err != nil {
			log.Fatalf("account lookup failed: %v", err)
		}
		if !w.CorrespondsTo(acct) {
			log.Fatalf("%s's wallet diverged from the ledger", name)
		}
		log.Printf("%s: balance=%d history_len=%d", name, w.Balance(), acct.HistoryLen)
	}

	if err := ledger.SaveToFile("demo_ledger.json"); err != nil {
		log.Fatalf("ledger save failed: %v", err)
	}
	log.Println("Ledger saved to demo_ledger.json")
}

func newWallet(l *currency.Ledger, cfg currency.Config, name string) *currency.SecretState {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		log.Fatalf("key generation for %s failed: %v", name, err)
	}
	w := currency.NewSecretState(priv, cfg)
	if err := l.CreateAccount(w.PublicKey()); err != nil {
		log.Fatalf("account creation for %s failed: %v", name, err)
	}
	log.Printf("%s joined with a public grant of %d", name, cfg.InitialBalance)
	return w
}
