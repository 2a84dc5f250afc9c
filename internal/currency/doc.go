// Package currency implements a confidential-transfer ledger: account
// balances and transfer amounts exist only as Pedersen commitments, and
// every transfer carries zero-knowledge range proofs showing the amount is
// positive and covered by the sender's balance. Transfers resolve through a
// three-state lifecycle (Pending, then Accepted or Refunded) driven by
// receiver accepts and a block-height timelock that returns unclaimed funds
// to their sender.
package currency
