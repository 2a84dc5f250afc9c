// config.go - protocol parameters.

package currency

import "fmt"

// Config carries the ledger-wide protocol parameters. The defaults match
// the reference deployment; a network must agree on a single Config or
// proofs built against one minimum amount will fail verification against
// another.
type Config struct {
	// InitialBalance is the amount granted to every newly created account.
	InitialBalance uint64 `json:"initial_balance"`
	// MinTransferAmount is the smallest value a transfer may carry. It must
	// be at least 1: zero-value transfers would still consume a history
	// slot without moving funds.
	MinTransferAmount uint64 `json:"min_transfer_amount"`
	// MinTimelock and MaxTimelock bound a transfer's refund delay in
	// blocks. The lower bound gives receivers time to accept; the upper
	// bound keeps funds from being parked in Pending indefinitely.
	MinTimelock uint64 `json:"min_timelock"`
	MaxTimelock uint64 `json:"max_timelock"`
}

// DefaultConfig returns the reference parameters.
func DefaultConfig() Config {
	return Config{
		InitialBalance:    1_000_000,
		MinTransferAmount: 1,
		MinTimelock:       5,
		MaxTimelock:       1_000,
	}
}

// Validate checks the configuration for internal consistency.
func (c Config) Validate() error {
	if c.MinTransferAmount == 0 {
		return fmt.Errorf("min_transfer_amount must be positive")
	}
	if c.MinTimelock == 0 {
		return fmt.Errorf("min_timelock must be positive")
	}
	if c.MaxTimelock < c.MinTimelock {
		return fmt.Errorf("max_timelock %d below min_timelock %d", c.MaxTimelock, c.MinTimelock)
	}
	if c.InitialBalance < c.MinTransferAmount {
		return fmt.Errorf("initial_balance %d below min_transfer_amount %d", c.InitialBalance, c.MinTransferAmount)
	}
	return nil
}
