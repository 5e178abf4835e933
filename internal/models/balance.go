package models

// BalanceCache is the denormalized current balance of an account.
// It is derived from the ledger and may always be overwritten by a recompute.
type BalanceCache struct {
	AccountID string
	Amount    int64
	UpdatedAt int64
}

// Recharge is a row of the separate recharge ledger, consulted only as a
// last-resort cross-check during reconciliation.
type Recharge struct {
	ID        string
	AccountID string
	Amount    int64
	Note      string

	// TransactionID is the ledger credit recorded for this recharge. A nil
	// or dangling ID marks a recharge the ledger is missing.
	TransactionID *string

	CreatedAt int64
}
