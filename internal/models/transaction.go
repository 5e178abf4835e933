package models

// Sign is the direction of a ledger transaction.
type Sign string

const (
	SignCredit Sign = "credit"
	SignDebit  Sign = "debit"
)

// Valid reports whether s is a known sign.
func (s Sign) Valid() bool {
	return s == SignCredit || s == SignDebit
}

// Transaction is one row of the append-only points ledger.
// Transactions are never updated or deleted after insert.
type Transaction struct {
	// ID is the unique identifier for the transaction (UUID format).
	ID string `json:"id"`

	// AccountID is the account the points belong to.
	AccountID string `json:"account_id"`

	// Amount is the number of points moved. Always positive; direction is in Sign.
	Amount int64 `json:"amount"`

	// Sign says whether the points were credited or debited.
	Sign Sign `json:"sign"`

	// CategoryID optionally links the transaction to a category.
	CategoryID *string `json:"category_id,omitempty"`

	// Description is a human-readable note (e.g., "Paid: late homework").
	Description string `json:"description"`

	// CreatedBy is the actor that recorded the transaction.
	CreatedBy string `json:"created_by"`

	// CreatedAt is the Unix timestamp when the transaction was recorded.
	CreatedAt int64 `json:"created_at"`
}

// Signed returns the amount with its sign applied.
func (t Transaction) Signed() int64 {
	if t.Sign == SignDebit {
		return -t.Amount
	}
	return t.Amount
}
