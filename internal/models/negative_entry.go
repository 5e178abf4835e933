package models

// EntryStatus is the lifecycle state of a NegativeEntry.
type EntryStatus string

const (
	StatusPending   EntryStatus = "pending"
	StatusPaid      EntryStatus = "paid"
	StatusCancelled EntryStatus = "cancelled"
)

// Terminal reports whether no further settlement is possible.
func (s EntryStatus) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s EntryStatus) Valid() bool {
	switch s {
	case StatusPending, StatusPaid, StatusCancelled:
		return true
	}
	return false
}

// NegativeEntry is a points debt owed by an account.
//
// A pending entry may be split by a partial payment: its Amount is reduced in
// place and a new paid entry records the paid slice. The original ID always
// represents what remains owed.
type NegativeEntry struct {
	// ID is the unique identifier for the entry (UUID format).
	ID string `json:"id"`

	// AccountID is the account that owes the points.
	AccountID string `json:"account_id"`

	// Amount is the number of points still owed. For paid entries it documents
	// what was owed at the time of payment.
	Amount int64 `json:"amount"`

	// Reason describes why the points are owed.
	Reason string `json:"reason"`

	// Status is the lifecycle state.
	Status EntryStatus `json:"status"`

	// CategoryID links the entry to a Category. Nil means mandatory.
	CategoryID *string `json:"category_id,omitempty"`

	// Mandatory is derived from the category when the entry is read.
	Mandatory bool `json:"mandatory"`

	// AutoProcessed is set when the mandatory auto-settlement job paid the entry.
	AutoProcessed bool `json:"auto_processed"`

	// SplitFromID is set on paid slices and points at the entry they were cut from.
	SplitFromID *string `json:"split_from_id,omitempty"`

	// CreatedAt is the Unix timestamp when the entry was created.
	CreatedAt int64 `json:"created_at"`

	// PaidAt is the Unix timestamp when the entry was paid, if it was.
	PaidAt *int64 `json:"paid_at,omitempty"`
}

// Category classifies negative entries.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// Mandatory entries must be paid in full and are deducted automatically.
	Mandatory bool `json:"mandatory"`

	CreatedAt int64 `json:"created_at"`
}
