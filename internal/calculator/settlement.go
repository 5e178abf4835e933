package calculator

import (
	"errors"
	"fmt"

	"github.com/mmynk/pointsledger/internal/models"
)

// ErrInvalidAmount is returned when a settlement amount cannot be applied.
var ErrInvalidAmount = errors.New("invalid settlement amount")

// Plan describes how a settlement will be applied to one entry.
type Plan struct {
	// Pay is the amount debited from the account.
	Pay int64

	// Remaining is what the entry still owes afterwards.
	Remaining int64

	// Split is true when the entry is partially paid and a paid slice is recorded.
	Split bool
}

// PlanSettlement decides how much of entry to pay.
//
// A partial in (0, entry.Amount) splits the entry, which only optional
// entries allow. Any other partial, nil included, is a full payment.
// Pay + Remaining always equals entry.Amount.
func PlanSettlement(entry *models.NegativeEntry, partial *int64) (Plan, error) {
	if entry.Amount <= 0 {
		return Plan{}, fmt.Errorf("%w: entry amount %d is not positive", ErrInvalidAmount, entry.Amount)
	}

	if partial == nil || *partial <= 0 || *partial >= entry.Amount {
		return Plan{Pay: entry.Amount}, nil
	}

	if entry.Mandatory {
		return Plan{}, fmt.Errorf("%w: mandatory entries must be paid in full", ErrInvalidAmount)
	}

	return Plan{
		Pay:       *partial,
		Remaining: entry.Amount - *partial,
		Split:     true,
	}, nil
}
