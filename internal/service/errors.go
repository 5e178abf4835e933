package service

import (
	"errors"

	"github.com/mmynk/pointsledger/internal/calculator"
)

// Kind is the machine-checkable class of a failed operation.
type Kind string

const (
	KindValidation        Kind = "validation"
	KindNotFound          Kind = "not_found"
	KindAlreadySettled    Kind = "already_settled"
	KindInvalidAmount     Kind = "invalid_amount"
	KindInsufficientFunds Kind = "insufficient_funds"
	KindSystem            Kind = "system"
)

var (
	// ErrValidation is returned for malformed requests (empty IDs, names).
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when an entry does not exist or belongs to
	// another account.
	ErrNotFound = errors.New("not found")

	// ErrAlreadySettled is returned when an entry is no longer pending,
	// including when a concurrent settlement won the race.
	ErrAlreadySettled = errors.New("entry already settled")

	// ErrInvalidAmount is returned for amounts that cannot be applied.
	ErrInvalidAmount = calculator.ErrInvalidAmount

	// ErrInsufficientFunds is returned when the balance is below the amount
	// to pay.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// KindOf classifies err. Unrecognized errors are system errors.
// KindOf(nil) returns the empty Kind.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrAlreadySettled):
		return KindAlreadySettled
	case errors.Is(err, ErrInvalidAmount):
		return KindInvalidAmount
	case errors.Is(err, ErrInsufficientFunds):
		return KindInsufficientFunds
	default:
		return KindSystem
	}
}

// Expected reports whether the kind is ordinary control flow rather than a
// fault.
func (k Kind) Expected() bool {
	return k != "" && k != KindSystem
}

// Outcome is the structured result handed to collaborators.
type Outcome struct {
	Success bool   `json:"success"`
	Kind    Kind   `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}

// OutcomeOf converts an operation error into an Outcome.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return Outcome{Success: true}
	}
	kind := KindOf(err)
	msg := err.Error()
	if kind == KindSystem {
		// Store details stay in the logs.
		msg = "internal error"
	}
	return Outcome{Kind: kind, Message: msg}
}

// outcomeLabel is the metrics label for an operation result.
func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	return string(KindOf(err))
}
