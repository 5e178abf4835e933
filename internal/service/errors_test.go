package service

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOutcomeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Outcome
	}{
		{
			name: "success",
			want: Outcome{Success: true},
		},
		{
			name: "wrapped not found",
			err:  fmt.Errorf("%w: entry e1", ErrNotFound),
			want: Outcome{Kind: KindNotFound, Message: "not found: entry e1"},
		},
		{
			name: "insufficient funds",
			err:  fmt.Errorf("%w: balance 5, need 30", ErrInsufficientFunds),
			want: Outcome{Kind: KindInsufficientFunds, Message: "insufficient funds: balance 5, need 30"},
		},
		{
			name: "system errors hide details",
			err:  errors.New("database is locked"),
			want: Outcome{Kind: KindSystem, Message: "internal error"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, OutcomeOf(tt.err))
		})
	}
}

func TestKind_Expected(t *testing.T) {
	for _, k := range []Kind{KindValidation, KindNotFound, KindAlreadySettled, KindInvalidAmount, KindInsufficientFunds} {
		assert.True(t, k.Expected(), k)
	}
	assert.False(t, KindSystem.Expected())
	assert.False(t, KindOf(nil).Expected())
}
