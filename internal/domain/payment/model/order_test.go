package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name    string
		from    string
		to      string
		allowed bool
	}{
		{"created to awaiting payment", StatusCreated, StatusAwaitingPayment, true},
		{"awaiting payment to paid", StatusAwaitingPayment, StatusPaid, true},
		{"awaiting payment to failed", StatusAwaitingPayment, StatusFailed, true},
		{"awaiting payment to cancelled", StatusAwaitingPayment, StatusCancelled, true},
		{"paid to refunded", StatusPaid, StatusRefunded, true},
		{"paid back to awaiting payment", StatusPaid, StatusAwaitingPayment, false},
		{"paid to failed", StatusPaid, StatusFailed, false},
		{"refunded to paid", StatusRefunded, StatusPaid, false},
		{"failed to paid", StatusFailed, StatusPaid, false},
		{"created straight to paid", StatusCreated, StatusPaid, false},
		{"unknown status", "BOGUS", StatusPaid, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.allowed, CanTransition(tc.from, tc.to))
		})
	}
}

func TestHumanOrderNumberFrom(t *testing.T) {
	t.Run("takes uppercased trailing segment", func(t *testing.T) {
		assert.Equal(t, "X7K2M9QD", HumanOrderNumberFrom("cs_live_a1b2x7k2m9qd"))
	})

	t.Run("short reference used whole", func(t *testing.T) {
		assert.Equal(t, "AB12", HumanOrderNumberFrom("ab12"))
	})

	t.Run("exactly eight characters", func(t *testing.T) {
		assert.Equal(t, "ABCD1234", HumanOrderNumberFrom("abcd1234"))
	})
}
