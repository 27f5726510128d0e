package model

import (
	"testing"

	"github.com/pixora/pixora-api/internal/domain/credit"
)

func TestEstimateCost(t *testing.T) {
	cases := []struct {
		name       string
		base       credit.Amount
		multiplier float64
		markup     float64
		want       credit.Amount
	}{
		{"no markup", credit.Credits(4), 1.0, 0, 400},
		{"multiplier", credit.Credits(4), 2.5, 0, 1000},
		{"markup rounds up", credit.Credits(1), 1.0, 10, 110},
		{"fractional rounds up", credit.Amount(333), 1.0, 10, 367},
		{"zero base", 0, 2.0, 50, 0},
		{"zero multiplier treated as one", credit.Credits(2), 0, 0, 200},
		{"negative markup ignored", credit.Credits(2), 1.0, -50, 200},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := EstimateCost(tc.base, tc.multiplier, tc.markup)
			if got != tc.want {
				t.Errorf("EstimateCost(%d, %v, %v) = %d, want %d",
					tc.base, tc.multiplier, tc.markup, got, tc.want)
			}
		})
	}
}

func TestEstimateNeverUndercharges(t *testing.T) {
	// Rounding must always go up so the reservation covers the cost.
	got := EstimateCost(credit.Amount(1), 1.0, 0.5)
	if got < 2 {
		t.Fatalf("expected rounding up to at least 2, got %d", got)
	}
}
