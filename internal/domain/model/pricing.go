package model

import (
	"math"

	"github.com/pixora/pixora-api/internal/domain/credit"
)

// EstimateCost prices a generation before it is submitted: preset base cost,
// scaled by the model's multiplier and the configured markup, rounded up to
// the next hundredth of a credit. The estimate is what gets reserved; the
// finalize step settles at actual cost later.
func EstimateCost(base credit.Amount, multiplier, markupPercent float64) credit.Amount {
	if base <= 0 {
		return 0
	}
	if multiplier <= 0 {
		multiplier = 1
	}
	if markupPercent < 0 {
		markupPercent = 0
	}

	raw := float64(base) * multiplier * (1 + markupPercent/100)
	// Shave float noise so 110.00000000000001 does not round to 111.
	return credit.Amount(math.Ceil(raw - 1e-9))
}
