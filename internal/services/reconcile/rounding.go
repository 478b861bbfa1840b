package reconcile

import (
	"fmt"
	"math"
)

// PackSize is the production batch unit.
const PackSize = 500

// MaxRoundable is the largest quantity whose pack-rounded value fits in an int64.
const MaxRoundable = math.MaxInt64 / PackSize * PackSize

// RoundToPack rounds qty up to the next multiple of PackSize.
func RoundToPack(qty int64) (int64, error) {
	if qty <= 0 || qty > MaxRoundable {
		return 0, fmt.Errorf("%w: rounding %d to pack size", ErrInvalidQuantity, qty)
	}
	packs := qty / PackSize
	if qty%PackSize != 0 {
		packs++
	}
	return packs * PackSize, nil
}
