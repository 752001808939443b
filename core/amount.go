package core

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// bidPrecision is the number of decimal places preserved when a bid amount is
// encoded into an encrypted uint32 (amounts are multiplied by 100).
const bidPrecision int32 = 2

var bidScale = decimal.New(1, bidPrecision)

// ScaleAmount converts a display amount into the euint32 unit that gets encrypted.
// Digits beyond bidPrecision are truncated, matching the bidder client.
func ScaleAmount(amount decimal.Decimal) (uint32, error) {
	if !amount.IsPositive() {
		return 0, fmt.Errorf("bid amount must be positive, got %s", amount)
	}

	scaled := amount.Mul(bidScale).Truncate(0)
	if scaled.GreaterThan(decimal.NewFromInt(math.MaxUint32)) {
		return 0, fmt.Errorf("bid amount %s exceeds maximum %s", amount, UnscaleAmount(math.MaxUint32))
	}
	if scaled.IsZero() {
		return 0, fmt.Errorf("bid amount %s is below the smallest unit", amount)
	}
	return uint32(scaled.IntPart()), nil
}

// UnscaleAmount converts a decrypted euint32 value back into a display amount.
func UnscaleAmount(value uint32) decimal.Decimal {
	return decimal.NewFromInt(int64(value)).Shift(-bidPrecision)
}
