package tradingutils

import (
	"github.com/shopspring/decimal"
)

// RoundPrice rounds a price to the specified decimals. Negative decimals leave the price untouched.
func RoundPrice(price decimal.Decimal, priceDecimals int) decimal.Decimal {
	if priceDecimals < 0 {
		return price
	}
	return price.Round(int32(priceDecimals))
}

// RoundQuantity truncates a quantity to the specified decimals so splits never exceed the total
func RoundQuantity(qty decimal.Decimal, qtyDecimals int) decimal.Decimal {
	if qtyDecimals < 0 {
		return qty
	}
	return qty.Truncate(int32(qtyDecimals))
}

// SplitEvenly divides total into count parts. Every part but the last is
// truncated to qtyDecimals; the last part absorbs the remainder so the parts
// always sum to total exactly.
func SplitEvenly(total decimal.Decimal, count int, qtyDecimals int) []decimal.Decimal {
	if count <= 0 {
		return nil
	}
	parts := make([]decimal.Decimal, count)
	part := RoundQuantity(total.Div(decimal.NewFromInt(int64(count))), qtyDecimals)
	allocated := decimal.Zero
	for i := 0; i < count-1; i++ {
		parts[i] = part
		allocated = allocated.Add(part)
	}
	parts[count-1] = total.Sub(allocated)
	return parts
}

// ClampDecimal bounds v to [lo, hi]
func ClampDecimal(v, lo, hi decimal.Decimal) decimal.Decimal {
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// ClampInt bounds v to [lo, hi]
func ClampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// OffsetPrice moves a reference price by a fractional offset in the direction
// favorable to the taker of the order: below for buys, above for sells.
func OffsetPrice(reference, offset decimal.Decimal, buy bool) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if buy {
		return reference.Mul(one.Sub(offset))
	}
	return reference.Mul(one.Add(offset))
}

// CalculateRoundTripCost returns entry plus exit fees on a notional
func CalculateRoundTripCost(notional, entryFeeRate, exitFeeRate decimal.Decimal) decimal.Decimal {
	return notional.Mul(entryFeeRate).Add(notional.Mul(exitFeeRate))
}
