// Package trading provides trading calculation utilities.
package trading

import "github.com/shopspring/decimal"

// ClampNotional bounds a requested notional to the configured [min, max] range.
// A zero max means no upper bound.
func ClampNotional(notional, min, max float64) float64 {
	d := decimal.NewFromFloat(notional)
	if min > 0 {
		if dMin := decimal.NewFromFloat(min); d.LessThan(dMin) {
			d = dMin
		}
	}
	if max > 0 {
		if dMax := decimal.NewFromFloat(max); d.GreaterThan(dMax) {
			d = dMax
		}
	}
	f, _ := d.Float64()
	return f
}

// EstimateFee computes the taker fee for a fill. Exchanges report the actual
// fee asynchronously; this estimate is reconciled when that arrives.
func EstimateFee(price, size, takerRate float64) float64 {
	fee := decimal.NewFromFloat(price).
		Mul(decimal.NewFromFloat(size)).
		Mul(decimal.NewFromFloat(takerRate))
	f, _ := fee.Float64()
	return f
}

// UnrealizedPnL computes mark-to-market profit for an open position.
func UnrealizedPnL(side string, entry, mark, size float64) float64 {
	e := decimal.NewFromFloat(entry)
	m := decimal.NewFromFloat(mark)
	q := decimal.NewFromFloat(size)
	var pnl decimal.Decimal
	if side == "short" {
		pnl = e.Sub(m).Mul(q)
	} else {
		pnl = m.Sub(e).Mul(q)
	}
	f, _ := pnl.Float64()
	return f
}

// RealizedPnL computes the realized profit of a closed position net of fees.
func RealizedPnL(side string, entry, exit, size, fee float64) float64 {
	gross := UnrealizedPnL(side, entry, exit, size)
	f, _ := decimal.NewFromFloat(gross).Sub(decimal.NewFromFloat(fee)).Float64()
	return f
}

// SizeForNotional converts a quote-currency notional into a base size at the
// given price, rounded down to the step precision.
func SizeForNotional(notional, price float64, precision int32) float64 {
	if price <= 0 {
		return 0
	}
	size := decimal.NewFromFloat(notional).
		DivRound(decimal.NewFromFloat(price), 12).
		RoundFloor(precision)
	f, _ := size.Float64()
	return f
}
