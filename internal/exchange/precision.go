package exchange

import (
	"strconv"

	"github.com/shopspring/decimal"
)

// FloorToStep floors qty to a multiple of step. A zero step leaves qty as is.
func FloorToStep(qty float64, step decimal.Decimal) float64 {
	if step.Sign() <= 0 || qty <= 0 {
		return max(qty, 0)
	}
	q := decimal.NewFromFloat(qty).Div(step).Floor().Mul(step)
	f, _ := q.Float64()
	return f
}

// FloorToPlaces floors qty to a fixed number of decimal places.
func FloorToPlaces(qty float64, places int32) float64 {
	if qty <= 0 {
		return 0
	}
	f, _ := decimal.NewFromFloat(qty).RoundFloor(places).Float64()
	return f
}

// FormatQuantity renders qty without exponent and without trailing zeros.
func FormatQuantity(qty float64) string {
	return decimal.NewFromFloat(qty).String()
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(s, 64)
	return f
}
