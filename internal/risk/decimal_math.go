package risk

import (
	"math"

	"github.com/shopspring/decimal"
)

// Float comparisons on prices go through decimals so that stop updates near
// the tick size never flap on binary rounding noise.

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

func decimalCompare(a, b float64) int {
	return decFromFloat(a).Cmp(decFromFloat(b))
}

func decimalGT(a, b float64) bool { return decimalCompare(a, b) > 0 }
func decimalLT(a, b float64) bool { return decimalCompare(a, b) < 0 }

// tightens reports whether candidate is a strictly better protective stop
// than current for the given side. A zero current stop is always improved.
func tightens(side string, candidate, current float64) bool {
	if candidate <= 0 {
		return false
	}
	if current <= 0 {
		return true
	}
	if side == "short" {
		return decimalLT(candidate, current)
	}
	return decimalGT(candidate, current)
}

// floorToStep floors qty to an exact multiple of step.
func floorToStep(qty, step float64) float64 {
	if step <= 0 || qty <= 0 {
		return 0
	}
	dQty := decFromFloat(qty)
	dStep := decFromFloat(step)
	steps := dQty.Div(dStep).Floor()
	return decToFloat(steps.Mul(dStep))
}
