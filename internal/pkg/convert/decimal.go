// Package convert provides price arithmetic helpers on shopspring/decimal.
package convert

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	One  = decimal.NewFromInt(1)
	Zero = decimal.Zero
)

// Dec converts a float to decimal; NaN and Inf become zero.
func Dec(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return Zero
	}
	return decimal.NewFromFloat(val)
}

func Float(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

// Round 保留 places 位小数，用于对外展示与持久化。
func Round(val float64, places int32) float64 {
	return Float(Dec(val).Round(places))
}

func Compare(a, b float64) int {
	return Dec(a).Cmp(Dec(b))
}

func LTE(a, b float64) bool { return Compare(a, b) <= 0 }
func GTE(a, b float64) bool { return Compare(a, b) >= 0 }
func LT(a, b float64) bool  { return Compare(a, b) < 0 }
func GT(a, b float64) bool  { return Compare(a, b) > 0 }

// Within reports |a-b| <= tol.
func Within(a, b, tol float64) bool {
	return Dec(a).Sub(Dec(b)).Abs().Cmp(Dec(tol)) <= 0
}

// Sum 对浮点序列做精确求和。
func Sum(vals ...float64) decimal.Decimal {
	total := Zero
	for _, v := range vals {
		total = total.Add(Dec(v))
	}
	return total
}
