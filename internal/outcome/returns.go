package outcome

import (
	"sigtrack/internal/pkg/convert"
	"sigtrack/internal/signal"
)

// RealizedReturn = Σ w_i·(exit−p_i)/p_i（SELL 取反），只计已成交的入场价位。
func RealizedReturn(sig signal.Signal, filled []int, exit float64) float64 {
	if exit <= 0 {
		return 0
	}
	x := convert.Dec(exit)
	total := convert.Zero
	for _, idx := range filled {
		if idx < 0 || idx >= len(sig.Entries) {
			continue
		}
		e := sig.Entries[idx]
		if e.Price <= 0 {
			continue
		}
		price := convert.Dec(e.Price)
		move := x.Sub(price)
		if sig.Type == signal.TypeSell {
			move = price.Sub(x)
		}
		total = total.Add(convert.Dec(e.Weight).Mul(move).Div(price))
	}
	return convert.Float(total.Round(8))
}
