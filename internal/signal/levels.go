package signal

import (
	"sigtrack/internal/pkg/convert"

	"github.com/shopspring/decimal"
)

const weightTolerance = 1e-6

// WeightedEntry 返回全部入场价位按权重加权后的均价。
func WeightedEntry(entries []Entry) float64 {
	return convert.Float(weightedEntry(entries))
}

func weightedEntry(entries []Entry) decimal.Decimal {
	sum := convert.Zero
	weights := convert.Zero
	for _, e := range entries {
		w := convert.Dec(e.Weight)
		sum = sum.Add(convert.Dec(e.Price).Mul(w))
		weights = weights.Add(w)
	}
	if weights.IsZero() {
		return convert.Zero
	}
	return sum.Div(weights)
}

// WeightedEntry 是信号全部入场价位的加权均价。
func (s Signal) WeightedEntry() float64 { return WeightedEntry(s.Entries) }

// BlendedEntry 只对已成交的入场价位加权，indexes 指向 s.Entries。
func (s Signal) BlendedEntry(indexes []int) float64 {
	filled := make([]Entry, 0, len(indexes))
	for _, idx := range indexes {
		if idx >= 0 && idx < len(s.Entries) {
			filled = append(filled, s.Entries[idx])
		}
	}
	return WeightedEntry(filled)
}

// RewardRatio 返回 |tp-entry| / |entry-sl|；风险为 0 时返回 0。
func RewardRatio(entry, tp, sl float64) float64 {
	risk := convert.Dec(entry).Sub(convert.Dec(sl)).Abs()
	if risk.IsZero() {
		return 0
	}
	reward := convert.Dec(tp).Sub(convert.Dec(entry)).Abs()
	return convert.Float(reward.Div(risk).Round(4))
}

// NormalizeWeights 将正权重按比例缩放到总和为 1。
func NormalizeWeights(entries []Entry) []Entry {
	total := convert.Zero
	for _, e := range entries {
		if e.Weight > 0 {
			total = total.Add(convert.Dec(e.Weight))
		}
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	if total.IsZero() {
		if len(out) == 0 {
			return out
		}
		even := convert.One.Div(decimal.NewFromInt(int64(len(out))))
		for i := range out {
			out[i].Weight = convert.Float(even.Round(8))
		}
		return out
	}
	for i := range out {
		if out[i].Weight <= 0 {
			out[i].Weight = 0
			continue
		}
		out[i].Weight = convert.Float(convert.Dec(out[i].Weight).Div(total).Round(8))
	}
	return out
}
