package signal

import (
	"fmt"
	"math"
	"strings"
	"time"

	"sigtrack/internal/market"
	"sigtrack/internal/pkg/convert"
	"sigtrack/internal/pkg/symbol"

	"github.com/google/uuid"
)

// New 校验草稿并构造信号，分配新的 uuid。GeneratedAt 为空时取 now。
func New(d Draft, now time.Time) (Signal, error) {
	sig := Signal{
		ID:          uuid.NewString(),
		Symbol:      symbol.Normalize(d.Symbol),
		Type:        d.Type,
		Confidence:  d.Confidence,
		Entries:     append([]Entry(nil), d.Entries...),
		TakeProfits: append([]TakeProfit(nil), d.TakeProfits...),
		StopLoss:    d.StopLoss,
		GeneratedAt: d.GeneratedAt.UTC().Truncate(time.Millisecond),
		OwnerID:     d.OwnerID,
		PlanID:      strings.TrimSpace(d.PlanID),
		Note:        strings.TrimSpace(d.Note),
	}
	if t, ok := ParseType(string(d.Type)); ok {
		sig.Type = t
	}
	if d.GeneratedAt.IsZero() {
		sig.GeneratedAt = now.UTC().Truncate(time.Millisecond)
	}
	// 存储层以毫秒保存时间，这里先截断，保证重复写入时内容可比较
	if d.ExpiresAt != nil {
		exp := d.ExpiresAt.UTC().Truncate(time.Millisecond)
		sig.ExpiresAt = &exp
	}
	if tf, err := market.ParseTimeframe(d.Timeframe); err == nil {
		sig.Timeframe = tf.Key
	} else {
		sig.Timeframe = strings.TrimSpace(d.Timeframe)
	}
	if !sig.Type.IsDirectional() {
		// HOLD 不参与评估，价位信息只作记录
		sig.Entries = nil
		sig.TakeProfits = nil
		sig.StopLoss = 0
	}
	fillRewardRatios(&sig)
	if err := Validate(sig); err != nil {
		return Signal{}, err
	}
	return sig, nil
}

func fillRewardRatios(sig *Signal) {
	if !sig.Type.IsDirectional() || len(sig.Entries) == 0 || sig.StopLoss <= 0 {
		return
	}
	entry := sig.WeightedEntry()
	for i := range sig.TakeProfits {
		if sig.TakeProfits[i].RewardRatio <= 0 {
			sig.TakeProfits[i].RewardRatio = RewardRatio(entry, sig.TakeProfits[i].Price, sig.StopLoss)
		}
	}
}

func shapeErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidSignalShape, fmt.Sprintf(format, args...))
}

// Validate 检查信号结构，所有失败都包装 ErrInvalidSignalShape。
func Validate(sig Signal) error {
	if strings.TrimSpace(sig.ID) == "" {
		return shapeErr("id 为空")
	}
	if sig.Symbol == "" {
		return shapeErr("symbol 为空")
	}
	if _, err := market.ParseTimeframe(sig.Timeframe); err != nil {
		return shapeErr("timeframe %q 不支持", sig.Timeframe)
	}
	if t, ok := ParseType(string(sig.Type)); !ok || t != sig.Type {
		return shapeErr("signal_type %q 不支持", sig.Type)
	}
	if err := checkFinite(sig); err != nil {
		return err
	}
	if sig.Confidence < 0 || sig.Confidence > 1 {
		return shapeErr("confidence %.4f 超出 [0,1]", sig.Confidence)
	}
	if sig.GeneratedAt.IsZero() {
		return shapeErr("generated_at 为空")
	}
	if sig.ExpiresAt != nil && !sig.ExpiresAt.After(sig.GeneratedAt) {
		return shapeErr("expires_at 必须晚于 generated_at")
	}
	if !sig.Type.IsDirectional() {
		return nil
	}
	return validateLevels(sig)
}

// checkFinite 拒绝 NaN/Inf；它们在比较中恒为 false，会绕过后续的区间检查。
func checkFinite(sig Signal) error {
	if !finite(sig.Confidence) {
		return shapeErr("confidence 不是有限数")
	}
	if !finite(sig.StopLoss) {
		return shapeErr("stop_loss 不是有限数")
	}
	for i, e := range sig.Entries {
		if !finite(e.Price) || !finite(e.Weight) {
			return shapeErr("entries[%d] 含非有限数", i)
		}
	}
	for i, tp := range sig.TakeProfits {
		if !finite(tp.Price) || !finite(tp.RewardRatio) {
			return shapeErr("take_profits[%d] 含非有限数", i)
		}
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func validateLevels(sig Signal) error {
	if len(sig.Entries) == 0 {
		return shapeErr("entries 为空")
	}
	if len(sig.TakeProfits) == 0 {
		return shapeErr("take_profits 为空")
	}
	weights := make([]float64, 0, len(sig.Entries))
	for i, e := range sig.Entries {
		if e.Price <= 0 {
			return shapeErr("entries[%d].price 必须为正", i)
		}
		if e.Weight < 0 {
			return shapeErr("entries[%d].weight 不能为负", i)
		}
		weights = append(weights, e.Weight)
	}
	if sum := convert.Sum(weights...); !convert.Within(convert.Float(sum), 1, weightTolerance) {
		return shapeErr("entry weights sum to %s, want 1", sum.Round(8).String())
	}
	if sig.StopLoss <= 0 {
		return shapeErr("stop_loss 必须为正")
	}
	entry := sig.WeightedEntry()
	long := sig.Type == TypeBuy
	if long && !convert.LT(sig.StopLoss, entry) {
		return shapeErr("BUY 止损 %.8g 必须低于加权入场价 %.8g", sig.StopLoss, entry)
	}
	if !long && !convert.GT(sig.StopLoss, entry) {
		return shapeErr("SELL 止损 %.8g 必须高于加权入场价 %.8g", sig.StopLoss, entry)
	}
	prev := entry
	for i, tp := range sig.TakeProfits {
		if tp.Price <= 0 {
			return shapeErr("take_profits[%d].price 必须为正", i)
		}
		if tp.RewardRatio < 0 {
			return shapeErr("take_profits[%d].reward_ratio 不能为负", i)
		}
		if long && !convert.GT(tp.Price, prev) {
			return shapeErr("BUY take_profits[%d]=%.8g 必须高于 %.8g", i, tp.Price, prev)
		}
		if !long && !convert.LT(tp.Price, prev) {
			return shapeErr("SELL take_profits[%d]=%.8g 必须低于 %.8g", i, tp.Price, prev)
		}
		prev = tp.Price
	}
	return nil
}

// WithDefaultExpiry 在没有 expires_at 时按周期补一个默认寿命（bars 根 K 线）。
func (d Draft) WithDefaultExpiry(bars int, now time.Time) Draft {
	if d.ExpiresAt != nil || bars <= 0 {
		return d
	}
	tf, err := market.ParseTimeframe(d.Timeframe)
	if err != nil {
		return d
	}
	start := d.GeneratedAt
	if start.IsZero() {
		start = now
	}
	exp := start.UTC().Add(tf.Bars(bars))
	d.ExpiresAt = &exp
	if d.GeneratedAt.IsZero() {
		d.GeneratedAt = start.UTC()
	}
	return d
}
