package outcome

import (
	"fmt"
	"sort"
	"time"

	"sigtrack/internal/market"
	"sigtrack/internal/pkg/convert"
	"sigtrack/internal/signal"
)

// Result 是一次评估的产物：更新后的结果与本次产生的迁移。
type Result struct {
	Outcome     Outcome
	Transitions []Transition
	// Applied 是实际处理的 K 线数量（跳过的不计）。
	Applied int
}

// Changed 表示结果需要提交（状态、游标或成交有变化）。
func (r Result) Changed() bool {
	return r.Applied > 0 || len(r.Transitions) > 0
}

// Evaluator 把 K 线回放到信号上，纯内存同步计算，可并发复用。
type Evaluator struct {
	policy Policy
}

func NewEvaluator(p Policy) *Evaluator {
	return &Evaluator{policy: p.normalized()}
}

func (e *Evaluator) Policy() Policy { return e.policy }

// WithPolicy 返回使用另一套规则的评估器。
func (e *Evaluator) WithPolicy(p Policy) *Evaluator {
	return NewEvaluator(p)
}

// Evaluate 以 cur 为起点回放 bars，返回新结果；cur 不会被修改。
// open_time 不晚于 last_evaluated_at 的 K 线被跳过，因此重叠窗口重复评估是幂等的。
// now 只用于判断时钟驱动的过期。
func (e *Evaluator) Evaluate(sig signal.Signal, cur Outcome, bars []market.Candle, now time.Time) (Result, error) {
	if err := checkWindow(bars); err != nil {
		return Result{}, err
	}
	run := &pass{
		policy: e.policy,
		sig:    sig,
		out:    cur.Clone(),
		long:   sig.Type == signal.TypeBuy,
	}
	if run.out.SignalID == "" {
		run.out.SignalID = sig.ID
	}
	if run.out.State == "" {
		run.out.State = StatePending
	}
	if run.out.State.Terminal() || !sig.Type.IsDirectional() {
		return Result{Outcome: run.out}, nil
	}
	tf, err := market.ParseTimeframe(sig.Timeframe)
	if err != nil {
		return Result{}, fmt.Errorf("evaluate %s: %w", sig.ID, err)
	}

	applied := 0
	for _, bar := range bars {
		at := bar.OpenAt()
		if !run.fresh(at) {
			continue
		}
		if sig.ExpiresAt != nil && !at.Before(*sig.ExpiresAt) {
			run.expire()
			break
		}
		run.step(bar, at)
		applied++
		run.out.LastEvaluatedAt = &at
		run.out.LastClose = bar.Close
		if run.out.State.Terminal() {
			break
		}
	}
	if !run.out.State.Terminal() && expiryDue(sig, run.out, tf, now) {
		run.expire()
	}
	return Result{Outcome: run.out, Transitions: run.transitions, Applied: applied}, nil
}

func checkWindow(bars []market.Candle) error {
	for i, bar := range bars {
		if bar.High < bar.Low || bar.Low <= 0 {
			return fmt.Errorf("%w: bar %d open_time=%d high=%v low=%v", ErrInvalidPriceBar, i, bar.OpenTime, bar.High, bar.Low)
		}
		if i > 0 && bar.OpenTime <= bars[i-1].OpenTime {
			return fmt.Errorf("%w: bar %d open_time=%d not after %d", ErrUnorderedPriceWindow, i, bar.OpenTime, bars[i-1].OpenTime)
		}
	}
	return nil
}

// expiryDue 在 now 越过 expires_at 且过期前最后一根 K 线已处理（或已超过一个周期仍无数据）时成立。
func expiryDue(sig signal.Signal, out Outcome, tf market.Timeframe, now time.Time) bool {
	if sig.ExpiresAt == nil || now.Before(*sig.ExpiresAt) {
		return false
	}
	exp := *sig.ExpiresAt
	if !now.Before(exp.Add(tf.Duration)) {
		return true
	}
	return out.LastEvaluatedAt != nil && !out.LastEvaluatedAt.Add(tf.Duration).Before(exp)
}

type pass struct {
	policy      Policy
	sig         signal.Signal
	out         Outcome
	long        bool
	transitions []Transition
}

func (p *pass) fresh(at time.Time) bool {
	if p.out.LastEvaluatedAt != nil {
		return at.After(*p.out.LastEvaluatedAt)
	}
	return !at.Before(p.sig.GeneratedAt)
}

func (p *pass) step(bar market.Candle, at time.Time) {
	p.fill(bar, at)
	checks := []func(market.Candle, time.Time) bool{p.checkBreakeven, p.checkStop, p.checkTargets}
	if p.policy.TieBreak == TieBreakTargetFirst {
		checks = []func(market.Candle, time.Time) bool{p.checkTargets, p.checkBreakeven, p.checkStop}
	}
	for _, check := range checks {
		if check(bar, at) {
			return
		}
	}
}

// fill 成交本根 K 线覆盖的全部入场价。
// 顺序按离市价由近到远：BUY 价格降序（不是数值升序），SELL 升序；顺序只影响 FilledEntries，
// 不影响 FilledWeight 与收益。一根 K 线同时覆盖多个入场价时一起成交，例如 97-101 会同时成交 100 和 98。
func (p *pass) fill(bar market.Candle, at time.Time) {
	filled := make(map[int]bool, len(p.out.FilledEntries))
	for _, idx := range p.out.FilledEntries {
		filled[idx] = true
	}
	var hits []int
	for i, e := range p.sig.Entries {
		if !filled[i] && e.Weight > 0 && bar.Contains(e.Price) {
			hits = append(hits, i)
		}
	}
	if len(hits) == 0 {
		return
	}
	sort.SliceStable(hits, func(a, b int) bool {
		pa, pb := p.sig.Entries[hits[a]].Price, p.sig.Entries[hits[b]].Price
		if p.long {
			return pa > pb
		}
		return pa < pb
	})
	weight := convert.Dec(p.out.FilledWeight)
	for _, idx := range hits {
		weight = weight.Add(convert.Dec(p.sig.Entries[idx].Weight))
		p.out.FilledEntries = append(p.out.FilledEntries, idx)
	}
	if weight.GreaterThan(convert.One) {
		weight = convert.One
	}
	p.out.FilledWeight = convert.Float(weight.Round(8))
	if p.out.State == StatePending {
		p.transition(StateEntryFilled, at, ReasonEntryFill, p.sig.Entries[hits[0]].Price)
	}
}

// checkStop: 有成交则 LOST，无成交则信号失效（EXPIRED，收益 0）。
func (p *pass) checkStop(bar market.Candle, at time.Time) bool {
	sl := p.sig.StopLoss
	if !p.reachedAgainst(bar, sl) {
		return false
	}
	if p.out.FilledWeight > 0 {
		p.resolve(StateLost, at, ReasonStopLoss, sl)
	} else {
		p.resolveFlat(StateExpired, at, ReasonInvalidated, sl)
	}
	return true
}

// checkTargets 由近到远检查止盈，未成交前忽略。
func (p *pass) checkTargets(bar market.Candle, at time.Time) bool {
	if p.out.FilledWeight <= 0 {
		return false
	}
	tps := p.sig.TakeProfits
	for p.out.TargetsHit < len(tps) && p.reachedFor(bar, tps[p.out.TargetsHit].Price) {
		p.out.TargetsHit++
		if p.policy.Resolution == ResolutionFirstTarget {
			break
		}
	}
	if p.out.TargetsHit == 0 {
		return false
	}
	switch p.policy.Resolution {
	case ResolutionAllTargets:
		if p.out.TargetsHit < len(tps) {
			return false
		}
		p.resolve(StateWon, at, ReasonTakeProfit, tps[len(tps)-1].Price)
	default:
		p.resolve(StateWon, at, ReasonTakeProfit, tps[0].Price)
	}
	return true
}

// checkBreakeven 只在 all_targets 下生效：已触及至少一个止盈后价格回到混合入场价。
func (p *pass) checkBreakeven(bar market.Candle, at time.Time) bool {
	if p.policy.Resolution != ResolutionAllTargets || p.out.TargetsHit == 0 || p.out.FilledWeight <= 0 {
		return false
	}
	blended := p.sig.BlendedEntry(p.out.FilledEntries)
	if !p.reachedAgainst(bar, blended) {
		return false
	}
	p.resolve(StateBreakeven, at, ReasonBreakevenReturn, blended)
	return true
}

// expire 在 expires_at 时结算：未成交为 EXPIRED，已成交按最近收盘价标记为 BREAKEVEN。
func (p *pass) expire() {
	at := *p.sig.ExpiresAt
	if p.out.FilledWeight <= 0 {
		p.resolveFlat(StateExpired, at, ReasonExpiry, p.out.LastClose)
		return
	}
	mark := p.out.LastClose
	if mark <= 0 {
		mark = p.sig.BlendedEntry(p.out.FilledEntries)
	}
	p.resolve(StateBreakeven, at, ReasonExpiry, mark)
}

// reachedFor: 价格向盈利方向到达 level（BUY 看 high，SELL 看 low）。
func (p *pass) reachedFor(bar market.Candle, level float64) bool {
	if p.long {
		return convert.GTE(bar.High, level)
	}
	return convert.LTE(bar.Low, level)
}

// reachedAgainst: 价格向亏损方向到达 level。
func (p *pass) reachedAgainst(bar market.Candle, level float64) bool {
	if level <= 0 {
		return false
	}
	if p.long {
		return convert.LTE(bar.Low, level)
	}
	return convert.GTE(bar.High, level)
}

func (p *pass) resolve(to State, at time.Time, reason Reason, exit float64) {
	ret := RealizedReturn(p.sig, p.out.FilledEntries, exit)
	p.out.RealizedReturn = &ret
	p.finish(to, at, reason, exit)
}

func (p *pass) resolveFlat(to State, at time.Time, reason Reason, exit float64) {
	zero := 0.0
	p.out.RealizedReturn = &zero
	p.finish(to, at, reason, exit)
}

func (p *pass) finish(to State, at time.Time, reason Reason, exit float64) {
	if exit > 0 {
		x := exit
		p.out.ExitPrice = &x
	}
	resolved := at
	p.out.ResolvedAt = &resolved
	p.transition(to, at, reason, exit)
}

func (p *pass) transition(to State, at time.Time, reason Reason, price float64) {
	p.transitions = append(p.transitions, Transition{
		SignalID:     p.sig.ID,
		From:         p.out.State,
		To:           to,
		At:           at,
		Reason:       reason,
		FilledWeight: p.out.FilledWeight,
		Price:        price,
	})
	p.out.State = to
}
