// Package stats 在每次请求时从结果存储重新计算绩效统计，不维护增量计数。
package stats

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"sigtrack/internal/outcome"
	"sigtrack/internal/store"
)

const defaultRankLimit = 5

// Reader 是统计所需的读侧存储接口。
type Reader interface {
	ListResolved(ctx context.Context, f store.Filter) ([]store.Record, error)
	CountPending(ctx context.Context, f store.Filter) (int, error)
}

// Filter 在 store.Filter 基础上增加排行榜长度。
type Filter struct {
	store.Filter
	Limit int
}

type Summary struct {
	Total             int     `json:"total"`
	Wins              int     `json:"wins"`
	Losses            int     `json:"losses"`
	Breakeven         int     `json:"breakeven"`
	Invalidated       int     `json:"invalidated"`
	Pending           int     `json:"pending"`
	WinRate           float64 `json:"win_rate"`
	AvgConfidence     float64 `json:"avg_confidence"`
	AvgConfidenceWon  float64 `json:"avg_confidence_won"`
	AvgConfidenceLost float64 `json:"avg_confidence_lost"`
	AvgReturn         float64 `json:"avg_return"`
}

// Decided 返回计入胜率分母的数量。
func (s Summary) Decided() int { return s.Wins + s.Losses + s.Breakeven }

type Ranked struct {
	SignalID       string        `json:"signal_id"`
	Symbol         string        `json:"symbol"`
	Timeframe      string        `json:"timeframe"`
	SignalType     string        `json:"signal_type"`
	Confidence     float64       `json:"confidence"`
	State          outcome.State `json:"state"`
	RealizedReturn float64       `json:"realized_return"`
	ResolvedAt     time.Time     `json:"resolved_at"`
}

// Bucket 是一个置信度分位区间 [Lower, Upper)，最后一档包含 1.0。
type Bucket struct {
	Label   string  `json:"label"`
	Lower   float64 `json:"lower"`
	Upper   float64 `json:"upper"`
	Count   int     `json:"count"`
	Wins    int     `json:"wins"`
	WinRate float64 `json:"win_rate"`
}

type Group struct {
	Key     string  `json:"key"`
	Summary Summary `json:"summary"`
}

type Report struct {
	Summary     Summary   `json:"summary"`
	Best        []Ranked  `json:"best"`
	Worst       []Ranked  `json:"worst"`
	Calibration []Bucket  `json:"calibration"`
	BySymbol    []Group   `json:"by_symbol"`
	ByTimeframe []Group   `json:"by_timeframe"`
	ComputedAt  time.Time `json:"computed_at"`
}

type Aggregator struct {
	reader Reader
	nowFn  func() time.Time
}

func NewAggregator(reader Reader) *Aggregator {
	return &Aggregator{reader: reader, nowFn: time.Now}
}

// Compute 读取窗口内（按 resolved_at）的终态结果并计算报告。
func (a *Aggregator) Compute(ctx context.Context, f Filter) (Report, error) {
	if f.Since != nil && f.Until != nil && f.Until.Before(*f.Since) {
		return Report{}, fmt.Errorf("invalid window: until %s before since %s", f.Until.Format(time.RFC3339), f.Since.Format(time.RFC3339))
	}
	records, err := a.reader.ListResolved(ctx, f.Filter)
	if err != nil {
		return Report{}, fmt.Errorf("load resolved outcomes: %w", err)
	}
	pending, err := a.reader.CountPending(ctx, f.Filter)
	if err != nil {
		return Report{}, fmt.Errorf("count pending: %w", err)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultRankLimit
	}
	rep := Build(records, limit)
	rep.Summary.Pending = pending
	rep.ComputedAt = a.nowFn().UTC()
	return rep, nil
}

// Build 是纯计算部分，records 应只包含终态结果。
func Build(records []store.Record, limit int) Report {
	rep := Report{
		Summary:     summarize(records),
		Calibration: calibrate(records),
		BySymbol:    groupBy(records, func(r store.Record) string { return r.Signal.Symbol }),
		ByTimeframe: groupBy(records, func(r store.Record) string { return r.Signal.Timeframe }),
	}
	rep.Best, rep.Worst = rank(records, limit)
	return rep
}

func summarize(records []store.Record) Summary {
	var (
		s                          Summary
		confAll, confWon, confLost float64
		returns                    float64
	)
	for _, r := range records {
		st := r.Outcome.State
		if !st.Terminal() || st == outcome.StateNotApplicable {
			continue
		}
		s.Total++
		confAll += r.Signal.Confidence
		switch st {
		case outcome.StateWon:
			s.Wins++
			confWon += r.Signal.Confidence
		case outcome.StateLost:
			s.Losses++
			confLost += r.Signal.Confidence
		case outcome.StateBreakeven:
			s.Breakeven++
		case outcome.StateExpired:
			s.Invalidated++
		}
		if st.Decisive() {
			returns += r.Outcome.Return()
		}
	}
	s.WinRate = ratio(s.Wins, s.Decided())
	s.AvgConfidence = mean(confAll, s.Total)
	s.AvgConfidenceWon = mean(confWon, s.Wins)
	s.AvgConfidenceLost = mean(confLost, s.Losses)
	s.AvgReturn = mean(returns, s.Decided())
	return s
}

func calibrate(records []store.Record) []Bucket {
	buckets := make([]Bucket, 10)
	for i := range buckets {
		lower := float64(i) / 10
		buckets[i] = Bucket{
			Label: fmt.Sprintf("%d-%d%%", i*10, (i+1)*10),
			Lower: lower,
			Upper: float64(i+1) / 10,
		}
	}
	for _, r := range records {
		if !r.Outcome.State.Decisive() {
			continue
		}
		idx := int(math.Floor(r.Signal.Confidence * 10))
		if idx > 9 {
			idx = 9
		}
		if idx < 0 {
			idx = 0
		}
		buckets[idx].Count++
		if r.Outcome.State == outcome.StateWon {
			buckets[idx].Wins++
		}
	}
	for i := range buckets {
		buckets[i].WinRate = ratio(buckets[i].Wins, buckets[i].Count)
	}
	return buckets
}

func groupBy(records []store.Record, keyFn func(store.Record) string) []Group {
	grouped := make(map[string][]store.Record)
	for _, r := range records {
		k := keyFn(r)
		grouped[k] = append(grouped[k], r)
	}
	out := make([]Group, 0, len(grouped))
	for k, rs := range grouped {
		out = append(out, Group{Key: k, Summary: summarize(rs)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// rank 只在 WON/LOST/BREAKEVEN 中排序；收益相同时按 resolved_at 新的在前，再按 id。
func rank(records []store.Record, limit int) (best, worst []Ranked) {
	items := make([]Ranked, 0, len(records))
	for _, r := range records {
		if !r.Outcome.State.Decisive() {
			continue
		}
		item := Ranked{
			SignalID:       r.Signal.ID,
			Symbol:         r.Signal.Symbol,
			Timeframe:      r.Signal.Timeframe,
			SignalType:     string(r.Signal.Type),
			Confidence:     r.Signal.Confidence,
			State:          r.Outcome.State,
			RealizedReturn: r.Outcome.Return(),
		}
		if r.Outcome.ResolvedAt != nil {
			item.ResolvedAt = *r.Outcome.ResolvedAt
		}
		items = append(items, item)
	}
	tie := func(a, b Ranked) bool {
		if !a.ResolvedAt.Equal(b.ResolvedAt) {
			return a.ResolvedAt.After(b.ResolvedAt)
		}
		return a.SignalID < b.SignalID
	}
	best = append([]Ranked(nil), items...)
	sort.SliceStable(best, func(i, j int) bool {
		if best[i].RealizedReturn != best[j].RealizedReturn {
			return best[i].RealizedReturn > best[j].RealizedReturn
		}
		return tie(best[i], best[j])
	})
	worst = append([]Ranked(nil), items...)
	sort.SliceStable(worst, func(i, j int) bool {
		if worst[i].RealizedReturn != worst[j].RealizedReturn {
			return worst[i].RealizedReturn < worst[j].RealizedReturn
		}
		return tie(worst[i], worst[j])
	})
	if len(best) > limit {
		best = best[:limit]
	}
	if len(worst) > limit {
		worst = worst[:limit]
	}
	return best, worst
}

func ratio(n, d int) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

func mean(sum float64, n int) float64 {
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
