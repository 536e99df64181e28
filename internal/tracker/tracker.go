// Package tracker 编排信号提交、单信号评估与查询。
package tracker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sigtrack/internal/lock"
	"sigtrack/internal/logger"
	"sigtrack/internal/market"
	"sigtrack/internal/metrics"
	"sigtrack/internal/outcome"
	"sigtrack/internal/policy"
	"sigtrack/internal/signal"
	"sigtrack/internal/stats"
	"sigtrack/internal/store"
)

// ErrPriceWindowUnavailable 表示行情窗口拉取失败，下个周期重试。
var ErrPriceWindowUnavailable = errors.New("price window unavailable")

// Options 是 tracker 的可调参数。
type Options struct {
	NormalizeWeights bool
	// WindowTimeout 限制单次行情窗口拉取；0 表示只受调用方 ctx 约束。
	WindowTimeout time.Duration
}

// PayloadMeta 是载荷之外由调用方提供的上下文。
type PayloadMeta struct {
	OwnerID   int64
	Timeframe string
}

type Tracker struct {
	store    store.OutcomeStore
	supplier market.WindowSupplier
	locker   lock.Locker
	policies policy.Source
	stats    *stats.Aggregator
	metrics  *metrics.Metrics
	schema   *signal.Schema
	opts     Options
	nowFn    func() time.Time
	log      *slog.Logger
}

// New 组装 tracker。locker 为 nil 时使用进程内锁，policies 为 nil 时使用默认规则。
func New(st store.OutcomeStore, supplier market.WindowSupplier, locker lock.Locker, policies policy.Source, m *metrics.Metrics, schema *signal.Schema, opts Options) *Tracker {
	if locker == nil {
		locker = lock.NewMemoryLocker()
	}
	if policies == nil {
		policies = policy.NewStatic(policy.Rule{Policy: outcome.DefaultPolicy()})
	}
	if supplier == nil {
		supplier = market.NopSupplier{}
	}
	return &Tracker{
		store:    st,
		supplier: supplier,
		locker:   locker,
		policies: policies,
		stats:    stats.NewAggregator(st),
		metrics:  m,
		schema:   schema,
		opts:     opts,
		nowFn:    time.Now,
		log:      logger.With("tracker"),
	}
}

// Submit 校验 draft、补默认寿命并持久化，返回带 id 的信号。
func (t *Tracker) Submit(ctx context.Context, d signal.Draft) (signal.Signal, error) {
	now := t.nowFn().UTC()
	rule := t.policies.Resolve(d.Timeframe)
	d = d.WithDefaultExpiry(rule.DefaultTTLBars, now)
	sig, err := signal.New(d, now)
	if err != nil {
		t.metrics.ObserveSubmit(false)
		return signal.Signal{}, err
	}
	if err := t.store.UpsertPinned(ctx, sig, rule.Policy); err != nil {
		t.metrics.ObserveSubmit(false)
		return signal.Signal{}, fmt.Errorf("persist signal %s: %w", sig.ID, err)
	}
	t.metrics.ObserveSubmit(true)
	t.log.Info("signal accepted", "id", sig.ID, "symbol", sig.Symbol, "timeframe", sig.Timeframe,
		"type", sig.Type, "confidence", sig.Confidence, "expires_at", formatTime(sig.ExpiresAt))
	return sig, nil
}

// SubmitPayload 解析上游生成器的原始载荷后提交。
func (t *Tracker) SubmitPayload(ctx context.Context, raw []byte, meta PayloadMeta) (signal.Signal, error) {
	d, err := signal.ParsePayload(raw, signal.ParseOptions{
		NormalizeWeights: t.opts.NormalizeWeights,
		Schema:           t.schema,
		Timeframe:        meta.Timeframe,
		OwnerID:          meta.OwnerID,
		GeneratedAt:      t.nowFn().UTC(),
	})
	if err != nil {
		t.metrics.ObserveSubmit(false)
		return signal.Signal{}, err
	}
	return t.Submit(ctx, d)
}

// Evaluate 对单个信号执行一次评估。只有评估器返回且有变化时才提交；
// ctx 被取消时不会写入任何内容。
func (t *Tracker) Evaluate(ctx context.Context, id string, now time.Time) (outcome.Outcome, error) {
	start := time.Now()
	release, err := t.locker.TryLock(ctx, id)
	if err != nil {
		t.observe("", "conflict", start, 0, nil)
		return outcome.Outcome{}, err
	}
	defer release()

	rec, err := t.store.GetRecord(ctx, id)
	if err != nil {
		t.observe("", "error", start, 0, nil)
		return outcome.Outcome{}, err
	}
	sig, cur := rec.Signal, rec.Outcome
	if cur.State.Terminal() {
		return cur, nil
	}

	from, to := evaluationWindow(sig, cur, now)
	var bars []market.Candle
	if to.After(from) {
		bars, err = t.window(ctx, sig, from, to)
		if err != nil {
			t.metrics.ObserveSupplierError(sig.Timeframe)
			t.observe(sig.Timeframe, "window_error", start, 0, nil)
			return cur, err
		}
	}

	// 提交时固定的规则优先；旧数据没有固定规则时用当前规则，并随本次提交固定下来
	if cur.Policy == nil {
		p := t.policies.Resolve(sig.Timeframe).Policy
		cur.Policy = &p
	}
	res, err := outcome.NewEvaluator(*cur.Policy).Evaluate(sig, cur, bars, now)
	if err != nil {
		t.observe(sig.Timeframe, "rejected_window", start, 0, nil)
		return cur, fmt.Errorf("evaluate %s: %w", id, err)
	}
	if err := ctx.Err(); err != nil {
		return cur, err
	}
	if !res.Changed() {
		t.observe(sig.Timeframe, "unchanged", start, 0, nil)
		return cur, nil
	}
	committed, err := t.store.CommitEvaluation(ctx, id, cur.Version, res.Outcome, res.Transitions)
	if err != nil {
		result := "error"
		if errors.Is(err, store.ErrConcurrentEvaluation) {
			result = "conflict"
		}
		t.observe(sig.Timeframe, result, start, 0, nil)
		return cur, err
	}
	moved := make([]string, 0, len(res.Transitions))
	for _, tr := range res.Transitions {
		moved = append(moved, string(tr.To))
		t.log.Info("outcome transition", "id", id, "symbol", sig.Symbol, "timeframe", sig.Timeframe,
			"from", tr.From, "to", tr.To, "reason", tr.Reason, "at", tr.At.Format(time.RFC3339), "price", tr.Price)
	}
	t.observe(sig.Timeframe, "committed", start, res.Applied, moved)
	return committed, nil
}

// NonTerminal 返回仍需评估的信号 id，按 generated_at 排序。
func (t *Tracker) NonTerminal(ctx context.Context) ([]string, error) {
	return t.store.ListNonTerminal(ctx)
}

func (t *Tracker) Outcome(ctx context.Context, id string) (outcome.Outcome, error) {
	return t.store.GetOutcome(ctx, id)
}

func (t *Tracker) Signal(ctx context.Context, id string) (signal.Signal, error) {
	return t.store.GetSignal(ctx, id)
}

func (t *Tracker) Record(ctx context.Context, id string) (store.Record, error) {
	return t.store.GetRecord(ctx, id)
}

func (t *Tracker) Transitions(ctx context.Context, id string) ([]outcome.Transition, error) {
	if _, err := t.store.GetOutcome(ctx, id); err != nil {
		return nil, err
	}
	return t.store.ListTransitions(ctx, id)
}

func (t *Tracker) List(ctx context.Context, q store.Query) ([]store.Record, error) {
	return t.store.List(ctx, q)
}

func (t *Tracker) Stats(ctx context.Context, f stats.Filter) (stats.Report, error) {
	return t.stats.Compute(ctx, f)
}

func (t *Tracker) window(ctx context.Context, sig signal.Signal, from, to time.Time) ([]market.Candle, error) {
	if t.opts.WindowTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.opts.WindowTimeout)
		defer cancel()
	}
	bars, err := t.supplier.Window(ctx, sig.Symbol, sig.Timeframe, from, to)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			return nil, fmt.Errorf("%w: %s %s: %w", ErrPriceWindowUnavailable, sig.Symbol, sig.Timeframe, ctxErr)
		}
		return nil, fmt.Errorf("%w: %s %s: %w", ErrPriceWindowUnavailable, sig.Symbol, sig.Timeframe, err)
	}
	return bars, nil
}

func (t *Tracker) observe(tf, result string, start time.Time, bars int, to []string) {
	if tf == "" {
		tf = "unknown"
	}
	t.metrics.ObserveEvaluation(tf, result, time.Since(start), bars, to)
}

// evaluationWindow 返回 (from, to]：新结果从 generated_at 起（含），否则从上次游标之后；
// 上界不超过 expires_at，过期那根 K 线本身用于触发过期。
func evaluationWindow(sig signal.Signal, cur outcome.Outcome, now time.Time) (time.Time, time.Time) {
	from := sig.GeneratedAt.Add(-time.Millisecond)
	if cur.LastEvaluatedAt != nil {
		from = *cur.LastEvaluatedAt
	}
	to := now.UTC()
	if sig.ExpiresAt != nil && to.After(*sig.ExpiresAt) {
		to = *sig.ExpiresAt
	}
	return from, to
}

// Retryable 判断错误是否应在下个周期重试而不是视为永久失败。
func Retryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, store.ErrConcurrentEvaluation),
		errors.Is(err, store.ErrStoreUnavailable),
		errors.Is(err, outcome.ErrUnorderedPriceWindow),
		errors.Is(err, outcome.ErrInvalidPriceBar),
		errors.Is(err, ErrPriceWindowUnavailable),
		errors.Is(err, context.DeadlineExceeded):
		return true
	default:
		return false
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
