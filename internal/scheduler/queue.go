package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sigtrack/internal/logger"
	"sigtrack/internal/metrics"
	"sigtrack/internal/outcome"
	"sigtrack/internal/pkg/circuit"
	"sigtrack/internal/store"
	"sigtrack/internal/tracker"

	"golang.org/x/sync/errgroup"
)

// ErrPassRunning 表示上一轮尚未结束，本轮跳过。
var ErrPassRunning = errors.New("evaluation pass already running")

// Evaluator 是评估轮次依赖的最小能力，由 tracker.Tracker 实现。
type Evaluator interface {
	NonTerminal(ctx context.Context) ([]string, error)
	Evaluate(ctx context.Context, id string, now time.Time) (outcome.Outcome, error)
}

type QueueOptions struct {
	MaxConcurrent int
	// SignalTimeout 限制单个信号的行情拉取与存储访问。
	SignalTimeout time.Duration
}

// PassReport 汇总一轮评估。
type PassReport struct {
	Started   time.Time     `json:"started"`
	Took      time.Duration `json:"took"`
	Total     int           `json:"total"`
	Evaluated int           `json:"evaluated"`
	Resolved  int           `json:"resolved"`
	Busy      int           `json:"busy"`
	Retry     int           `json:"retry"`
	Failed    int           `json:"failed"`
	Skipped   bool          `json:"skipped"`
}

// EvaluationQueue 对 ListNonTerminal 的快照建立游标，按有限并发逐个评估。
type EvaluationQueue struct {
	ev      Evaluator
	breaker *circuit.Breaker
	metrics *metrics.Metrics
	opts    QueueOptions
	nowFn   func() time.Time

	running sync.Mutex

	mu     sync.Mutex
	cursor []string
	pos    int
}

func NewEvaluationQueue(ev Evaluator, breaker *circuit.Breaker, m *metrics.Metrics, opts QueueOptions) *EvaluationQueue {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if breaker != nil {
		breaker.CountIf(func(err error) bool { return errors.Is(err, store.ErrStoreUnavailable) })
		breaker.OnStateChange(func(name string, from, to circuit.State) {
			logger.Warnf("breaker %s: %s -> %s", name, from, to)
			m.SetBreakerOpen(to == circuit.StateOpen)
		})
	}
	return &EvaluationQueue{ev: ev, breaker: breaker, metrics: m, opts: opts, nowFn: time.Now}
}

// Load 用当前非终态 id 重建游标，返回条目数。
func (q *EvaluationQueue) Load(ctx context.Context) (int, error) {
	ids, err := q.ev.NonTerminal(ctx)
	if err != nil {
		return 0, err
	}
	q.mu.Lock()
	q.cursor = ids
	q.pos = 0
	q.mu.Unlock()
	return len(ids), nil
}

// Next 返回游标上的下一个 id。
func (q *EvaluationQueue) Next() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.pos >= len(q.cursor) {
		return "", false
	}
	id := q.cursor[q.pos]
	q.pos++
	return id, true
}

// Remaining 返回游标上未取出的数量。
func (q *EvaluationQueue) Remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.cursor) - q.pos
}

// RunPass 执行一轮评估。存储不可用时中止本轮并计入熔断器；熔断打开期间直接跳过。
// 其余单信号错误只记录日志，下个周期重试。
func (q *EvaluationQueue) RunPass(ctx context.Context) (PassReport, error) {
	rep := PassReport{Started: q.nowFn().UTC()}
	if !q.running.TryLock() {
		rep.Skipped = true
		return rep, ErrPassRunning
	}
	defer q.running.Unlock()

	run := func() error { return q.drain(ctx, &rep) }
	var err error
	if q.breaker != nil {
		err = q.breaker.Do(run)
	} else {
		err = run()
	}
	rep.Took = q.nowFn().Sub(rep.Started)
	if errors.Is(err, circuit.ErrOpen) {
		rep.Skipped = true
		logger.Warnf("evaluation pass skipped: %v", err)
		return rep, err
	}
	q.metrics.ObserveSweep(rep.Took, rep.Total, q.nowFn())
	if err != nil {
		logger.Errorf("evaluation pass aborted after %d/%d: %v", rep.Evaluated, rep.Total, err)
		return rep, err
	}
	logger.Infof("evaluation pass done: total=%d evaluated=%d resolved=%d busy=%d retry=%d failed=%d took=%s",
		rep.Total, rep.Evaluated, rep.Resolved, rep.Busy, rep.Retry, rep.Failed, rep.Took.Truncate(time.Millisecond))
	return rep, nil
}

func (q *EvaluationQueue) drain(ctx context.Context, rep *PassReport) error {
	total, err := q.Load(ctx)
	if err != nil {
		return fmt.Errorf("load non-terminal signals: %w", err)
	}
	rep.Total = total
	now := q.nowFn().UTC()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(q.opts.MaxConcurrent)
	for {
		if gctx.Err() != nil {
			break
		}
		id, ok := q.Next()
		if !ok {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			out, err := q.evaluateOne(gctx, id, now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				rep.Evaluated++
				if out.State.Terminal() {
					rep.Resolved++
				}
			case errors.Is(err, store.ErrStoreUnavailable):
				return err
			case errors.Is(err, store.ErrConcurrentEvaluation):
				rep.Busy++
			case errors.Is(err, context.Canceled) && gctx.Err() != nil:
				// 整轮被取消
			case tracker.Retryable(err):
				rep.Retry++
				logger.Warnf("evaluate %s: %v (retry next cycle)", id, err)
			default:
				rep.Failed++
				logger.Errorf("evaluate %s: %v", id, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

func (q *EvaluationQueue) evaluateOne(ctx context.Context, id string, now time.Time) (outcome.Outcome, error) {
	if q.opts.SignalTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.opts.SignalTimeout)
		defer cancel()
	}
	return q.ev.Evaluate(ctx, id, now)
}
