// Package scheduler 按 K 线收盘对齐的节奏驱动评估轮次。
package scheduler

import (
	"context"
	"time"

	"sigtrack/internal/logger"
)

// AlignedScheduler 在 AlignInterval 收盘后 Offset 处第一次执行，之后以该时刻为锚点每 Interval 执行一次。
// 任务同步执行；任务耗时超过 Interval 时跳过错过的时刻。
type AlignedScheduler struct {
	Name           string
	AlignInterval  time.Duration
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	nowFn func() time.Time
}

func NewAlignedScheduler(name string, alignInterval, interval, offset time.Duration) *AlignedScheduler {
	return &AlignedScheduler{
		Name:          name,
		AlignInterval: alignInterval,
		Interval:      interval,
		Offset:        offset,
		nowFn:         time.Now,
	}
}

// Run 阻塞直到 ctx 结束。
func (s *AlignedScheduler) Run(ctx context.Context, task func(context.Context)) {
	if s == nil || task == nil {
		return
	}
	prefix := "AlignedScheduler"
	if s.Name != "" {
		prefix += "[" + s.Name + "]"
	}
	if s.AlignInterval <= 0 || s.Interval <= 0 {
		logger.Warnf("%s: invalid align_interval=%s interval=%s, exit", prefix, s.AlignInterval, s.Interval)
		return
	}
	if s.Offset < 0 {
		logger.Warnf("%s: negative offset=%s, clamp to 0", prefix, s.Offset)
		s.Offset = 0
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("%s: started align_interval=%s interval=%s offset=%s run_immediately=%v at=%s",
		prefix, s.AlignInterval, s.Interval, s.Offset, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		task(ctx)
	}

	anchor, untilClose := s.firstRun(s.nowFn())
	logger.Infof("%s: 距离K线收盘=%s 第一次执行=%s", prefix, untilClose.Truncate(time.Second), anchor.Format(time.RFC3339))
	if !waitUntil(ctx, s.nowFn, anchor) {
		logger.Infof("%s: ctx done, exit", prefix)
		return
	}
	task(ctx)

	for {
		nextAt := nextFixedTimeAfter(anchor, s.Interval, s.nowFn())
		logger.Debugf("%s: 下次执行=%s | uptime=%s", prefix, nextAt.Format(time.RFC3339),
			s.nowFn().Sub(startAt).Truncate(time.Second))
		if !waitUntil(ctx, s.nowFn, nextAt) {
			logger.Infof("%s: ctx done, exit", prefix)
			return
		}
		task(ctx)
	}
}

// firstRun 返回下一根 K 线收盘后 Offset 的时刻及距收盘的时长。
func (s *AlignedScheduler) firstRun(now time.Time) (time.Time, time.Duration) {
	now = now.UTC()
	nextClose := now.Truncate(s.AlignInterval).Add(s.AlignInterval)
	return nextClose.Add(s.Offset), nextClose.Sub(now)
}

func waitUntil(ctx context.Context, nowFn func() time.Time, target time.Time) bool {
	wait := target.Sub(nowFn())
	if wait <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func nextFixedTimeAfter(anchor time.Time, interval time.Duration, now time.Time) time.Time {
	anchor = anchor.UTC()
	now = now.UTC()
	if interval <= 0 {
		return now
	}
	delta := now.Sub(anchor)
	if delta < 0 {
		return anchor
	}
	k := delta / interval
	return anchor.Add((k + 1) * interval)
}
