package market

import (
	"context"
	"fmt"
	"time"
)

// DefaultCloseGrace 是判定 K 线收盘的宽限期。
const DefaultCloseGrace = 10 * time.Second

// SourceSupplier 用 Source 补齐缓存缺口，再从 MemoryStore 切出窗口。
type SourceSupplier struct {
	src     Source
	cache   *MemoryStore
	maxBars int
	grace   time.Duration
	nowFn   func() time.Time
}

func NewSourceSupplier(src Source, cache *MemoryStore, maxBars int) *SourceSupplier {
	if cache == nil {
		cache = NewMemoryStore(0)
	}
	if maxBars <= 0 {
		maxBars = 1500
	}
	return &SourceSupplier{
		src:     src,
		cache:   cache,
		maxBars: maxBars,
		grace:   DefaultCloseGrace,
		nowFn:   time.Now,
	}
}

func (s *SourceSupplier) Window(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]Candle, error) {
	tf, err := ParseTimeframe(timeframe)
	if err != nil {
		return nil, err
	}
	if !to.After(from) {
		return nil, nil
	}
	fetchFrom := from
	// 缓存已覆盖窗口起点时只补尾部。
	if first, last := s.cache.Span(symbol, tf.Key); last > 0 && first <= from.UnixMilli()+tf.Duration.Milliseconds() {
		if ts := time.UnixMilli(last); ts.After(fetchFrom) {
			fetchFrom = ts
		}
	}
	for fetchFrom.Before(to) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := s.src.FetchRange(ctx, RangeQuery{
			Symbol:   symbol,
			Interval: tf.SourceInterval,
			Start:    fetchFrom,
			End:      to,
			Limit:    s.maxBars,
		})
		if err != nil {
			return nil, fmt.Errorf("fetch %s %s: %w", symbol, tf.Key, err)
		}
		batch = DropUnclosed(batch, tf.Duration, s.nowFn(), s.grace)
		if len(batch) == 0 {
			break
		}
		if err := s.cache.Put(ctx, symbol, tf.Key, batch); err != nil {
			return nil, err
		}
		next := time.UnixMilli(batch[len(batch)-1].OpenTime + 1)
		if !next.After(fetchFrom) || len(batch) < s.maxBars {
			break
		}
		fetchFrom = next
	}
	return s.cache.Window(ctx, symbol, tf.Key, from, to)
}
