package market

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// MemoryStore 是按 symbol@timeframe 分片的内存 K 线窗口，既可单独作为 WindowSupplier，
// 也作为 SourceSupplier 的缓存。
type MemoryStore struct {
	shards []candleShard
	max    int
}

type candleShard struct {
	mu   sync.RWMutex
	data map[string][]Candle
}

const (
	defaultShardCount = 32
	defaultMaxCandles = 5000
)

func NewMemoryStore(maxPerKey int) *MemoryStore {
	return newMemoryStore(defaultShardCount, maxPerKey)
}

func newMemoryStore(shards, maxPerKey int) *MemoryStore {
	if shards <= 0 {
		shards = 1
	}
	if maxPerKey <= 0 {
		maxPerKey = defaultMaxCandles
	}
	out := &MemoryStore{shards: make([]candleShard, shards), max: maxPerKey}
	for i := range out.shards {
		out.shards[i] = candleShard{data: make(map[string][]Candle)}
	}
	return out
}

func storeKey(symbol, timeframe string) string { return symbol + "@" + timeframe }

func (s *MemoryStore) shardFor(key string) *candleShard {
	idx := hashKey(key) % uint32(len(s.shards))
	return &s.shards[idx]
}

// Put 合并 K 线：同 open_time 覆盖，其余按时间插入，超出上限时丢弃最旧的。
func (s *MemoryStore) Put(_ context.Context, symbol, timeframe string, ks []Candle) error {
	if symbol == "" || timeframe == "" {
		return errors.New("symbol/timeframe 不能为空")
	}
	if len(ks) == 0 {
		return nil
	}
	k := storeKey(symbol, timeframe)
	sh := s.shardFor(k)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	byOpen := make(map[int64]Candle, len(sh.data[k])+len(ks))
	for _, c := range sh.data[k] {
		byOpen[c.OpenTime] = c
	}
	for _, c := range ks {
		byOpen[c.OpenTime] = c
	}
	cur := make([]Candle, 0, len(byOpen))
	for _, c := range byOpen {
		cur = append(cur, c)
	}
	sort.Slice(cur, func(i, j int) bool { return cur[i].OpenTime < cur[j].OpenTime })
	if len(cur) > s.max {
		cur = cur[len(cur)-s.max:]
	}
	sh.data[k] = cur
	return nil
}

// Window 返回 open_time 落在 (from, to] 的 K 线副本。
func (s *MemoryStore) Window(_ context.Context, symbol, timeframe string, from, to time.Time) ([]Candle, error) {
	k := storeKey(symbol, timeframe)
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	return sliceWindow(sh.data[k], from, to), nil
}

// Span 返回缓存中第一根和最后一根 K 线的 open_time（毫秒），没有数据时返回 0, 0。
func (s *MemoryStore) Span(symbol, timeframe string) (first, last int64) {
	k := storeKey(symbol, timeframe)
	sh := s.shardFor(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	cur := sh.data[k]
	if len(cur) == 0 {
		return 0, 0
	}
	return cur[0].OpenTime, cur[len(cur)-1].OpenTime
}

func sliceWindow(cur []Candle, from, to time.Time) []Candle {
	if len(cur) == 0 {
		return nil
	}
	fromMs, toMs := from.UnixMilli(), to.UnixMilli()
	start := sort.Search(len(cur), func(i int) bool { return cur[i].OpenTime > fromMs })
	out := make([]Candle, 0, len(cur)-start)
	for _, c := range cur[start:] {
		if c.OpenTime > toMs {
			break
		}
		out = append(out, c)
	}
	return out
}

func hashKey(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	var h uint32 = offset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
