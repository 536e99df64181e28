package market

import (
	"context"
	"time"
)

// RangeQuery 是一次历史 K 线拉取请求，Start/End 均为包含边界。
type RangeQuery struct {
	Symbol   string
	Interval string
	Start    time.Time
	End      time.Time
	Limit    int
}

type SourceStats struct {
	Requests  int
	Failures  int
	Throttled int
	LastError string
}

// Source 是外部行情源（交易所 REST）。
type Source interface {
	FetchRange(ctx context.Context, q RangeQuery) ([]Candle, error)
	Stats() SourceStats
	Close() error
}
