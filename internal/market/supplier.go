package market

import (
	"context"
	"time"
)

// WindowSupplier 返回 symbol/timeframe 在 (from, to] 内已收盘的 K 线，按 open_time 升序。
// 调用方负责超时控制；实现不应无限期阻塞。
type WindowSupplier interface {
	Window(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]Candle, error)
}

// WindowSupplierFunc 让普通函数实现 WindowSupplier。
type WindowSupplierFunc func(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]Candle, error)

func (f WindowSupplierFunc) Window(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]Candle, error) {
	return f(ctx, symbol, timeframe, from, to)
}

// NopSupplier 永远返回空窗口，market.source=none 时使用（只做时钟驱动的过期）。
type NopSupplier struct{}

func (NopSupplier) Window(context.Context, string, string, time.Time, time.Time) ([]Candle, error) {
	return nil, nil
}
