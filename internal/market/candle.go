package market

import (
	"time"
)

// Candle 是一根 OHLC K 线，时间戳为毫秒。
type Candle struct {
	OpenTime  int64   `json:"open_time"`
	CloseTime int64   `json:"close_time,omitempty"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume,omitempty"`
}

func (c Candle) OpenAt() time.Time {
	return time.UnixMilli(c.OpenTime).UTC()
}

// Contains reports whether price lies inside [Low, High].
func (c Candle) Contains(price float64) bool {
	if price <= 0 {
		return false
	}
	return c.Low <= price && price <= c.High
}

func (c Candle) TimeString() string {
	ts := c.CloseTime
	if ts == 0 {
		ts = c.OpenTime
	}
	if ts <= 0 {
		return "-"
	}
	return time.UnixMilli(ts).UTC().Format("01-02 15:04") + "Z"
}

// DropUnclosed 去掉仍在形成中的最后一根 K 线。
// 未收盘的 K 线高低点还会变化，评估后又会被 last_evaluated_at 跳过，必须丢弃。
func DropUnclosed(klines []Candle, interval time.Duration, now time.Time, grace time.Duration) []Candle {
	if len(klines) == 0 || interval <= 0 {
		return klines
	}
	if grace < 0 {
		grace = 0
	}
	last := klines[len(klines)-1]
	if last.OpenTime <= 0 {
		return klines
	}
	cutoffMs := last.OpenTime + interval.Milliseconds() + grace.Milliseconds()
	if now.UnixMilli() < cutoffMs {
		return klines[:len(klines)-1]
	}
	return klines
}
