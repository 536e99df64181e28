package market

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Timeframe 描述信号使用的 K 线周期（内部 duration + 数据源 interval）。
type Timeframe struct {
	Key            string
	Duration       time.Duration
	SourceInterval string
}

var supportedTimeframes = map[string]Timeframe{
	"1m":  {Key: "1m", Duration: time.Minute, SourceInterval: "1m"},
	"3m":  {Key: "3m", Duration: 3 * time.Minute, SourceInterval: "3m"},
	"5m":  {Key: "5m", Duration: 5 * time.Minute, SourceInterval: "5m"},
	"15m": {Key: "15m", Duration: 15 * time.Minute, SourceInterval: "15m"},
	"30m": {Key: "30m", Duration: 30 * time.Minute, SourceInterval: "30m"},
	"1h":  {Key: "1h", Duration: time.Hour, SourceInterval: "1h"},
	"2h":  {Key: "2h", Duration: 2 * time.Hour, SourceInterval: "2h"},
	"4h":  {Key: "4h", Duration: 4 * time.Hour, SourceInterval: "4h"},
	"6h":  {Key: "6h", Duration: 6 * time.Hour, SourceInterval: "6h"},
	"12h": {Key: "12h", Duration: 12 * time.Hour, SourceInterval: "12h"},
	"1d":  {Key: "1d", Duration: 24 * time.Hour, SourceInterval: "1d"},
	"3d":  {Key: "3d", Duration: 72 * time.Hour, SourceInterval: "3d"},
	"1w":  {Key: "1w", Duration: 7 * 24 * time.Hour, SourceInterval: "1w"},
}

// ParseTimeframe 返回标准化周期定义。
func ParseTimeframe(input string) (Timeframe, error) {
	key := strings.ToLower(strings.TrimSpace(input))
	if key == "7d" {
		key = "1w"
	}
	tf, ok := supportedTimeframes[key]
	if !ok {
		return Timeframe{}, fmt.Errorf("unsupported timeframe: %q", input)
	}
	return tf, nil
}

// SupportedTimeframes 返回所有支持的 key（按时长排序）。
func SupportedTimeframes() []string {
	keys := make([]string, 0, len(supportedTimeframes))
	for k := range supportedTimeframes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return supportedTimeframes[keys[i]].Duration < supportedTimeframes[keys[j]].Duration
	})
	return keys
}

// Bars 返回 n 根 K 线覆盖的时长。
func (tf Timeframe) Bars(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * tf.Duration
}

func alignDown(ts, step int64) int64 {
	if step <= 0 {
		return ts
	}
	rem := ts % step
	if rem < 0 {
		rem += step
	}
	return ts - rem
}

// AlignDown 将时间对齐到周期网格。
func (tf Timeframe) AlignDown(t time.Time) time.Time {
	ms := alignDown(t.UnixMilli(), tf.Duration.Milliseconds())
	return time.UnixMilli(ms).UTC()
}

// ParseIntervalDuration parses "15m", "1h", "4h", "1d", "1w" into time.Duration.
// Returns (0, false) on invalid input.
func ParseIntervalDuration(interval string) (time.Duration, bool) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return 0, false
	}
	unit := interval[len(interval)-1]
	numStr := strings.TrimSpace(interval[:len(interval)-1])
	if numStr == "" {
		return 0, false
	}
	n, err := strconv.Atoi(numStr)
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}
