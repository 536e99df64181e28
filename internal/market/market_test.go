package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	tf, err := ParseTimeframe(" 4H ")
	require.NoError(t, err)
	assert.Equal(t, "4h", tf.Key)
	assert.Equal(t, 4*time.Hour, tf.Duration)

	tf, err = ParseTimeframe("7d")
	require.NoError(t, err)
	assert.Equal(t, "1w", tf.Key)

	_, err = ParseTimeframe("7m")
	assert.Error(t, err)
}

func TestParseIntervalDuration(t *testing.T) {
	cases := map[string]time.Duration{
		"15m": 15 * time.Minute,
		"1h":  time.Hour,
		"1d":  24 * time.Hour,
		"1w":  7 * 24 * time.Hour,
	}
	for in, want := range cases {
		got, ok := ParseIntervalDuration(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got, in)
	}
	for _, bad := range []string{"", "m", "0m", "-1h", "5x"} {
		_, ok := ParseIntervalDuration(bad)
		assert.False(t, ok, bad)
	}
}

func TestSupportedTimeframesOrdered(t *testing.T) {
	keys := SupportedTimeframes()
	require.NotEmpty(t, keys)
	assert.Equal(t, "1m", keys[0])
	assert.Equal(t, "1w", keys[len(keys)-1])
}

func TestDropUnclosed(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ks := []Candle{
		{OpenTime: base.UnixMilli()},
		{OpenTime: base.Add(time.Hour).UnixMilli()},
	}
	now := base.Add(90 * time.Minute)
	assert.Len(t, DropUnclosed(ks, time.Hour, now, DefaultCloseGrace), 1)

	now = base.Add(2*time.Hour + DefaultCloseGrace)
	assert.Len(t, DropUnclosed(ks, time.Hour, now, DefaultCloseGrace), 2)
}

func TestMemoryStoreWindowBounds(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore(0)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var ks []Candle
	for i := 0; i < 5; i++ {
		ks = append(ks, Candle{OpenTime: base.Add(time.Duration(i) * time.Hour).UnixMilli(), High: 1, Low: 1})
	}
	// 乱序写入也按时间排序
	require.NoError(t, st.Put(ctx, "BTCUSDT", "1h", []Candle{ks[3], ks[1], ks[4]}))
	require.NoError(t, st.Put(ctx, "BTCUSDT", "1h", []Candle{ks[0], ks[2]}))

	out, err := st.Window(ctx, "BTCUSDT", "1h", base, base.Add(3*time.Hour))
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, ks[1].OpenTime, out[0].OpenTime)
	assert.Equal(t, ks[3].OpenTime, out[2].OpenTime)

	first, last := st.Span("BTCUSDT", "1h")
	assert.Equal(t, ks[0].OpenTime, first)
	assert.Equal(t, ks[4].OpenTime, last)
}

func TestMemoryStoreTrimsOldest(t *testing.T) {
	ctx := context.Background()
	st := newMemoryStore(2, 3)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, st.Put(ctx, "ETHUSDT", "5m", []Candle{{OpenTime: i}}))
	}
	first, last := st.Span("ETHUSDT", "5m")
	assert.Equal(t, int64(3), first)
	assert.Equal(t, int64(5), last)
}

type fakeSource struct {
	candles []Candle
	calls   []RangeQuery
	err     error
}

func (f *fakeSource) FetchRange(_ context.Context, q RangeQuery) ([]Candle, error) {
	f.calls = append(f.calls, q)
	if f.err != nil {
		return nil, f.err
	}
	var out []Candle
	for _, c := range f.candles {
		if c.OpenTime >= q.Start.UnixMilli() && c.OpenTime <= q.End.UnixMilli() {
			out = append(out, c)
		}
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeSource) Stats() SourceStats { return SourceStats{} }
func (f *fakeSource) Close() error       { return nil }

func TestSourceSupplierPagesAndDropsUnclosed(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	src := &fakeSource{}
	for i := 0; i < 6; i++ {
		src.candles = append(src.candles, Candle{OpenTime: base.Add(time.Duration(i) * time.Hour).UnixMilli()})
	}
	sup := NewSourceSupplier(src, nil, 2)
	// 第 6 根（05:00）在 now 时仍未收盘
	sup.nowFn = func() time.Time { return base.Add(5*time.Hour + 30*time.Minute) }

	out, err := sup.Window(context.Background(), "BTCUSDT", "1h", base.Add(-time.Minute), base.Add(6*time.Hour))
	require.NoError(t, err)
	require.Len(t, out, 5)
	assert.GreaterOrEqual(t, len(src.calls), 3)
	assert.Equal(t, "1h", src.calls[0].Interval)
}

func TestSourceSupplierWrapsFetchError(t *testing.T) {
	boom := errors.New("boom")
	sup := NewSourceSupplier(&fakeSource{err: boom}, nil, 10)
	now := time.Now()
	_, err := sup.Window(context.Background(), "BTCUSDT", "1h", now.Add(-time.Hour), now)
	assert.ErrorIs(t, err, boom)
}

func TestSourceSupplierRejectsUnknownTimeframe(t *testing.T) {
	sup := NewSourceSupplier(&fakeSource{}, nil, 10)
	now := time.Now()
	_, err := sup.Window(context.Background(), "BTCUSDT", "2m", now.Add(-time.Hour), now)
	assert.Error(t, err)
}
