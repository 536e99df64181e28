package binance

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"sigtrack/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const klinesBody = `[
 [1717200000000,"100.0","101.0","99.0","100.5","12.5",1717203599999,"1250.0",42,"6.0","600.0","0"],
 [1717203600000,"100.5","106.0","104.0","105.2","8.0",1717207199999,"840.0",30,"4.0","420.0","0"]
]`

func TestFetchRange(t *testing.T) {
	var got atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.Store(r.URL.Query())
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(klinesBody))
	}))
	defer srv.Close()

	src, err := New(Config{RESTBaseURL: srv.URL})
	require.NoError(t, err)
	start := time.UnixMilli(1717200000000).UTC()
	bars, err := src.FetchRange(context.Background(), market.RangeQuery{
		Symbol: "btc/usdt", Interval: "1H", Start: start, End: start.Add(2 * time.Hour), Limit: 10,
	})
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, int64(1717200000000), bars[0].OpenTime)
	assert.Equal(t, 106.0, bars[1].High)
	assert.Equal(t, 104.0, bars[1].Low)

	q := got.Load().(url.Values)
	assert.Equal(t, []string{"BTCUSDT"}, q["symbol"])
	assert.Equal(t, []string{"1h"}, q["interval"])
	assert.Equal(t, []string{"1717200000000"}, q["startTime"])
	assert.Equal(t, []string{"10"}, q["limit"])
	assert.Equal(t, 1, src.Stats().Requests)
}

func TestFetchRangeBreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"code":-1000,"msg":"internal"}`))
	}))
	defer srv.Close()

	src, err := New(Config{RESTBaseURL: srv.URL, BreakerFailures: 2, BreakerCooldown: time.Hour})
	require.NoError(t, err)
	q := market.RangeQuery{Symbol: "ETHUSDT", Interval: "4h"}
	for i := 0; i < 3; i++ {
		_, err = src.FetchRange(context.Background(), q)
		require.Error(t, err)
	}
	assert.Equal(t, int32(2), calls.Load())
	st := src.Stats()
	assert.Equal(t, 2, st.Failures)
	assert.Equal(t, 1, st.Throttled)
}

func TestFetchRangeValidates(t *testing.T) {
	src, err := New(Config{})
	require.NoError(t, err)
	_, err = src.FetchRange(context.Background(), market.RangeQuery{Interval: "1h"})
	assert.Error(t, err)
	_, err = src.FetchRange(context.Background(), market.RangeQuery{Symbol: "BTCUSDT"})
	assert.Error(t, err)
}
