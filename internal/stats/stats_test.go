package stats

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"sigtrack/internal/outcome"
	"sigtrack/internal/signal"
	"sigtrack/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockReader struct {
	mock.Mock
}

func (m *mockReader) ListResolved(ctx context.Context, f store.Filter) ([]store.Record, error) {
	args := m.Called(ctx, f)
	recs, _ := args.Get(0).([]store.Record)
	return recs, args.Error(1)
}

func (m *mockReader) CountPending(ctx context.Context, f store.Filter) (int, error) {
	args := m.Called(ctx, f)
	return args.Int(0), args.Error(1)
}

var resolvedBase = time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)

func record(i int, symbol, tf string, conf float64, state outcome.State, ret float64) store.Record {
	resolved := resolvedBase.Add(time.Duration(i) * time.Hour)
	r := ret
	return store.Record{
		Signal: signal.Signal{
			ID:         fmt.Sprintf("sig-%02d", i),
			Symbol:     symbol,
			Timeframe:  tf,
			Type:       signal.TypeBuy,
			Confidence: conf,
		},
		Outcome: outcome.Outcome{
			SignalID:       fmt.Sprintf("sig-%02d", i),
			State:          state,
			RealizedReturn: &r,
			ResolvedAt:     &resolved,
		},
	}
}

// 6 WON、3 LOST、1 EXPIRED
func scenarioE() []store.Record {
	return []store.Record{
		record(0, "BTCUSDT", "1h", 0.85, outcome.StateWon, 0.03),
		record(1, "BTCUSDT", "1h", 0.80, outcome.StateWon, 0.05),
		record(2, "BTCUSDT", "4h", 0.75, outcome.StateWon, 0.02),
		record(3, "ETHUSDT", "4h", 0.90, outcome.StateWon, 0.04),
		record(4, "ETHUSDT", "1h", 0.70, outcome.StateWon, 0.01),
		record(5, "SOLUSDT", "1h", 0.65, outcome.StateWon, 0.02),
		record(6, "BTCUSDT", "1h", 0.55, outcome.StateLost, -0.02),
		record(7, "ETHUSDT", "4h", 0.60, outcome.StateLost, -0.04),
		record(8, "SOLUSDT", "1h", 0.40, outcome.StateLost, -0.01),
		record(9, "SOLUSDT", "4h", 0.50, outcome.StateExpired, 0),
	}
}

func TestScenarioEWinRate(t *testing.T) {
	rd := new(mockReader)
	since := resolvedBase
	f := Filter{Filter: store.Filter{Since: &since}}
	rd.On("ListResolved", mock.Anything, f.Filter).Return(scenarioE(), nil)
	rd.On("CountPending", mock.Anything, f.Filter).Return(2, nil)

	rep, err := NewAggregator(rd).Compute(context.Background(), f)
	require.NoError(t, err)
	s := rep.Summary
	assert.Equal(t, 10, s.Total)
	assert.Equal(t, 6, s.Wins)
	assert.Equal(t, 3, s.Losses)
	assert.Equal(t, 1, s.Invalidated)
	assert.Equal(t, 2, s.Pending)
	assert.InDelta(t, 6.0/9.0, s.WinRate, 1e-12)
	assert.Equal(t, s.Total-s.Invalidated, s.Wins+s.Losses+s.Breakeven)
	assert.InDelta(t, (0.85+0.80+0.75+0.90+0.70+0.65)/6, s.AvgConfidenceWon, 1e-12)
	assert.InDelta(t, (0.55+0.60+0.40)/3, s.AvgConfidenceLost, 1e-12)
	rd.AssertExpectations(t)
}

func TestBestWorstRanking(t *testing.T) {
	recs := scenarioE()
	// 与 sig-01 收益相同但更晚结算
	recs = append(recs, record(10, "BTCUSDT", "1h", 0.5, outcome.StateWon, 0.05))
	rep := Build(recs, 3)

	require.Len(t, rep.Best, 3)
	assert.Equal(t, "sig-10", rep.Best[0].SignalID)
	assert.Equal(t, "sig-01", rep.Best[1].SignalID)
	assert.Equal(t, "sig-03", rep.Best[2].SignalID)

	require.Len(t, rep.Worst, 3)
	assert.Equal(t, "sig-07", rep.Worst[0].SignalID)
	for _, r := range append(rep.Best, rep.Worst...) {
		assert.NotEqual(t, outcome.StateExpired, r.State)
	}
}

func TestCalibrationDeciles(t *testing.T) {
	rep := Build(scenarioE(), 5)
	require.Len(t, rep.Calibration, 10)
	b8 := rep.Calibration[8]
	assert.Equal(t, "80-90%", b8.Label)
	assert.Equal(t, 2, b8.Count) // 0.85, 0.80
	assert.Equal(t, 1.0, b8.WinRate)
	b5 := rep.Calibration[5]
	assert.Equal(t, 1, b5.Count) // 0.55；0.50 的 EXPIRED 不计入
	assert.Zero(t, b5.WinRate)

	top := Build([]store.Record{record(0, "X", "1h", 1.0, outcome.StateWon, 0.1)}, 5)
	assert.Equal(t, 1, top.Calibration[9].Count)
}

func TestBreakdowns(t *testing.T) {
	rep := Build(scenarioE(), 5)
	require.Len(t, rep.BySymbol, 3)
	assert.Equal(t, "BTCUSDT", rep.BySymbol[0].Key)
	btc := rep.BySymbol[0].Summary
	assert.Equal(t, 4, btc.Total)
	assert.InDelta(t, 0.75, btc.WinRate, 1e-12)

	sol := rep.BySymbol[2].Summary
	assert.Equal(t, 1, sol.Invalidated)
	assert.InDelta(t, 0.5, sol.WinRate, 1e-12)

	require.Len(t, rep.ByTimeframe, 2)
	assert.Equal(t, "1h", rep.ByTimeframe[0].Key)
	assert.Equal(t, 6, rep.ByTimeframe[0].Summary.Total)
}

func TestWinRateBoundsAndEmpty(t *testing.T) {
	rep := Build(nil, 5)
	assert.Zero(t, rep.Summary.WinRate)
	assert.Empty(t, rep.Best)

	recs := []store.Record{
		record(0, "X", "1h", 0.5, outcome.StateExpired, 0),
		record(1, "X", "1h", 0.5, outcome.StateBreakeven, 0.001),
		record(2, "X", "1h", 0.5, outcome.StateNotApplicable, 0),
	}
	s := Build(recs, 5).Summary
	assert.Equal(t, 2, s.Total)
	assert.Zero(t, s.WinRate)
	assert.GreaterOrEqual(t, s.WinRate, 0.0)
	assert.LessOrEqual(t, s.WinRate, 1.0)
	assert.Equal(t, s.Total-s.Invalidated, s.Decided())
}

func TestComputePropagatesStoreErrors(t *testing.T) {
	rd := new(mockReader)
	rd.On("ListResolved", mock.Anything, mock.Anything).Return(nil, store.ErrStoreUnavailable)

	_, err := NewAggregator(rd).Compute(context.Background(), Filter{})
	assert.True(t, errors.Is(err, store.ErrStoreUnavailable))
}

func TestComputeRejectsInvertedWindow(t *testing.T) {
	since := resolvedBase
	until := resolvedBase.Add(-time.Hour)
	_, err := NewAggregator(new(mockReader)).Compute(context.Background(), Filter{Filter: store.Filter{Since: &since, Until: &until}})
	assert.Error(t, err)
}
