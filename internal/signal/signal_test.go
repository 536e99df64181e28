package signal

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var genAt = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

func buyDraft() Draft {
	return Draft{
		Symbol:      "btc/usdt",
		Timeframe:   "1H",
		Type:        "buy",
		Confidence:  0.7,
		Entries:     []Entry{{Price: 100, Weight: 0.6}, {Price: 98, Weight: 0.4}},
		TakeProfits: []TakeProfit{{Price: 105, RewardRatio: 1.5}},
		StopLoss:    96,
		GeneratedAt: genAt,
	}
}

func TestNewNormalizesFields(t *testing.T) {
	sig, err := New(buyDraft(), time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, sig.ID)
	assert.Equal(t, "BTCUSDT", sig.Symbol)
	assert.Equal(t, "1h", sig.Timeframe)
	assert.Equal(t, TypeBuy, sig.Type)
	assert.InDelta(t, 99.2, sig.WeightedEntry(), 1e-9)
}

func TestNewAssignsDistinctIDs(t *testing.T) {
	a, err := New(buyDraft(), time.Now())
	require.NoError(t, err)
	b, err := New(buyDraft(), time.Now())
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestNewRejectsBadShapes(t *testing.T) {
	cases := map[string]func(d *Draft){
		"weights sum":        func(d *Draft) { d.Entries[1].Weight = 0.5 },
		"negative weight":    func(d *Draft) { d.Entries = []Entry{{Price: 100, Weight: 1.2}, {Price: 98, Weight: -0.2}} },
		"no entries":         func(d *Draft) { d.Entries = nil },
		"no targets":         func(d *Draft) { d.TakeProfits = nil },
		"tp below entry":     func(d *Draft) { d.TakeProfits = []TakeProfit{{Price: 99}} },
		"tp not monotonic":   func(d *Draft) { d.TakeProfits = []TakeProfit{{Price: 106}, {Price: 105}} },
		"sl wrong side":      func(d *Draft) { d.StopLoss = 101 },
		"confidence range":   func(d *Draft) { d.Confidence = 1.2 },
		"unknown type":       func(d *Draft) { d.Type = "MAYBE" },
		"unknown timeframe":  func(d *Draft) { d.Timeframe = "7m" },
		"expiry before gen":  func(d *Draft) { exp := genAt.Add(-time.Hour); d.ExpiresAt = &exp },
		"non positive price": func(d *Draft) { d.Entries[0].Price = 0 },
		"nan confidence":     func(d *Draft) { d.Confidence = math.NaN() },
		"nan weight":         func(d *Draft) { d.Entries = []Entry{{Price: 100, Weight: math.NaN()}, {Price: 98, Weight: 1}} },
		"inf entry price":    func(d *Draft) { d.Entries[0].Price = math.Inf(1) },
		"nan target":         func(d *Draft) { d.TakeProfits = []TakeProfit{{Price: math.NaN()}} },
		"nan reward ratio":   func(d *Draft) { d.TakeProfits = []TakeProfit{{Price: 105, RewardRatio: math.NaN()}} },
		"inf stop loss":      func(d *Draft) { d.StopLoss = math.Inf(-1) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			d := buyDraft()
			d.Entries = append([]Entry(nil), d.Entries...)
			mutate(&d)
			_, err := New(d, time.Now())
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidSignalShape), err.Error())
		})
	}
}

func TestNewAcceptsWeightsWithinTolerance(t *testing.T) {
	d := buyDraft()
	d.Entries = []Entry{{Price: 100, Weight: 0.6000004}, {Price: 98, Weight: 0.4}}
	_, err := New(d, time.Now())
	assert.NoError(t, err)
}

func TestNewSellDirection(t *testing.T) {
	d := Draft{
		Symbol:      "ETHUSDT",
		Timeframe:   "4h",
		Type:        TypeSell,
		Confidence:  0.5,
		Entries:     []Entry{{Price: 2000, Weight: 1}},
		TakeProfits: []TakeProfit{{Price: 1900}, {Price: 1800}},
		StopLoss:    2100,
	}
	sig, err := New(d, genAt)
	require.NoError(t, err)
	assert.Equal(t, genAt, sig.GeneratedAt)
	assert.InDelta(t, 1.0, sig.TakeProfits[0].RewardRatio, 1e-9)
	assert.InDelta(t, 2.0, sig.TakeProfits[1].RewardRatio, 1e-9)

	d.StopLoss = 1950
	_, err = New(d, genAt)
	assert.ErrorIs(t, err, ErrInvalidSignalShape)
}

func TestHoldSkipsLevelValidation(t *testing.T) {
	sig, err := New(Draft{Symbol: "SOLUSDT", Timeframe: "15m", Type: "hold", Confidence: 0.3, StopLoss: 999}, genAt)
	require.NoError(t, err)
	assert.Equal(t, TypeHold, sig.Type)
	assert.Empty(t, sig.Entries)
	assert.Zero(t, sig.StopLoss)
}

func TestCloneIsDeep(t *testing.T) {
	sig, err := New(buyDraft(), time.Now())
	require.NoError(t, err)
	cp := sig.Clone()
	cp.Entries[0].Price = 1
	assert.Equal(t, 100.0, sig.Entries[0].Price)
	assert.True(t, sig.Equal(sig.Clone()))
	assert.False(t, sig.Equal(cp))
}

func TestBlendedEntryUsesFilledOnly(t *testing.T) {
	sig, err := New(buyDraft(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 100.0, sig.BlendedEntry([]int{0}))
	assert.InDelta(t, 99.2, sig.BlendedEntry([]int{0, 1}), 1e-9)
	assert.Zero(t, sig.BlendedEntry(nil))
}

func TestWithDefaultExpiry(t *testing.T) {
	d := buyDraft().WithDefaultExpiry(24, time.Now())
	require.NotNil(t, d.ExpiresAt)
	assert.Equal(t, genAt.Add(24*time.Hour), *d.ExpiresAt)

	exp := genAt.Add(time.Hour)
	d = buyDraft()
	d.ExpiresAt = &exp
	assert.Equal(t, exp, *d.WithDefaultExpiry(24, time.Now()).ExpiresAt)
}

func TestNormalizeWeights(t *testing.T) {
	out := NormalizeWeights([]Entry{{Price: 1, Weight: 40}, {Price: 2, Weight: 60}})
	assert.InDelta(t, 0.4, out[0].Weight, 1e-9)
	assert.InDelta(t, 0.6, out[1].Weight, 1e-9)

	even := NormalizeWeights([]Entry{{Price: 1}, {Price: 2}, {Price: 3}})
	for _, e := range even {
		assert.InDelta(t, 1.0/3, e.Weight, 1e-8)
	}
}
