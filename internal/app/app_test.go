package app

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"sigtrack/internal/config"
	"sigtrack/internal/logger"
	"sigtrack/internal/market"
	"sigtrack/internal/outcome"
	"sigtrack/internal/policy"
	"sigtrack/internal/signal"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "app.db")
	cfg.Market.Source = "none"
	cfg.Scheduler.Enabled = true
	cfg.Evaluator.DefaultTTLBars = 4
	return cfg
}

func TestBuildWiresTracker(t *testing.T) {
	gen := time.Now().UTC().Add(-3 * time.Hour).Truncate(time.Hour)
	bars := market.WindowSupplierFunc(func(_ context.Context, _, _ string, from, to time.Time) ([]market.Candle, error) {
		c := market.Candle{OpenTime: gen.UnixMilli(), CloseTime: gen.Add(time.Hour).UnixMilli() - 1, Open: 100, High: 106, Low: 99, Close: 105}
		if !c.OpenAt().After(from) || c.OpenAt().After(to) {
			return nil, nil
		}
		return []market.Candle{c}, nil
	})
	a, err := NewAppBuilder(testConfig(t), WithSupplier(bars)).Build(context.Background())
	require.NoError(t, err)
	defer a.Close()

	require.NotNil(t, a.Tracker())
	require.NotNil(t, a.Queue())
	assert.Contains(t, a.Summary.String(), "stop_first")

	ctx := context.Background()
	sig, err := a.Tracker().Submit(ctx, signal.Draft{
		Symbol: "BTCUSDT", Timeframe: "1h", Type: signal.TypeBuy, Confidence: 0.8,
		Entries:     []signal.Entry{{Price: 100, Weight: 1}},
		TakeProfits: []signal.TakeProfit{{Price: 105}},
		StopLoss:    96,
		GeneratedAt: gen,
	})
	require.NoError(t, err)
	require.NotNil(t, sig.ExpiresAt, "default ttl from evaluator config")
	assert.Equal(t, gen.Add(4*time.Hour), *sig.ExpiresAt)

	rep, err := a.Queue().RunPass(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Total)
	assert.Equal(t, 1, rep.Resolved)

	out, err := a.Tracker().Outcome(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, outcome.StateWon, out.State)
}

func TestNewAppViaWire(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.Enabled = false
	a, err := NewApp(cfg)
	require.NoError(t, err)
	assert.Nil(t, a.Queue())
	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}

func TestBuildRejectsNilConfig(t *testing.T) {
	_, err := NewApp(nil)
	assert.Error(t, err)
}

func TestStartupSummaryPrintsToLog(t *testing.T) {
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(os.Stdout)

	cfg := config.Default()
	cfg.Store.Path = filepath.Join(t.TempDir(), "summary.db")
	newStartupSummary(cfg, policy.NewStatic(policy.Rule{Policy: outcome.DefaultPolicy()}).Snapshot()).Print()
	out := buf.String()
	assert.Contains(t, out, "STARTUP SUMMARY")
	assert.Contains(t, out, cfg.Store.Path)
	assert.Greater(t, strings.Count(out, "level=INFO"), 5, "one log record per summary line")
}
