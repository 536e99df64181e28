package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"sigtrack/internal/market"
	"sigtrack/internal/outcome"
	"sigtrack/internal/signal"
	"sigtrack/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()
	st, err := NewSqliteStore(filepath.Join(t.TempDir(), "sigtrack.db"), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func newSignal(t *testing.T, symbol, tf string, typ signal.Type, gen time.Time) signal.Signal {
	t.Helper()
	d := signal.Draft{
		Symbol:      symbol,
		Timeframe:   tf,
		Type:        typ,
		Confidence:  0.65,
		Entries:     []signal.Entry{{Price: 100, Weight: 0.6}, {Price: 98, Weight: 0.4}},
		TakeProfits: []signal.TakeProfit{{Price: 105}, {Price: 110}},
		StopLoss:    96,
		GeneratedAt: gen,
		OwnerID:     7,
		Note:        "test",
	}
	if typ == signal.TypeSell {
		d.TakeProfits = []signal.TakeProfit{{Price: 95}, {Price: 90}}
		d.StopLoss = 104
	}
	sig, err := signal.New(d, gen)
	require.NoError(t, err)
	return sig
}

func TestUpsertIsWriteOnce(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sig := newSignal(t, "BTCUSDT", "1h", signal.TypeBuy, base)

	require.NoError(t, st.Upsert(ctx, sig))
	require.NoError(t, st.Upsert(ctx, sig), "identical re-upsert is a no-op")

	changed := sig.Clone()
	changed.StopLoss = 95
	err := st.Upsert(ctx, changed)
	assert.ErrorIs(t, err, store.ErrSignalImmutable)

	got, err := st.GetSignal(ctx, sig.ID)
	require.NoError(t, err)
	assert.True(t, sig.Equal(got))

	out, err := st.GetOutcome(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, outcome.StatePending, out.State)
	assert.Zero(t, out.Version)
}

func TestUpsertHoldRecordsNotApplicable(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sig := newSignal(t, "BTCUSDT", "1h", signal.TypeHold, base)
	require.NoError(t, st.Upsert(ctx, sig))

	out, err := st.GetOutcome(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, outcome.StateNotApplicable, out.State)

	trs, err := st.ListTransitions(ctx, sig.ID)
	require.NoError(t, err)
	require.Len(t, trs, 1)
	assert.Equal(t, 1, trs[0].Seq)
	assert.Equal(t, outcome.ReasonNotApplicable, trs[0].Reason)

	ids, err := st.ListNonTerminal(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestGetMissing(t *testing.T) {
	st := newTestStore(t)
	_, err := st.GetOutcome(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.GetSignal(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func evaluateAndCommit(t *testing.T, st *SqliteStore, sig signal.Signal, bars ...market.Candle) outcome.Outcome {
	t.Helper()
	ctx := context.Background()
	cur, err := st.GetOutcome(ctx, sig.ID)
	require.NoError(t, err)
	res, err := outcome.NewEvaluator(outcome.DefaultPolicy()).Evaluate(sig, cur, bars, bars[len(bars)-1].OpenAt().Add(time.Hour))
	require.NoError(t, err)
	committed, err := st.CommitEvaluation(ctx, sig.ID, cur.Version, res.Outcome, res.Transitions)
	require.NoError(t, err)
	return committed
}

func candle(at time.Time, low, high float64) market.Candle {
	return market.Candle{OpenTime: at.UnixMilli(), Low: low, High: high, Open: low, Close: high}
}

func TestCommitEvaluationVersionsAndTransitions(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sig := newSignal(t, "BTCUSDT", "1h", signal.TypeBuy, base)
	require.NoError(t, st.Upsert(ctx, sig))

	out := evaluateAndCommit(t, st, sig, candle(base, 99, 101))
	assert.Equal(t, outcome.StateEntryFilled, out.State)
	assert.Equal(t, int64(1), out.Version)

	out = evaluateAndCommit(t, st, sig, candle(base.Add(time.Hour), 104, 106))
	assert.Equal(t, outcome.StateWon, out.State)
	assert.Equal(t, int64(2), out.Version)

	stored, err := st.GetOutcome(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, out, stored)

	trs, err := st.ListTransitions(ctx, sig.ID)
	require.NoError(t, err)
	require.Len(t, trs, 2)
	assert.Equal(t, []int{1, 2}, []int{trs[0].Seq, trs[1].Seq})
	assert.Equal(t, outcome.StatePending, trs[0].From)
	assert.Equal(t, outcome.StateWon, trs[1].To)
	assert.Equal(t, base.Add(time.Hour), trs[1].At)
}

func TestCommitEvaluationRejectsStaleVersion(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sig := newSignal(t, "BTCUSDT", "1h", signal.TypeBuy, base)
	require.NoError(t, st.Upsert(ctx, sig))

	cur, err := st.GetOutcome(ctx, sig.ID)
	require.NoError(t, err)
	ev := outcome.NewEvaluator(outcome.DefaultPolicy())
	res, err := ev.Evaluate(sig, cur, []market.Candle{candle(base, 99, 101)}, base.Add(time.Hour))
	require.NoError(t, err)

	_, err = st.CommitEvaluation(ctx, sig.ID, cur.Version, res.Outcome, res.Transitions)
	require.NoError(t, err)
	// 第二个基于同一版本的评估必须失败，不能重复记账
	_, err = st.CommitEvaluation(ctx, sig.ID, cur.Version, res.Outcome, res.Transitions)
	assert.ErrorIs(t, err, store.ErrConcurrentEvaluation)

	trs, err := st.ListTransitions(ctx, sig.ID)
	require.NoError(t, err)
	assert.Len(t, trs, 1)
}

func TestCommitEvaluationRejectsBackwardState(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sig := newSignal(t, "BTCUSDT", "1h", signal.TypeBuy, base)
	require.NoError(t, st.Upsert(ctx, sig))
	out := evaluateAndCommit(t, st, sig, candle(base, 99, 101))

	back := out.Clone()
	back.State = outcome.StatePending
	_, err := st.CommitEvaluation(ctx, sig.ID, out.Version, back, nil)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	rewound := out.Clone()
	earlier := base.Add(-time.Hour)
	rewound.LastEvaluatedAt = &earlier
	_, err = st.CommitEvaluation(ctx, sig.ID, out.Version, rewound, nil)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestAppendTransitionForwardOnly(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sig := newSignal(t, "BTCUSDT", "1h", signal.TypeBuy, base)
	require.NoError(t, st.Upsert(ctx, sig))

	require.NoError(t, st.AppendTransition(ctx, sig.ID, outcome.StatePending, outcome.StateEntryFilled, base))
	err := st.AppendTransition(ctx, sig.ID, outcome.StateEntryFilled, outcome.StatePending, base)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	err = st.AppendTransition(ctx, sig.ID, outcome.StatePending, outcome.StateWon, base)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	require.NoError(t, st.AppendTransition(ctx, sig.ID, outcome.StateEntryFilled, outcome.StateLost, base.Add(time.Hour)))
	err = st.AppendTransition(ctx, "missing", outcome.StatePending, outcome.StateEntryFilled, base)
	assert.ErrorIs(t, err, store.ErrNotFound)

	trs, err := st.ListTransitions(ctx, sig.ID)
	require.NoError(t, err)
	require.Len(t, trs, 2)
	assert.Equal(t, 2, trs[1].Seq)

	out, err := st.GetOutcome(ctx, sig.ID)
	require.NoError(t, err)
	assert.Equal(t, outcome.StateLost, out.State)
	assert.Equal(t, int64(2), out.Version)
	require.NotNil(t, out.ResolvedAt)
	assert.Equal(t, base.Add(time.Hour), *out.ResolvedAt)

	ids, err := st.ListNonTerminal(ctx)
	require.NoError(t, err)
	assert.NotContains(t, ids, sig.ID)
}

func TestAppendTransitionKeepsLogMonotonicWithCommits(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sig := newSignal(t, "BTCUSDT", "1h", signal.TypeBuy, base)
	require.NoError(t, st.Upsert(ctx, sig))

	// 在外部迁移之前算好的评估
	stale, err := st.GetOutcome(ctx, sig.ID)
	require.NoError(t, err)
	res, err := outcome.NewEvaluator(outcome.DefaultPolicy()).Evaluate(sig, stale, []market.Candle{candle(base, 99, 101)}, base.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, res.Changed())

	require.NoError(t, st.AppendTransition(ctx, sig.ID, outcome.StatePending, outcome.StateEntryFilled, base))
	require.NoError(t, st.AppendTransition(ctx, sig.ID, outcome.StateEntryFilled, outcome.StateLost, base.Add(time.Hour)))

	_, err = st.CommitEvaluation(ctx, sig.ID, stale.Version, res.Outcome, res.Transitions)
	assert.ErrorIs(t, err, store.ErrConcurrentEvaluation)

	cur, err := st.GetOutcome(ctx, sig.ID)
	require.NoError(t, err)
	_, err = st.CommitEvaluation(ctx, sig.ID, cur.Version, res.Outcome, res.Transitions)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	err = st.AppendTransition(ctx, sig.ID, outcome.StatePending, outcome.StateEntryFilled, base.Add(2*time.Hour))
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	trs, err := st.ListTransitions(ctx, sig.ID)
	require.NoError(t, err)
	require.Len(t, trs, 2)
	for i := 1; i < len(trs); i++ {
		assert.Equal(t, trs[i-1].To, trs[i].From, "seq %d", trs[i].Seq)
		assert.GreaterOrEqual(t, trs[i].To.Rank(), trs[i-1].To.Rank())
	}
	assert.Equal(t, cur.State, trs[len(trs)-1].To)
}

func TestListQueries(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	btc := newSignal(t, "BTCUSDT", "1h", signal.TypeBuy, base)
	eth := newSignal(t, "ETHUSDT", "4h", signal.TypeSell, base.Add(time.Hour))
	sol := newSignal(t, "SOLUSDT", "1h", signal.TypeBuy, base.Add(48*time.Hour))
	for _, s := range []signal.Signal{btc, eth, sol} {
		require.NoError(t, st.Upsert(ctx, s))
	}
	evaluateAndCommit(t, st, btc, candle(base, 95, 97)) // 未成交先触及止损 -> EXPIRED

	ids, err := st.ListNonTerminal(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{eth.ID, sol.ID}, ids)

	recs, err := st.ListBySymbol(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, outcome.StateExpired, recs[0].Outcome.State)

	recs, err = st.ListByTimeframe(ctx, "1h")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, sol.ID, recs[0].Signal.ID, "newest first")

	recs, err = st.ListByDateRange(ctx, base, base.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	recs, err = st.List(ctx, store.Query{States: []outcome.State{outcome.StatePending}, OwnerID: 7, Limit: 1})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, sol.ID, recs[0].Signal.ID)

	resolved, err := st.ListResolved(ctx, store.Filter{})
	require.NoError(t, err)
	require.Len(t, resolved, 1)
	assert.Equal(t, btc.ID, resolved[0].Signal.ID)

	since := base.Add(time.Hour)
	resolved, err = st.ListResolved(ctx, store.Filter{Since: &since})
	require.NoError(t, err)
	assert.Empty(t, resolved, "window applies to resolved_at")

	n, err := st.CountPending(ctx, store.Filter{Symbol: "SOLUSDT"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestUnitOfWorkRollback(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sig := newSignal(t, "BTCUSDT", "1h", signal.TypeBuy, base)
	sm, err := toSignalModel(sig, base)
	require.NoError(t, err)

	uow, err := st.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, uow.Signals().Insert(ctx, sm))
	require.NoError(t, uow.Rollback())

	_, err = st.GetSignal(ctx, sig.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	st, err := NewSqliteStore(filepath.Join(t.TempDir(), "closed.db"), Options{})
	require.NoError(t, err)
	require.NoError(t, st.Close())
	_, err = st.ListNonTerminal(context.Background())
	assert.ErrorIs(t, err, store.ErrStoreUnavailable)
}

func TestUpsertPinnedPolicyIsImmutable(t *testing.T) {
	ctx := context.Background()
	st := newTestStore(t)
	sig := newSignal(t, "BTCUSDT", "1h", signal.TypeBuy, base)
	pinned := outcome.Policy{TieBreak: outcome.TieBreakTargetFirst, Resolution: outcome.ResolutionAllTargets}
	require.NoError(t, st.UpsertPinned(ctx, sig, pinned))
	require.NoError(t, st.UpsertPinned(ctx, sig, outcome.DefaultPolicy()), "re-upsert keeps the existing row")

	cur, err := st.GetOutcome(ctx, sig.ID)
	require.NoError(t, err)
	require.NotNil(t, cur.Policy)
	assert.Equal(t, pinned, *cur.Policy)

	res, err := outcome.NewEvaluator(*cur.Policy).Evaluate(sig, cur, []market.Candle{candle(base, 99, 101)}, base.Add(time.Hour))
	require.NoError(t, err)
	swapped := res.Outcome.Clone()
	def := outcome.DefaultPolicy()
	swapped.Policy = &def
	_, err = st.CommitEvaluation(ctx, sig.ID, cur.Version, swapped, res.Transitions)
	assert.ErrorIs(t, err, store.ErrInvalidTransition)

	committed, err := st.CommitEvaluation(ctx, sig.ID, cur.Version, res.Outcome, res.Transitions)
	require.NoError(t, err)
	require.NotNil(t, committed.Policy)
	assert.Equal(t, pinned, *committed.Policy)
}
