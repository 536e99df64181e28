package sqlite

import (
	"context"
	"fmt"
	"time"

	"sigtrack/internal/outcome"
	"sigtrack/internal/signal"
	"sigtrack/internal/store"
	"sigtrack/internal/store/model"
)

var _ store.OutcomeStore = (*SqliteStore)(nil)

// Upsert 写入新信号及其初始结果。同 id 同内容重复写入为 no-op，内容不同返回 ErrSignalImmutable。
func (s *SqliteStore) Upsert(ctx context.Context, sig signal.Signal) error {
	return s.upsert(ctx, sig, nil)
}

// UpsertPinned 与 Upsert 相同，但把评估规则固定在新建的结果行上。
// 信号已存在时不改动其结果行。
func (s *SqliteStore) UpsertPinned(ctx context.Context, sig signal.Signal, p outcome.Policy) error {
	return s.upsert(ctx, sig, &p)
}

func (s *SqliteStore) upsert(ctx context.Context, sig signal.Signal, pin *outcome.Policy) error {
	now := s.nowFn()
	return s.withTx(ctx, "upsert", func(uow store.UnitOfWork) error {
		existing, err := uow.Signals().FindByID(ctx, sig.ID)
		if err != nil {
			return store.Unavailable("upsert find", err)
		}
		if existing != nil {
			prev, err := fromSignalModel(*existing)
			if err != nil {
				return store.Unavailable("upsert decode", err)
			}
			if !prev.Equal(sig) {
				return fmt.Errorf("%w: %s", store.ErrSignalImmutable, sig.ID)
			}
			return nil
		}
		sm, err := toSignalModel(sig, now)
		if err != nil {
			return err
		}
		if err := uow.Signals().Insert(ctx, sm); err != nil {
			return store.Unavailable("upsert signal", err)
		}
		initial, trs := outcome.Initial(sig)
		initial.Policy = pin
		om, err := toOutcomeModel(initial, now)
		if err != nil {
			return err
		}
		if err := uow.Outcomes().Insert(ctx, om); err != nil {
			return store.Unavailable("upsert outcome", err)
		}
		for _, tr := range trs {
			if err := uow.Transitions().Append(ctx, toTransitionModel(tr, now)); err != nil {
				return store.Unavailable("upsert transition", err)
			}
		}
		return nil
	})
}

func (s *SqliteStore) GetSignal(ctx context.Context, id string) (signal.Signal, error) {
	rec, err := s.GetRecord(ctx, id)
	return rec.Signal, err
}

func (s *SqliteStore) GetOutcome(ctx context.Context, id string) (outcome.Outcome, error) {
	repo := NewOutcomeRepo(s.db)
	row, err := repo.FindByID(ctx, id)
	if err != nil {
		return outcome.Outcome{}, store.Unavailable("get outcome", err)
	}
	if row == nil {
		return outcome.Outcome{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	return fromOutcomeModel(*row)
}

func (s *SqliteStore) GetRecord(ctx context.Context, id string) (store.Record, error) {
	sm, err := NewSignalRepo(s.db).FindByID(ctx, id)
	if err != nil {
		return store.Record{}, store.Unavailable("get signal", err)
	}
	if sm == nil {
		return store.Record{}, fmt.Errorf("%w: %s", store.ErrNotFound, id)
	}
	sig, err := fromSignalModel(*sm)
	if err != nil {
		return store.Record{}, err
	}
	out, err := s.GetOutcome(ctx, id)
	if err != nil {
		return store.Record{}, err
	}
	return store.Record{Signal: sig, Outcome: out}, nil
}

// AppendTransition 在同一事务内追加一条迁移并推进结果行；from 必须等于结果行当前状态。
// 结果行与迁移日志始终一起移动，后续评估看到的起点与日志末尾一致。
func (s *SqliteStore) AppendTransition(ctx context.Context, id string, from, to outcome.State, at time.Time) error {
	if !outcome.CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, from, to)
	}
	now := s.nowFn()
	return s.withTx(ctx, "append transition", func(uow store.UnitOfWork) error {
		row, err := uow.Outcomes().FindByID(ctx, id)
		if err != nil {
			return store.Unavailable("append transition", err)
		}
		if row == nil {
			return fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		prev, err := fromOutcomeModel(*row)
		if err != nil {
			return store.Unavailable("append transition decode", err)
		}
		if prev.State != from {
			return fmt.Errorf("%w: outcome is at %s, got from=%s", store.ErrInvalidTransition, prev.State, from)
		}
		next := prev.Clone()
		next.State = to
		if to.Terminal() && next.ResolvedAt == nil {
			resolved := at.UTC()
			next.ResolvedAt = &resolved
		}
		tr := outcome.Transition{SignalID: id, From: from, To: to, At: at}
		if err := checkForward(prev, next, []outcome.Transition{tr}); err != nil {
			return err
		}
		om, err := toOutcomeModel(next, now)
		if err != nil {
			return err
		}
		ok, err := uow.Outcomes().CompareAndSwap(ctx, om, row.Version)
		if err != nil {
			return store.Unavailable("append transition", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", store.ErrConcurrentEvaluation, id)
		}
		if err := uow.Transitions().Append(ctx, toTransitionModel(tr, now)); err != nil {
			return store.Unavailable("append transition", err)
		}
		return nil
	})
}

// CommitEvaluation 在一个事务内完成版本比较、前进性检查、结果写入与迁移追加。
func (s *SqliteStore) CommitEvaluation(ctx context.Context, id string, expectedVersion int64, out outcome.Outcome, trs []outcome.Transition) (outcome.Outcome, error) {
	now := s.nowFn()
	var committed outcome.Outcome
	err := s.withTx(ctx, "commit evaluation", func(uow store.UnitOfWork) error {
		row, err := uow.Outcomes().FindByID(ctx, id)
		if err != nil {
			return store.Unavailable("commit evaluation", err)
		}
		if row == nil {
			return fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		if row.Version != expectedVersion {
			return fmt.Errorf("%w: %s version %d, expected %d", store.ErrConcurrentEvaluation, id, row.Version, expectedVersion)
		}
		prev, err := fromOutcomeModel(*row)
		if err != nil {
			return store.Unavailable("commit evaluation decode", err)
		}
		if err := checkForward(prev, out, trs); err != nil {
			return err
		}
		out.SignalID = id
		om, err := toOutcomeModel(out, now)
		if err != nil {
			return err
		}
		ok, err := uow.Outcomes().CompareAndSwap(ctx, om, expectedVersion)
		if err != nil {
			return store.Unavailable("commit evaluation", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", store.ErrConcurrentEvaluation, id)
		}
		for _, tr := range trs {
			tr.SignalID = id
			if err := uow.Transitions().Append(ctx, toTransitionModel(tr, now)); err != nil {
				return store.Unavailable("commit transition", err)
			}
		}
		committed = out.Clone()
		committed.Version = om.Version
		return nil
	})
	if err != nil {
		return outcome.Outcome{}, err
	}
	return committed, nil
}

func checkForward(prev, next outcome.Outcome, trs []outcome.Transition) error {
	if next.State.Rank() < prev.State.Rank() || (prev.State.Terminal() && next.State != prev.State) {
		return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, prev.State, next.State)
	}
	if prev.LastEvaluatedAt != nil && (next.LastEvaluatedAt == nil || next.LastEvaluatedAt.Before(*prev.LastEvaluatedAt)) {
		return fmt.Errorf("%w: last_evaluated_at rewound", store.ErrInvalidTransition)
	}
	if prev.Policy != nil && (next.Policy == nil || *next.Policy != *prev.Policy) {
		return fmt.Errorf("%w: pinned policy changed", store.ErrInvalidTransition)
	}
	if next.FilledWeight < prev.FilledWeight || next.FilledWeight > 1 {
		return fmt.Errorf("%w: filled_weight %.8f -> %.8f", store.ErrInvalidTransition, prev.FilledWeight, next.FilledWeight)
	}
	state := prev.State
	for _, tr := range trs {
		if tr.From != state || !outcome.CanTransition(tr.From, tr.To) {
			return fmt.Errorf("%w: %s -> %s", store.ErrInvalidTransition, tr.From, tr.To)
		}
		state = tr.To
	}
	if state != next.State {
		return fmt.Errorf("%w: transitions end at %s, outcome is %s", store.ErrInvalidTransition, state, next.State)
	}
	return nil
}

func (s *SqliteStore) ListNonTerminal(ctx context.Context) ([]string, error) {
	ids, err := NewOutcomeRepo(s.db).ListNonTerminal(ctx)
	if err != nil {
		return nil, store.Unavailable("list non-terminal", err)
	}
	return ids, nil
}

func (s *SqliteStore) ListBySymbol(ctx context.Context, symbol string) ([]store.Record, error) {
	return s.List(ctx, store.Query{Symbol: symbol})
}

func (s *SqliteStore) ListByTimeframe(ctx context.Context, timeframe string) ([]store.Record, error) {
	return s.List(ctx, store.Query{Timeframe: timeframe})
}

func (s *SqliteStore) ListByDateRange(ctx context.Context, since, until time.Time) ([]store.Record, error) {
	return s.List(ctx, store.Query{Since: &since, Until: &until})
}

func (s *SqliteStore) List(ctx context.Context, q store.Query) ([]store.Record, error) {
	rows, err := NewSignalRepo(s.db).List(ctx, q)
	if err != nil {
		return nil, store.Unavailable("list signals", err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	outs, err := NewOutcomeRepo(s.db).FindByIDs(ctx, ids)
	if err != nil {
		return nil, store.Unavailable("list outcomes", err)
	}
	return joinRecords(rows, outs)
}

func (s *SqliteStore) ListTransitions(ctx context.Context, id string) ([]outcome.Transition, error) {
	rows, err := NewTransitionRepo(s.db).ListBySignal(ctx, id)
	if err != nil {
		return nil, store.Unavailable("list transitions", err)
	}
	out := make([]outcome.Transition, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromTransitionModel(r))
	}
	return out, nil
}

func (s *SqliteStore) ListResolved(ctx context.Context, f store.Filter) ([]store.Record, error) {
	outs, err := NewOutcomeRepo(s.db).ListResolved(ctx, f)
	if err != nil {
		return nil, store.Unavailable("list resolved", err)
	}
	ids := make([]string, 0, len(outs))
	for _, o := range outs {
		ids = append(ids, o.SignalID)
	}
	sigs, err := NewSignalRepo(s.db).FindByIDs(ctx, ids)
	if err != nil {
		return nil, store.Unavailable("list resolved signals", err)
	}
	byID := make(map[string]model.SignalModel, len(sigs))
	for _, sm := range sigs {
		byID[sm.ID] = sm
	}
	records := make([]store.Record, 0, len(outs))
	for _, om := range outs {
		sm, ok := byID[om.SignalID]
		if !ok {
			continue
		}
		rec, err := buildRecord(sm, om)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *SqliteStore) CountPending(ctx context.Context, f store.Filter) (int, error) {
	n, err := NewOutcomeRepo(s.db).CountPending(ctx, f)
	if err != nil {
		return 0, store.Unavailable("count pending", err)
	}
	return n, nil
}

func joinRecords(rows []model.SignalModel, outs []model.OutcomeModel) ([]store.Record, error) {
	byID := make(map[string]model.OutcomeModel, len(outs))
	for _, om := range outs {
		byID[om.SignalID] = om
	}
	records := make([]store.Record, 0, len(rows))
	for _, sm := range rows {
		om, ok := byID[sm.ID]
		if !ok {
			continue
		}
		rec, err := buildRecord(sm, om)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func buildRecord(sm model.SignalModel, om model.OutcomeModel) (store.Record, error) {
	sig, err := fromSignalModel(sm)
	if err != nil {
		return store.Record{}, store.Unavailable("decode signal", err)
	}
	out, err := fromOutcomeModel(om)
	if err != nil {
		return store.Record{}, store.Unavailable("decode outcome", err)
	}
	return store.Record{Signal: sig, Outcome: out}, nil
}
