package sqlite

import (
	"context"
	"errors"

	"sigtrack/internal/outcome"
	"sigtrack/internal/store"
	"sigtrack/internal/store/model"

	"gorm.io/gorm"
)

// outcomeRepository implements the OutcomeRepository interface.
type outcomeRepository struct {
	db *gorm.DB
}

func NewOutcomeRepo(db *gorm.DB) *outcomeRepository {
	return &outcomeRepository{db: db}
}

func (r *outcomeRepository) Insert(ctx context.Context, out *model.OutcomeModel) error {
	if out == nil {
		return errors.New("outcome cannot be nil")
	}
	return r.db.WithContext(ctx).Create(out).Error
}

func (r *outcomeRepository) FindByID(ctx context.Context, signalID string) (*model.OutcomeModel, error) {
	var out model.OutcomeModel
	err := r.db.WithContext(ctx).Where("signal_id = ?", signalID).First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *outcomeRepository) FindByIDs(ctx context.Context, ids []string) ([]model.OutcomeModel, error) {
	out := make([]model.OutcomeModel, 0, len(ids))
	for start := 0; start < len(ids); start += idBatch {
		end := min(start+idBatch, len(ids))
		var batch []model.OutcomeModel
		if err := r.db.WithContext(ctx).Where("signal_id IN ?", ids[start:end]).Find(&batch).Error; err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

// CompareAndSwap bumps version by one; zero rows affected means another writer won.
func (r *outcomeRepository) CompareAndSwap(ctx context.Context, out *model.OutcomeModel, expected int64) (bool, error) {
	if out == nil {
		return false, errors.New("outcome cannot be nil")
	}
	res := r.db.WithContext(ctx).
		Model(&model.OutcomeModel{}).
		Where("signal_id = ? AND version = ?", out.SignalID, expected).
		Updates(map[string]any{
			"state":               out.State,
			"filled_weight":       out.FilledWeight,
			"filled_entries_json": out.FilledEntriesJSON,
			"targets_hit":         out.TargetsHit,
			"realized_return":     out.RealizedReturn,
			"exit_price":          out.ExitPrice,
			"resolved_at":         out.ResolvedAt,
			"last_evaluated_at":   out.LastEvaluatedAt,
			"last_close":          out.LastClose,
			"policy_json":         out.PolicyJSON,
			"version":             expected + 1,
			"updated_at":          out.UpdatedAtUnix,
		})
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}
	out.Version = expected + 1
	return true, nil
}

// ListNonTerminal 按 generated_at 升序返回待评估的信号 id。
func (r *outcomeRepository) ListNonTerminal(ctx context.Context) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).
		Model(&model.OutcomeModel{}).
		Joins("JOIN signals ON signals.id = outcomes.signal_id").
		Where("outcomes.state IN ?", nonTerminalStates()).
		Order("signals.generated_at ASC, signals.id ASC").
		Pluck("outcomes.signal_id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ListResolved 返回终态结果（不含 NOT_APPLICABLE），时间窗口作用于 resolved_at。
func (r *outcomeRepository) ListResolved(ctx context.Context, f store.Filter) ([]model.OutcomeModel, error) {
	db := r.filtered(ctx, f).Select("outcomes.*").Where("outcomes.state IN ?", resolvedStates())
	if f.Since != nil {
		db = db.Where("outcomes.resolved_at >= ?", f.Since.UnixMilli())
	}
	if f.Until != nil {
		db = db.Where("outcomes.resolved_at <= ?", f.Until.UnixMilli())
	}
	var rows []model.OutcomeModel
	if err := db.Order("outcomes.resolved_at DESC, outcomes.signal_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// CountPending 统计窗口内生成、仍未结束的信号（窗口作用于 generated_at）。
func (r *outcomeRepository) CountPending(ctx context.Context, f store.Filter) (int, error) {
	db := r.filtered(ctx, f).Where("outcomes.state IN ?", nonTerminalStates())
	if f.Since != nil {
		db = db.Where("signals.generated_at >= ?", f.Since.UnixMilli())
	}
	if f.Until != nil {
		db = db.Where("signals.generated_at <= ?", f.Until.UnixMilli())
	}
	var n int64
	if err := db.Count(&n).Error; err != nil {
		return 0, err
	}
	return int(n), nil
}

func (r *outcomeRepository) filtered(ctx context.Context, f store.Filter) *gorm.DB {
	db := r.db.WithContext(ctx).
		Model(&model.OutcomeModel{}).
		Joins("JOIN signals ON signals.id = outcomes.signal_id")
	if f.Symbol != "" {
		db = db.Where("signals.symbol = ?", f.Symbol)
	}
	if f.Timeframe != "" {
		db = db.Where("signals.timeframe = ?", f.Timeframe)
	}
	if f.OwnerID != 0 {
		db = db.Where("signals.owner_id = ?", f.OwnerID)
	}
	return db
}

func nonTerminalStates() []string {
	return []string{string(outcome.StatePending), string(outcome.StateEntryFilled)}
}

func resolvedStates() []string {
	return []string{
		string(outcome.StateWon),
		string(outcome.StateLost),
		string(outcome.StateBreakeven),
		string(outcome.StateExpired),
	}
}
