package sqlite

import (
	"context"
	"errors"

	"sigtrack/internal/store/model"

	"gorm.io/gorm"
)

// transitionRepository implements the append-only TransitionRepository.
type transitionRepository struct {
	db *gorm.DB
}

func NewTransitionRepo(db *gorm.DB) *transitionRepository {
	return &transitionRepository{db: db}
}

// Append 分配下一个 seq 后插入；只插入不更新。
func (r *transitionRepository) Append(ctx context.Context, tr *model.TransitionModel) error {
	if tr == nil {
		return errors.New("transition cannot be nil")
	}
	var maxSeq int64
	if err := r.db.WithContext(ctx).
		Model(&model.TransitionModel{}).
		Where("signal_id = ?", tr.SignalID).
		Select("COALESCE(MAX(seq), 0)").
		Scan(&maxSeq).Error; err != nil {
		return err
	}
	tr.Seq = int(maxSeq) + 1
	return r.db.WithContext(ctx).Create(tr).Error
}

func (r *transitionRepository) ListBySignal(ctx context.Context, signalID string) ([]model.TransitionModel, error) {
	var rows []model.TransitionModel
	if err := r.db.WithContext(ctx).
		Where("signal_id = ?", signalID).
		Order("seq ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *transitionRepository) Last(ctx context.Context, signalID string) (*model.TransitionModel, error) {
	var row model.TransitionModel
	err := r.db.WithContext(ctx).
		Where("signal_id = ?", signalID).
		Order("seq DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
