package sqlite

import (
	"context"
	"errors"

	"sigtrack/internal/store"
	"sigtrack/internal/store/model"

	"gorm.io/gorm"
)

const idBatch = 500

// signalRepository implements the SignalRepository interface.
type signalRepository struct {
	db *gorm.DB
}

func NewSignalRepo(db *gorm.DB) *signalRepository {
	return &signalRepository{db: db}
}

func (r *signalRepository) Insert(ctx context.Context, sig *model.SignalModel) error {
	if sig == nil {
		return errors.New("signal cannot be nil")
	}
	return r.db.WithContext(ctx).Create(sig).Error
}

// FindByID returns nil, nil when the id is unknown.
func (r *signalRepository) FindByID(ctx context.Context, id string) (*model.SignalModel, error) {
	var sig model.SignalModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&sig).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &sig, nil
}

func (r *signalRepository) FindByIDs(ctx context.Context, ids []string) ([]model.SignalModel, error) {
	out := make([]model.SignalModel, 0, len(ids))
	for start := 0; start < len(ids); start += idBatch {
		end := min(start+idBatch, len(ids))
		var batch []model.SignalModel
		if err := r.db.WithContext(ctx).Where("id IN ?", ids[start:end]).Find(&batch).Error; err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

// List filters signals on generated_at, newest first.
func (r *signalRepository) List(ctx context.Context, q store.Query) ([]model.SignalModel, error) {
	db := r.db.WithContext(ctx).Model(&model.SignalModel{}).Select("signals.*")
	if len(q.States) > 0 {
		states := make([]string, 0, len(q.States))
		for _, s := range q.States {
			states = append(states, string(s))
		}
		db = db.Joins("JOIN outcomes ON outcomes.signal_id = signals.id").Where("outcomes.state IN ?", states)
	}
	if q.Symbol != "" {
		db = db.Where("signals.symbol = ?", q.Symbol)
	}
	if q.Timeframe != "" {
		db = db.Where("signals.timeframe = ?", q.Timeframe)
	}
	if q.OwnerID != 0 {
		db = db.Where("signals.owner_id = ?", q.OwnerID)
	}
	if q.Since != nil {
		db = db.Where("signals.generated_at >= ?", q.Since.UnixMilli())
	}
	if q.Until != nil {
		db = db.Where("signals.generated_at <= ?", q.Until.UnixMilli())
	}
	if q.Limit > 0 {
		db = db.Limit(q.Limit)
	}
	var rows []model.SignalModel
	if err := db.Order("signals.generated_at DESC, signals.id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
