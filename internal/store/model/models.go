package model

import (
	"gorm.io/datatypes"
)

// SignalModel maps to the write-once 'signals' table.
type SignalModel struct {
	ID              string         `gorm:"column:id;primaryKey"`
	Symbol          string         `gorm:"column:symbol;index"`
	Timeframe       string         `gorm:"column:timeframe;index"`
	SignalType      string         `gorm:"column:signal_type"`
	Confidence      float64        `gorm:"column:confidence"`
	EntriesJSON     datatypes.JSON `gorm:"column:entries_json;type:TEXT"`
	TakeProfitsJSON datatypes.JSON `gorm:"column:take_profits_json;type:TEXT"`
	StopLoss        float64        `gorm:"column:stop_loss"`
	GeneratedAt     int64          `gorm:"column:generated_at;index"`
	ExpiresAt       *int64         `gorm:"column:expires_at"`
	OwnerID         int64          `gorm:"column:owner_id;index"`
	PlanID          string         `gorm:"column:plan_id"`
	Note            string         `gorm:"column:note"`
	CreatedAtUnix   int64          `gorm:"column:created_at"`
}

func (SignalModel) TableName() string { return "signals" }

// OutcomeModel maps to 'outcomes', one row per signal with the current state.
type OutcomeModel struct {
	SignalID          string         `gorm:"column:signal_id;primaryKey"`
	State             string         `gorm:"column:state;index"`
	FilledWeight      float64        `gorm:"column:filled_weight"`
	FilledEntriesJSON datatypes.JSON `gorm:"column:filled_entries_json;type:TEXT"`
	TargetsHit        int            `gorm:"column:targets_hit"`
	RealizedReturn    *float64       `gorm:"column:realized_return"`
	ExitPrice         *float64       `gorm:"column:exit_price"`
	ResolvedAt        *int64         `gorm:"column:resolved_at;index"`
	LastEvaluatedAt   *int64         `gorm:"column:last_evaluated_at"`
	LastClose         float64        `gorm:"column:last_close"`
	PolicyJSON        datatypes.JSON `gorm:"column:policy_json;type:TEXT"`
	Version           int64          `gorm:"column:version"`
	UpdatedAtUnix     int64          `gorm:"column:updated_at"`
}

func (OutcomeModel) TableName() string { return "outcomes" }

// TransitionModel maps to the append-only 'outcome_transitions' log keyed by (signal_id, seq).
type TransitionModel struct {
	SignalID     string  `gorm:"column:signal_id;primaryKey;autoIncrement:false"`
	Seq          int     `gorm:"column:seq;primaryKey;autoIncrement:false"`
	FromState    string  `gorm:"column:from_state"`
	ToState      string  `gorm:"column:to_state"`
	At           int64   `gorm:"column:at;index"`
	Reason       string  `gorm:"column:reason"`
	FilledWeight float64 `gorm:"column:filled_weight"`
	Price        float64 `gorm:"column:price"`
	RecordedAt   int64   `gorm:"column:recorded_at"`
}

func (TransitionModel) TableName() string { return "outcome_transitions" }
