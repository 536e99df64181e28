package store

import (
	"context"
	"time"

	"sigtrack/internal/outcome"
	"sigtrack/internal/signal"
	"sigtrack/internal/store/model"
)

// UnitOfWork defines a transaction scope.
type UnitOfWork interface {
	// Commit commits the transaction.
	Commit() error
	// Rollback rolls back the transaction.
	Rollback() error

	// Signals returns the signal repository within this transaction.
	Signals() SignalRepository
	// Outcomes returns the outcome repository within this transaction.
	Outcomes() OutcomeRepository
	// Transitions returns the transition log within this transaction.
	Transitions() TransitionRepository
}

// Store is the entry point for database access.
type Store interface {
	// Begin starts a new UnitOfWork (transaction).
	Begin(ctx context.Context) (UnitOfWork, error)
	// Close closes the store connection.
	Close() error
}

// SignalRepository handles write-once signal rows.
type SignalRepository interface {
	Insert(ctx context.Context, sig *model.SignalModel) error
	FindByID(ctx context.Context, id string) (*model.SignalModel, error)
	FindByIDs(ctx context.Context, ids []string) ([]model.SignalModel, error)
	List(ctx context.Context, q Query) ([]model.SignalModel, error)
}

// OutcomeRepository handles the mutable current-state rows.
type OutcomeRepository interface {
	Insert(ctx context.Context, out *model.OutcomeModel) error
	FindByID(ctx context.Context, signalID string) (*model.OutcomeModel, error)
	FindByIDs(ctx context.Context, ids []string) ([]model.OutcomeModel, error)
	// CompareAndSwap writes out only when the stored version equals expected; returns false otherwise.
	CompareAndSwap(ctx context.Context, out *model.OutcomeModel, expected int64) (bool, error)
	ListNonTerminal(ctx context.Context) ([]string, error)
	ListResolved(ctx context.Context, f Filter) ([]model.OutcomeModel, error)
	CountPending(ctx context.Context, f Filter) (int, error)
}

// TransitionRepository handles the append-only transition log.
type TransitionRepository interface {
	Append(ctx context.Context, tr *model.TransitionModel) error
	ListBySignal(ctx context.Context, signalID string) ([]model.TransitionModel, error)
	Last(ctx context.Context, signalID string) (*model.TransitionModel, error)
}

// Query 是信号历史查询条件（按 generated_at 过滤）。
type Query struct {
	Symbol    string
	Timeframe string
	OwnerID   int64
	States    []outcome.State
	Since     *time.Time
	Until     *time.Time
	Limit     int
}

// Filter 是统计读侧条件，时间窗口作用于 resolved_at。
type Filter struct {
	Symbol    string
	Timeframe string
	OwnerID   int64
	Since     *time.Time
	Until     *time.Time
}

// Record 是信号与其当前结果的组合。
type Record struct {
	Signal  signal.Signal   `json:"signal"`
	Outcome outcome.Outcome `json:"outcome"`
}

// OutcomeStore 是评估引擎使用的持久化契约。
type OutcomeStore interface {
	Upsert(ctx context.Context, sig signal.Signal) error
	// UpsertPinned 额外把评估规则固定到新结果上。
	UpsertPinned(ctx context.Context, sig signal.Signal, p outcome.Policy) error
	GetSignal(ctx context.Context, id string) (signal.Signal, error)
	GetOutcome(ctx context.Context, id string) (outcome.Outcome, error)
	GetRecord(ctx context.Context, id string) (Record, error)
	AppendTransition(ctx context.Context, id string, from, to outcome.State, at time.Time) error
	// CommitEvaluation 原子地比较版本、写入结果并追加迁移，返回提交后的结果。
	CommitEvaluation(ctx context.Context, id string, expectedVersion int64, out outcome.Outcome, trs []outcome.Transition) (outcome.Outcome, error)
	ListNonTerminal(ctx context.Context) ([]string, error)
	ListBySymbol(ctx context.Context, symbol string) ([]Record, error)
	ListByTimeframe(ctx context.Context, timeframe string) ([]Record, error)
	ListByDateRange(ctx context.Context, since, until time.Time) ([]Record, error)
	List(ctx context.Context, q Query) ([]Record, error)
	ListTransitions(ctx context.Context, id string) ([]outcome.Transition, error)
	ListResolved(ctx context.Context, f Filter) ([]Record, error)
	CountPending(ctx context.Context, f Filter) (int, error)
	Close() error
}
