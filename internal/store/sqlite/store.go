package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sigtrack/internal/store"
	"sigtrack/internal/store/model"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Options tunes the sqlite connection.
type Options struct {
	MaxOpenConns  int
	BusyTimeoutMS int
}

// SqliteStore implements store.Store (unit of work) and store.OutcomeStore on gorm + sqlite.
type SqliteStore struct {
	db    *gorm.DB
	nowFn func() time.Time
}

func NewSqliteStore(path string, opts Options) (*SqliteStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, store.Unavailable("create store dir", err)
	}
	if opts.BusyTimeoutMS <= 0 {
		opts.BusyTimeoutMS = 5000
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_txlock=immediate", path, opts.BusyTimeoutMS)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, store.Unavailable("open store", err)
	}
	return newSqliteStore(db, opts)
}

func NewSqliteStoreFromDB(db *gorm.DB) (*SqliteStore, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm db 不能为空")
	}
	return newSqliteStore(db, Options{})
}

func newSqliteStore(db *gorm.DB, opts Options) (*SqliteStore, error) {
	models := []interface{}{
		&model.SignalModel{},
		&model.OutcomeModel{},
		&model.TransitionModel{},
	}
	if err := db.AutoMigrate(models...); err != nil {
		return nil, store.Unavailable("migrate", err)
	}
	if opts.MaxOpenConns <= 0 {
		opts.MaxOpenConns = 2
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
		sqlDB.SetMaxIdleConns(opts.MaxOpenConns)
	}
	return &SqliteStore{db: db, nowFn: time.Now}, nil
}

func (s *SqliteStore) Begin(ctx context.Context) (store.UnitOfWork, error) {
	tx := s.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return nil, store.Unavailable("begin", tx.Error)
	}
	return &gormUnitOfWork{tx: tx}, nil
}

func (s *SqliteStore) Close() error {
	if s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Ping 检查数据库连接，用于 /healthz。
func (s *SqliteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return store.Unavailable("ping", err)
	}
	return store.Unavailable("ping", sqlDB.PingContext(ctx))
}

type gormUnitOfWork struct {
	tx *gorm.DB
}

func (u *gormUnitOfWork) Signals() store.SignalRepository {
	return NewSignalRepo(u.tx)
}

func (u *gormUnitOfWork) Outcomes() store.OutcomeRepository {
	return NewOutcomeRepo(u.tx)
}

func (u *gormUnitOfWork) Transitions() store.TransitionRepository {
	return NewTransitionRepo(u.tx)
}

func (u *gormUnitOfWork) Commit() error {
	return u.tx.Commit().Error
}

func (u *gormUnitOfWork) Rollback() error {
	return u.tx.Rollback().Error
}

// withTx 在一个事务内执行 fn；fn 返回错误时回滚。基础设施错误统一包装为 ErrStoreUnavailable。
func (s *SqliteStore) withTx(ctx context.Context, op string, fn func(uow store.UnitOfWork) error) error {
	uow, err := s.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(uow); err != nil {
		_ = uow.Rollback()
		return err
	}
	if err := uow.Commit(); err != nil {
		_ = uow.Rollback()
		return store.Unavailable(op+" commit", err)
	}
	return nil
}
