package app

import (
	"context"
	"fmt"

	"sigtrack/internal/config"
	"sigtrack/internal/gateway/binance"
	"sigtrack/internal/lock"
	"sigtrack/internal/logger"
	"sigtrack/internal/market"
	"sigtrack/internal/metrics"
	"sigtrack/internal/outcome"
	"sigtrack/internal/pkg/circuit"
	"sigtrack/internal/policy"
	"sigtrack/internal/scheduler"
	"sigtrack/internal/signal"
	"sigtrack/internal/store"
	"sigtrack/internal/store/sqlite"
	"sigtrack/internal/tracker"
	"sigtrack/internal/transport/http/api"
)

// windowCacheBars 是每个 symbol@timeframe 在内存中保留的 K 线上限。
const windowCacheBars = 5000

type AppBuilder struct {
	cfg *config.Config

	storeFn    func(config.StoreConfig) (*sqlite.SqliteStore, error)
	supplierFn func(config.MarketConfig) (market.WindowSupplier, func() error, error)
	lockerFn   func(context.Context, config.LockConfig) (lock.Locker, func() error, error)
	policyFn   func(config.PolicyConfig, config.EvaluatorConfig) (*policy.Registry, error)
}

type AppBuilderOption func(*AppBuilder)

// WithSupplier 替换行情窗口来源，测试与回放使用。
func WithSupplier(s market.WindowSupplier) AppBuilderOption {
	return func(b *AppBuilder) {
		b.supplierFn = func(config.MarketConfig) (market.WindowSupplier, func() error, error) {
			return s, nil, nil
		}
	}
}

func NewAppBuilder(cfg *config.Config, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		storeFn:    buildStore,
		supplierFn: buildSupplier,
		lockerFn:   buildLocker,
		policyFn:   buildPolicyRegistry,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	a := &App{cfg: cfg}
	fail := func(err error) (*App, error) {
		_ = a.Close()
		return nil, err
	}

	st, err := b.storeFn(cfg.Store)
	if err != nil {
		return fail(fmt.Errorf("初始化 outcome store 失败: %w", err))
	}
	a.closers = append(a.closers, st.Close)
	logger.Infof("✓ Outcome store: %s", cfg.Store.Path)

	policies, err := b.policyFn(cfg.Policy, cfg.Evaluator)
	if err != nil {
		return fail(fmt.Errorf("加载评估策略失败: %w", err))
	}
	policies.OnChange(func(s policy.Snapshot) {
		logger.Infof("评估策略已更新 v%d: %s (%d 个周期覆盖)", s.Version, s.Base.Policy, len(s.ByTF))
	})

	supplier, closeSupplier, err := b.supplierFn(cfg.Market)
	if err != nil {
		return fail(fmt.Errorf("初始化行情来源失败: %w", err))
	}
	if closeSupplier != nil {
		a.closers = append(a.closers, closeSupplier)
	}

	locker, closeLocker, err := b.lockerFn(ctx, cfg.Lock)
	if err != nil {
		return fail(fmt.Errorf("初始化评估锁失败: %w", err))
	}
	if closeLocker != nil {
		a.closers = append(a.closers, closeLocker)
	}

	schema, err := loadSchema(cfg.Ingest.SchemaPath)
	if err != nil {
		return fail(err)
	}

	a.metrics = metrics.New()
	a.tracker = tracker.New(st, supplier, locker, policies, a.metrics, schema, tracker.Options{
		NormalizeWeights: cfg.Ingest.NormalizeWeights,
		WindowTimeout:    cfg.Market.Timeout(),
	})

	if cfg.Scheduler.Enabled {
		a.scheduler = buildScheduler(cfg.Scheduler, a.tracker, a.metrics)
	}

	server, err := api.NewServer(api.ServerConfig{
		Addr:    cfg.App.HTTPAddr,
		Service: a.tracker,
		Metrics: a.metrics,
		Health:  st.Ping,
	})
	if err != nil {
		return fail(fmt.Errorf("初始化 HTTP 接口失败: %w", err))
	}
	a.http = server

	a.Summary = newStartupSummary(cfg, policies.Snapshot())
	return a, nil
}

func buildStore(cfg config.StoreConfig) (*sqlite.SqliteStore, error) {
	return sqlite.NewSqliteStore(cfg.Path, sqlite.Options{
		MaxOpenConns:  cfg.MaxOpenConns,
		BusyTimeoutMS: cfg.BusyTimeoutMS,
	})
}

func buildSupplier(cfg config.MarketConfig) (market.WindowSupplier, func() error, error) {
	switch cfg.Source {
	case "none":
		logger.Warnf("market.source=none: 只有时钟过期会推进结果")
		return market.NopSupplier{}, nil, nil
	default:
		src, err := binance.New(binance.Config{
			RESTBaseURL:       cfg.RESTBaseURL,
			HTTPTimeout:       cfg.Timeout(),
			ProxyURL:          cfg.ProxyURL,
			RequestsPerSecond: cfg.RequestsPerSecond,
			Burst:             cfg.Burst,
		})
		if err != nil {
			return nil, nil, err
		}
		logger.Infof("✓ 行情来源: binance futures %s (%.1f req/s)", cfg.RESTBaseURL, cfg.RequestsPerSecond)
		return market.NewSourceSupplier(src, market.NewMemoryStore(windowCacheBars), cfg.MaxBarsPerRequest), src.Close, nil
	}
}

func buildLocker(ctx context.Context, cfg config.LockConfig) (lock.Locker, func() error, error) {
	if !cfg.UsesRedis() {
		return lock.NewMemoryLocker(), nil, nil
	}
	client, err := lock.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, err
	}
	logger.Infof("✓ 评估锁: redis %s (ttl=%s)", cfg.RedisAddr, cfg.TTL())
	return lock.NewRedisLocker(client, cfg.KeyPrefix, cfg.TTL()), client.Close, nil
}

func buildPolicyRegistry(cfg config.PolicyConfig, ev config.EvaluatorConfig) (*policy.Registry, error) {
	fallback := policy.Rule{
		Policy: outcome.Policy{
			TieBreak:   outcome.TieBreak(ev.TieBreak),
			Resolution: outcome.Resolution(ev.Resolution),
		},
		DefaultTTLBars: ev.DefaultTTLBars,
	}
	return policy.NewRegistry(cfg.Path, cfg.Profile, fallback)
}

func buildScheduler(cfg config.SchedulerConfig, tr *tracker.Tracker, m *metrics.Metrics) *scheduler.Service {
	align, _ := market.ParseIntervalDuration(cfg.AlignInterval)
	every, _ := market.ParseIntervalDuration(cfg.Interval)
	sched := scheduler.NewAlignedScheduler("evaluate", align, every, cfg.Offset())
	sched.RunImmediately = cfg.RunImmediately
	breaker := circuit.New("outcome-store", cfg.BreakerThreshold, cfg.BreakerCooldown())
	queue := scheduler.NewEvaluationQueue(tr, breaker, m, scheduler.QueueOptions{
		MaxConcurrent: cfg.MaxConcurrent,
		SignalTimeout: cfg.SignalTimeout(),
	})
	return scheduler.NewService(sched, queue)
}

func loadSchema(path string) (*signal.Schema, error) {
	if path == "" {
		return signal.DefaultSchema()
	}
	s, err := signal.LoadSchema(path)
	if err != nil {
		return nil, fmt.Errorf("加载载荷 schema 失败: %w", err)
	}
	return s, nil
}

var (
	_ store.OutcomeStore  = (*sqlite.SqliteStore)(nil)
	_ api.Service         = (*tracker.Tracker)(nil)
	_ scheduler.Evaluator = (*tracker.Tracker)(nil)
)
