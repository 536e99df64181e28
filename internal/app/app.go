package app

import (
	"context"
	"errors"
	"fmt"

	"sigtrack/internal/config"
	"sigtrack/internal/logger"
	"sigtrack/internal/metrics"
	"sigtrack/internal/scheduler"
	"sigtrack/internal/tracker"
	"sigtrack/internal/transport/http/api"

	"golang.org/x/sync/errgroup"
)

// App 负责应用级编排：加载配置→初始化依赖→启动评估调度与 HTTP 接口。
type App struct {
	cfg       *config.Config
	tracker   *tracker.Tracker
	scheduler *scheduler.Service
	http      *api.Server
	metrics   *metrics.Metrics
	Summary   *StartupSummary

	closers []func() error
}

func NewApp(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)
	return buildAppWithWire(context.Background(), cfg)
}

// Run 启动调度器与 HTTP 服务，直到 ctx 取消。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	group, ctx := errgroup.WithContext(ctx)
	if a.http != nil {
		group.Go(func() error {
			if err := a.http.Start(ctx); err != nil {
				return fmt.Errorf("http server error: %w", err)
			}
			return nil
		})
	}
	if a.scheduler != nil {
		group.Go(func() error {
			a.scheduler.Run(ctx)
			return nil
		})
	}
	return group.Wait()
}

func (a *App) Tracker() *tracker.Tracker {
	if a == nil {
		return nil
	}
	return a.tracker
}

// Queue 返回评估队列；调度器未启用时为 nil。
func (a *App) Queue() *scheduler.EvaluationQueue {
	if a == nil || a.scheduler == nil {
		return nil
	}
	return a.scheduler.Queue()
}

func (a *App) Config() *config.Config {
	if a == nil {
		return nil
	}
	return a.cfg
}

// Close 按创建的逆序释放资源。
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
