package config

import (
	"fmt"
	"strings"

	"sigtrack/internal/market"
	"sigtrack/internal/outcome"
)

// validate 对配置进行基础校验。
func validate(c *Config) error {
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Evaluator.validate(); err != nil {
		return err
	}
	if err := c.Scheduler.validate(); err != nil {
		return err
	}
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Lock.validate(); err != nil {
		return err
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if strings.TrimSpace(s.Path) == "" {
		return fmt.Errorf("store.path cannot be empty")
	}
	if s.MaxOpenConns < 1 {
		return fmt.Errorf("store.max_open_conns must be >= 1")
	}
	return nil
}

func (e *EvaluatorConfig) validate() error {
	if _, err := outcome.ParseTieBreak(e.TieBreak); err != nil {
		return fmt.Errorf("evaluator.tie_break: %w", err)
	}
	if _, err := outcome.ParseResolution(e.Resolution); err != nil {
		return fmt.Errorf("evaluator.resolution: %w", err)
	}
	if e.DefaultTTLBars < 0 {
		return fmt.Errorf("evaluator.default_ttl_bars must be >= 0")
	}
	return nil
}

func (s *SchedulerConfig) validate() error {
	if !s.Enabled {
		return nil
	}
	if _, ok := market.ParseIntervalDuration(s.AlignInterval); !ok {
		return fmt.Errorf("scheduler.align_interval invalid: %q", s.AlignInterval)
	}
	if _, ok := market.ParseIntervalDuration(s.Interval); !ok {
		return fmt.Errorf("scheduler.interval invalid: %q", s.Interval)
	}
	if s.OffsetSeconds < 0 {
		return fmt.Errorf("scheduler.offset_seconds must be >= 0")
	}
	if s.MaxConcurrent < 1 || s.MaxConcurrent > 64 {
		return fmt.Errorf("scheduler.max_concurrent must be in [1,64]")
	}
	if s.SignalTimeoutSeconds < 1 {
		return fmt.Errorf("scheduler.signal_timeout_seconds must be >= 1")
	}
	return nil
}

func (m *MarketConfig) validate() error {
	switch m.Source {
	case "binance", "none":
	default:
		return fmt.Errorf("market.source unsupported: %s", m.Source)
	}
	if m.Source == "binance" && strings.TrimSpace(m.RESTBaseURL) == "" {
		return fmt.Errorf("market.rest_base_url cannot be empty")
	}
	if m.MaxBarsPerRequest < 1 || m.MaxBarsPerRequest > 1500 {
		return fmt.Errorf("market.max_bars_per_request must be in [1,1500]")
	}
	return nil
}

func (l *LockConfig) validate() error {
	switch l.Backend {
	case "memory":
	case "redis":
		if strings.TrimSpace(l.RedisAddr) == "" {
			return fmt.Errorf("lock.redis_addr required when lock.backend=redis")
		}
	default:
		return fmt.Errorf("lock.backend unsupported: %s", l.Backend)
	}
	if l.TTLSeconds < 1 {
		return fmt.Errorf("lock.ttl_seconds must be >= 1")
	}
	return nil
}
