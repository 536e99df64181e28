package config

import (
	"strings"
	"time"
)

// Config 是 sigtrack 的主配置载体。
type Config struct {
	App       AppConfig       `toml:"app"`
	Store     StoreConfig     `toml:"store"`
	Evaluator EvaluatorConfig `toml:"evaluator"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Market    MarketConfig    `toml:"market"`
	Lock      LockConfig      `toml:"lock"`
	Ingest    IngestConfig    `toml:"ingest"`
	Policy    PolicyConfig    `toml:"policy"`
}

type AppConfig struct {
	Env       string `toml:"env"`
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogPath   string `toml:"log_path"`
	HTTPAddr  string `toml:"http_addr"`
}

// StoreConfig 描述 outcome store 的 sqlite 文件与连接池。
type StoreConfig struct {
	Path          string `toml:"path"`
	MaxOpenConns  int    `toml:"max_open_conns"`
	BusyTimeoutMS int    `toml:"busy_timeout_ms"`
}

// EvaluatorConfig 是评估策略的全局缺省值，policy 文件可以按周期覆盖。
type EvaluatorConfig struct {
	TieBreak       string `toml:"tie_break"`        // stop_first | target_first
	Resolution     string `toml:"resolution"`       // first_target | all_targets
	DefaultTTLBars int    `toml:"default_ttl_bars"` // 0 表示不自动过期
}

type SchedulerConfig struct {
	Enabled                bool   `toml:"enabled"`
	AlignInterval          string `toml:"align_interval"`
	Interval               string `toml:"interval"`
	OffsetSeconds          int    `toml:"offset_seconds"`
	RunImmediately         bool   `toml:"run_immediately"`
	MaxConcurrent          int    `toml:"max_concurrent"`
	SignalTimeoutSeconds   int    `toml:"signal_timeout_seconds"`
	BreakerThreshold       int    `toml:"breaker_threshold"`
	BreakerCooldownSeconds int    `toml:"breaker_cooldown_seconds"`
}

func (s SchedulerConfig) SignalTimeout() time.Duration {
	return time.Duration(s.SignalTimeoutSeconds) * time.Second
}

func (s SchedulerConfig) Offset() time.Duration {
	return time.Duration(s.OffsetSeconds) * time.Second
}

func (s SchedulerConfig) BreakerCooldown() time.Duration {
	return time.Duration(s.BreakerCooldownSeconds) * time.Second
}

// MarketConfig 描述 K 线来源（price window supplier）。
type MarketConfig struct {
	Source            string  `toml:"source"`
	RESTBaseURL       string  `toml:"rest_base_url"`
	ProxyURL          string  `toml:"proxy_url"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	MaxBarsPerRequest int     `toml:"max_bars_per_request"`
}

func (m MarketConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// LockConfig 选择单信号评估锁的实现。
type LockConfig struct {
	Backend       string `toml:"backend"` // memory | redis
	RedisAddr     string `toml:"redis_addr"`
	RedisPassword string `toml:"redis_password"`
	RedisDB       int    `toml:"redis_db"`
	KeyPrefix     string `toml:"key_prefix"`
	TTLSeconds    int    `toml:"ttl_seconds"`
}

func (l LockConfig) TTL() time.Duration {
	return time.Duration(l.TTLSeconds) * time.Second
}

func (l LockConfig) UsesRedis() bool {
	return strings.EqualFold(strings.TrimSpace(l.Backend), "redis")
}

// IngestConfig 控制上游信号载荷的边界校验。
type IngestConfig struct {
	NormalizeWeights bool   `toml:"normalize_weights"`
	SchemaPath       string `toml:"schema_path"`
}

type PolicyConfig struct {
	Path    string `toml:"path"`
	Profile string `toml:"profile"`
}

// keySet 用于追踪配置文件中显式设置的字段路径。
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault 描述单个字段的默认值设置规则。
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
