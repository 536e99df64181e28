package config

import "strings"

// 默认值常量
const (
	defaultAppEnv              = "dev"
	defaultAppLogLevel         = "info"
	defaultAppLogFormat        = "text"
	defaultAppHTTPAddr         = ":9992"
	defaultStorePath           = "data/sigtrack.db"
	defaultStoreMaxOpenConns   = 2
	defaultStoreBusyTimeoutMS  = 5000
	defaultTieBreak            = "stop_first"
	defaultResolution          = "first_target"
	defaultSchedulerAlign      = "5m"
	defaultSchedulerInterval   = "5m"
	defaultSchedulerOffset     = 10
	defaultSchedulerConcurrent = 4
	defaultSignalTimeout       = 20
	defaultBreakerThreshold    = 3
	defaultBreakerCooldown     = 60
	defaultMarketSource        = "binance"
	defaultMarketREST          = "https://fapi.binance.com"
	defaultMarketTimeout       = 15
	defaultMarketRPS           = 5
	defaultMarketBurst         = 10
	defaultMarketMaxBars       = 1500
	defaultLockBackend         = "memory"
	defaultLockPrefix          = "sigtrack:eval:"
	defaultLockTTL             = 60
	defaultPolicyProfile       = "default"
)

// Default 返回只包含默认值的配置，CLI 在未提供配置文件时使用。
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults(make(keySet))
	return cfg
}

// applyDefaults 为所有子配置应用默认值。
func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Evaluator.applyDefaults(keys)
	c.Scheduler.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Lock.applyDefaults(keys)
	c.Policy.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, defaultAppLogFormat),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.path", &s.Path, defaultStorePath),
		intFieldDefault("store.max_open_conns", &s.MaxOpenConns, defaultStoreMaxOpenConns),
		intFieldDefault("store.busy_timeout_ms", &s.BusyTimeoutMS, defaultStoreBusyTimeoutMS),
	)
}

func (e *EvaluatorConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("evaluator.tie_break", &e.TieBreak, defaultTieBreak),
		stringFieldDefault("evaluator.resolution", &e.Resolution, defaultResolution),
	)
	e.TieBreak = strings.ToLower(strings.TrimSpace(e.TieBreak))
	e.Resolution = strings.ToLower(strings.TrimSpace(e.Resolution))
}

func (s *SchedulerConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		boolFieldDefault("scheduler.enabled", &s.Enabled, true),
		stringFieldDefault("scheduler.align_interval", &s.AlignInterval, defaultSchedulerAlign),
		stringFieldDefault("scheduler.interval", &s.Interval, defaultSchedulerInterval),
		intFieldDefault("scheduler.offset_seconds", &s.OffsetSeconds, defaultSchedulerOffset),
		boolFieldDefault("scheduler.run_immediately", &s.RunImmediately, true),
		intFieldDefault("scheduler.max_concurrent", &s.MaxConcurrent, defaultSchedulerConcurrent),
		intFieldDefault("scheduler.signal_timeout_seconds", &s.SignalTimeoutSeconds, defaultSignalTimeout),
		intFieldDefault("scheduler.breaker_threshold", &s.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("scheduler.breaker_cooldown_seconds", &s.BreakerCooldownSeconds, defaultBreakerCooldown),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.source", &m.Source, defaultMarketSource),
		stringFieldDefault("market.rest_base_url", &m.RESTBaseURL, defaultMarketREST),
		intFieldDefault("market.timeout_seconds", &m.TimeoutSeconds, defaultMarketTimeout),
		intFieldDefault("market.burst", &m.Burst, defaultMarketBurst),
		intFieldDefault("market.max_bars_per_request", &m.MaxBarsPerRequest, defaultMarketMaxBars),
		fieldDefault{
			key:   "market.requests_per_second",
			need:  func() bool { return m.RequestsPerSecond <= 0 },
			apply: func() { m.RequestsPerSecond = defaultMarketRPS },
		},
	)
	m.Source = strings.ToLower(strings.TrimSpace(m.Source))
	m.ProxyURL = strings.TrimSpace(m.ProxyURL)
}

func (l *LockConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("lock.backend", &l.Backend, defaultLockBackend),
		stringFieldDefault("lock.key_prefix", &l.KeyPrefix, defaultLockPrefix),
		intFieldDefault("lock.ttl_seconds", &l.TTLSeconds, defaultLockTTL),
	)
	l.Backend = strings.ToLower(strings.TrimSpace(l.Backend))
}

func (p *PolicyConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("policy.profile", &p.Profile, defaultPolicyProfile),
	)
	p.Path = strings.TrimSpace(p.Path)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
