package binance

import (
	"strings"
	"time"
)

const (
	defaultBaseURL  = "https://fapi.binance.com"
	maxHistoryLimit = 1500
)

type Config struct {
	RESTBaseURL string
	HTTPTimeout time.Duration
	ProxyURL    string

	// RequestsPerSecond/Burst 限制 REST 调用频率；<=0 时不限速。
	RequestsPerSecond float64
	Burst             int

	// BreakerFailures 次连续失败后暂停调用 BreakerCooldown。
	BreakerFailures int
	BreakerCooldown time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimRight(strings.TrimSpace(out.RESTBaseURL), "/")
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = defaultBaseURL
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	out.ProxyURL = strings.TrimSpace(out.ProxyURL)
	if out.Burst <= 0 {
		out.Burst = 1
	}
	if out.BreakerFailures <= 0 {
		out.BreakerFailures = 5
	}
	if out.BreakerCooldown <= 0 {
		out.BreakerCooldown = 30 * time.Second
	}
	return out
}
