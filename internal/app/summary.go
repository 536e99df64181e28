package app

import (
	"fmt"
	"sort"
	"strings"

	"sigtrack/internal/config"
	"sigtrack/internal/logger"
	"sigtrack/internal/policy"
)

// StartupSummary 汇总启动时的关键配置，便于排查环境问题。
type StartupSummary struct {
	Env       string
	StorePath string
	HTTPAddr  string
	Market    string
	Lock      string
	Scheduler string
	Policy    policy.Snapshot
}

func newStartupSummary(cfg *config.Config, snap policy.Snapshot) *StartupSummary {
	s := &StartupSummary{
		Env:       cfg.App.Env,
		StorePath: cfg.Store.Path,
		HTTPAddr:  cfg.App.HTTPAddr,
		Market:    cfg.Market.Source,
		Lock:      cfg.Lock.Backend,
		Scheduler: "disabled",
		Policy:    snap,
	}
	if cfg.Market.Source == "binance" {
		s.Market = fmt.Sprintf("binance (%s, max %d bars/request)", cfg.Market.RESTBaseURL, cfg.Market.MaxBarsPerRequest)
	}
	if cfg.Lock.UsesRedis() {
		s.Lock = fmt.Sprintf("redis (%s, prefix=%s)", cfg.Lock.RedisAddr, cfg.Lock.KeyPrefix)
	}
	if sc := cfg.Scheduler; sc.Enabled {
		s.Scheduler = fmt.Sprintf("align=%s every=%s offset=%s concurrency=%d timeout=%s",
			sc.AlignInterval, sc.Interval, sc.Offset(), sc.MaxConcurrent, sc.SignalTimeout())
	}
	return s
}

func (s *StartupSummary) String() string {
	var b strings.Builder
	b.WriteString(strings.Repeat("=", 80) + "\n")
	b.WriteString("启动配置摘要 (STARTUP SUMMARY)\n")
	b.WriteString(strings.Repeat("=", 80) + "\n")
	fmt.Fprintf(&b, "  环境:     %s\n", s.Env)
	fmt.Fprintf(&b, "  存储:     %s\n", s.StorePath)
	fmt.Fprintf(&b, "  HTTP:     %s\n", s.HTTPAddr)
	fmt.Fprintf(&b, "  行情:     %s\n", s.Market)
	fmt.Fprintf(&b, "  评估锁:   %s\n", s.Lock)
	fmt.Fprintf(&b, "  调度:     %s\n", s.Scheduler)
	fmt.Fprintf(&b, "  评估策略: %s ttl=%d bars", s.Policy.Base.Policy, s.Policy.Base.DefaultTTLBars)
	if s.Policy.Profile != "" {
		fmt.Fprintf(&b, " (profile=%s)", s.Policy.Profile)
	}
	b.WriteString("\n")
	tfs := make([]string, 0, len(s.Policy.ByTF))
	for tf := range s.Policy.ByTF {
		tfs = append(tfs, tf)
	}
	sort.Strings(tfs)
	for _, tf := range tfs {
		r := s.Policy.ByTF[tf]
		fmt.Fprintf(&b, "    - %s: %s ttl=%d bars\n", tf, r.Policy, r.DefaultTTLBars)
	}
	b.WriteString(strings.Repeat("=", 80))
	return b.String()
}

// Print 逐行写入日志，日志文件中也能看到启动配置。
func (s *StartupSummary) Print() {
	logger.InfoBlock(s.String())
}
