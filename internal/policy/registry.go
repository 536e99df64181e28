// Package policy 管理按周期区分的评估规则，支持 YAML 热加载。
package policy

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"sigtrack/internal/logger"
	"sigtrack/internal/outcome"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Rule 是某个周期最终生效的评估规则。
type Rule struct {
	Policy         outcome.Policy `json:"policy"`
	DefaultTTLBars int            `json:"default_ttl_bars"`
}

// Override 覆盖某个周期的部分字段。
type Override struct {
	TieBreak       string `mapstructure:"tie_break" yaml:"tie_break"`
	Resolution     string `mapstructure:"resolution" yaml:"resolution"`
	DefaultTTLBars *int   `mapstructure:"default_ttl_bars" yaml:"default_ttl_bars"`
}

// Profile 是一组规则：基础值加按周期覆盖。
type Profile struct {
	TieBreak       string              `mapstructure:"tie_break" yaml:"tie_break"`
	Resolution     string              `mapstructure:"resolution" yaml:"resolution"`
	DefaultTTLBars int                 `mapstructure:"default_ttl_bars" yaml:"default_ttl_bars"`
	Timeframes     map[string]Override `mapstructure:"timeframes" yaml:"timeframes"`
}

// FileConfig 映射 policies.yaml。
type FileConfig struct {
	Profiles map[string]Profile `mapstructure:"profiles" yaml:"profiles"`
}

// Snapshot 是某次加载后的完整规则集。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Profile  string
	Base     Rule
	ByTF     map[string]Rule
}

// ChangeListener 在 registry 重载时触发。
type ChangeListener func(Snapshot)

// Source 按周期返回生效规则。
type Source interface {
	Resolve(timeframe string) Rule
}

// Registry 管理评估规则。
type Registry struct {
	path     string
	profile  string
	fallback Rule

	mu        sync.RWMutex
	snapshot  Snapshot
	listeners []ChangeListener
}

// NewStatic 返回不读文件的 registry，所有周期使用 fallback。
func NewStatic(fallback Rule) *Registry {
	fallback.Policy = normalizePolicy(fallback.Policy)
	return &Registry{
		fallback: fallback,
		snapshot: Snapshot{Version: 1, LoadedAt: time.Now(), Base: fallback, ByTF: map[string]Rule{}},
	}
}

// NewRegistry 读取 path 中的 profile 并监听文件变更；path 为空时等价于 NewStatic。
func NewRegistry(path, profile string, fallback Rule) (*Registry, error) {
	if strings.TrimSpace(path) == "" {
		return NewStatic(fallback), nil
	}
	profile = strings.TrimSpace(profile)
	if profile == "" {
		profile = "default"
	}
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read policy config failed: %w", err)
	}
	r := &Registry{path: path, profile: profile, fallback: fallback}
	r.fallback.Policy = normalizePolicy(fallback.Policy)
	if err := r.reload(); err != nil {
		return nil, err
	}
	v.OnConfigChange(func(evt fsnotify.Event) {
		if err := r.reload(); err != nil {
			logger.Errorf("policy reload failed (%s): %v", evt.Name, err)
			return
		}
		r.notifyListeners()
	})
	v.WatchConfig()
	return r, nil
}

// Resolve 返回 timeframe 的规则；未配置覆盖时返回 profile 基础值。
func (r *Registry) Resolve(timeframe string) Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rule, ok := r.snapshot.ByTF[strings.ToLower(strings.TrimSpace(timeframe))]; ok {
		return rule
	}
	return r.snapshot.Base
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSnapshot(r.snapshot)
}

// OnChange 注册重载回调，回调在独立 goroutine 中执行。
func (r *Registry) OnChange(fn ChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

// Reload 立即重新读取文件并通知监听者。
func (r *Registry) Reload() error {
	if r.path == "" {
		return nil
	}
	if err := r.reload(); err != nil {
		return err
	}
	r.notifyListeners()
	return nil
}

func (r *Registry) reload() error {
	cfg, err := readPolicyFile(r.path)
	if err != nil {
		return err
	}
	prof, ok := cfg.Profiles[r.profile]
	if !ok {
		return fmt.Errorf("policy profile %q not found in %s", r.profile, filepath.Base(r.path))
	}
	base, err := buildRule(r.fallback, prof.TieBreak, prof.Resolution, intPtr(prof.DefaultTTLBars))
	if err != nil {
		return fmt.Errorf("profile %s: %w", r.profile, err)
	}
	byTF := make(map[string]Rule, len(prof.Timeframes))
	for tf, ov := range prof.Timeframes {
		rule, err := buildRule(base, ov.TieBreak, ov.Resolution, ov.DefaultTTLBars)
		if err != nil {
			return fmt.Errorf("profile %s timeframe %s: %w", r.profile, tf, err)
		}
		byTF[strings.ToLower(strings.TrimSpace(tf))] = rule
	}
	r.mu.Lock()
	r.snapshot = Snapshot{
		Version:  r.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Profile:  r.profile,
		Base:     base,
		ByTF:     byTF,
	}
	r.mu.Unlock()
	logger.Infof("Policy registry loaded profile %s (%s, %d timeframe overrides) from %s",
		r.profile, base.Policy, len(byTF), filepath.Base(r.path))
	return nil
}

func buildRule(parent Rule, tieBreak, resolution string, ttl *int) (Rule, error) {
	rule := parent
	if strings.TrimSpace(tieBreak) != "" {
		tb, err := outcome.ParseTieBreak(tieBreak)
		if err != nil {
			return Rule{}, err
		}
		rule.Policy.TieBreak = tb
	}
	if strings.TrimSpace(resolution) != "" {
		res, err := outcome.ParseResolution(resolution)
		if err != nil {
			return Rule{}, err
		}
		rule.Policy.Resolution = res
	}
	if ttl != nil {
		if *ttl < 0 {
			return Rule{}, fmt.Errorf("default_ttl_bars must be >= 0, got %d", *ttl)
		}
		rule.DefaultTTLBars = *ttl
	}
	return rule, nil
}

func (r *Registry) notifyListeners() {
	r.mu.RLock()
	snap := cloneSnapshot(r.snapshot)
	listeners := append([]ChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb ChangeListener) {
			defer safeRecover("policy listener")
			cb(snap)
		}(fn)
	}
}

func readPolicyFile(path string) (FileConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}, fmt.Errorf("read policy config failed: %w", err)
	}
	var cfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return FileConfig{}, fmt.Errorf("parse policy config failed: %w", err)
	}
	return cfg, nil
}

func normalizePolicy(p outcome.Policy) outcome.Policy {
	if tb, err := outcome.ParseTieBreak(string(p.TieBreak)); err == nil {
		p.TieBreak = tb
	}
	if res, err := outcome.ParseResolution(string(p.Resolution)); err == nil {
		p.Resolution = res
	}
	return p
}

func cloneSnapshot(src Snapshot) Snapshot {
	dst := src
	dst.ByTF = make(map[string]Rule, len(src.ByTF))
	for k, v := range src.ByTF {
		dst.ByTF[k] = v
	}
	return dst
}

func intPtr(v int) *int {
	if v == 0 {
		return nil
	}
	return &v
}

func safeRecover(tag string) {
	if r := recover(); r != nil {
		logger.Errorf("%s panic: %v", tag, r)
	}
}
