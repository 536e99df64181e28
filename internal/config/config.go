package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// envPrefix 环境变量前缀，例如 SIGTRACK_STORE_PATH 覆盖 store.path。
const envPrefix = "SIGTRACK"

// envKeys 允许被环境变量覆盖的配置项（多为部署相关的地址与凭据）。
var envKeys = []string{
	"app.http_addr",
	"app.log_level",
	"store.path",
	"lock.backend",
	"lock.redis_addr",
	"lock.redis_password",
	"market.rest_base_url",
	"market.proxy_url",
	"policy.path",
}

func Load(path string) (*Config, error) {
	files, err := includeChain(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, file := range files {
		if err := mergeConfigFile(v, file); err != nil {
			return nil, fmt.Errorf("reading config file failed (%s): %w", file, err)
		}
	}
	if err := bindEnv(v); err != nil {
		return nil, err
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "toml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("parsing config failed: %w", err)
	}
	// 显式写出的键（包括 0 与 false）不再套用默认值
	setKeys := make(keySet)
	for _, key := range v.AllKeys() {
		if key != "include" && v.IsSet(key) {
			setKeys.mark(key)
		}
	}
	cfg.applyDefaults(setKeys)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault 在文件不存在时退回到默认配置。
func LoadOrDefault(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if err := validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return Load(path)
}

func bindEnv(v *viper.Viper) error {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return fmt.Errorf("bind env %s: %w", key, err)
		}
	}
	return nil
}

func mergeConfigFile(v *viper.Viper, path string) error {
	tmp := viper.New()
	tmp.SetConfigFile(path)
	if err := tmp.ReadInConfig(); err != nil {
		return err
	}
	return v.MergeConfigMap(tmp.AllSettings())
}

// includeChain 返回按合并顺序排列的配置文件：被 include 的文件在前，主文件最后。
func includeChain(path string) ([]string, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	var (
		order    []string
		done     = map[string]bool{}
		visiting = map[string]bool{}
	)
	var walk func(file string) error
	walk = func(file string) error {
		file = filepath.Clean(file)
		if visiting[file] {
			return fmt.Errorf("include cycle detected: %s", file)
		}
		if done[file] {
			return nil
		}
		visiting[file] = true
		incs, err := readIncludes(file)
		if err != nil {
			return fmt.Errorf("parsing include failed (%s): %w", file, err)
		}
		for _, inc := range incs {
			if !filepath.IsAbs(inc) {
				inc = filepath.Join(filepath.Dir(file), inc)
			}
			if err := walk(inc); err != nil {
				return err
			}
		}
		delete(visiting, file)
		done[file] = true
		order = append(order, file)
		return nil
	}
	if err := walk(abs); err != nil {
		return nil, err
	}
	return order, nil
}

// readIncludes 读取文件顶层的 include 列表。
func readIncludes(path string) ([]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	raw := v.Get("include")
	if raw == nil {
		return nil, nil
	}
	items, ok := raw.([]any)
	if !ok {
		if strs, isStrs := raw.([]string); isStrs {
			for _, s := range strs {
				items = append(items, s)
			}
		} else {
			return nil, fmt.Errorf("include must be a string array")
		}
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("include only supports strings")
		}
		if str = strings.TrimSpace(str); str != "" {
			out = append(out, str)
		}
	}
	return out, nil
}
