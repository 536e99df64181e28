package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"sigtrack/internal/app"
	"sigtrack/internal/config"
	"sigtrack/internal/logger"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/config.yaml"

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "sigtrack",
		Short:         "Trading signal lifecycle tracker and outcome evaluator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", envOr("SIGTRACK_CONFIG", defaultConfigPath), "config file (env SIGTRACK_CONFIG)")

	root.AddCommand(
		newServeCmd(),
		newEvaluateCmd(),
		newSubmitCmd(),
		newStatsCmd(),
		newExportTransitionsCmd(),
		newReportChartCmd(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// loadConfig 读取配置并初始化日志输出；返回的 closer 关闭日志文件。
func loadConfig() (*config.Config, func(), error) {
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("读取配置失败: %w", err)
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.SetFormat(cfg.App.LogFormat)
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		return nil, nil, fmt.Errorf("初始化日志文件失败: %w", err)
	}
	closer := func() {
		if logFile != nil {
			_ = logFile.Close()
		}
	}
	return cfg, closer, nil
}

// withApp 构建应用、执行 fn 并释放资源。
func withApp(mutate func(*config.Config), fn func(*app.App) error) error {
	cfg, closeLog, err := loadConfig()
	if err != nil {
		return err
	}
	defer closeLog()
	if mutate != nil {
		mutate(cfg)
	}
	a, err := app.NewApp(cfg)
	if err != nil {
		return fmt.Errorf("初始化应用失败: %w", err)
	}
	defer a.Close()
	return fn(a)
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stderr, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
