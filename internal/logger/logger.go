package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
)

var (
	levelVar   slog.LevelVar
	loggerMu   sync.RWMutex
	baseLogger *slog.Logger
	output     io.Writer = os.Stdout
	jsonFormat bool
)

func init() {
	levelVar.Set(slog.LevelInfo)
	baseLogger = newLogger(os.Stdout, false)
}

func newLogger(w io.Writer, asJSON bool) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: &levelVar}
	if asJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func SetOutput(w io.Writer) {
	loggerMu.Lock()
	output = w
	baseLogger = newLogger(w, jsonFormat)
	loggerMu.Unlock()
}

// SetFormat 切换 text/json 输出格式。
func SetFormat(format string) {
	loggerMu.Lock()
	jsonFormat = strings.EqualFold(strings.TrimSpace(format), "json")
	baseLogger = newLogger(output, jsonFormat)
	loggerMu.Unlock()
}

// SetLevel 设置全局日志级别，无法识别时退回 info。
func SetLevel(level string) {
	levelVar.Set(parseLevel(level))
}

func parseLevel(level string) slog.Level {
	name := strings.ToLower(strings.TrimSpace(level))
	if name == "warning" {
		name = "warn"
	}
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(name)); err != nil {
		return slog.LevelInfo
	}
	return lv
}

func activeLogger() *slog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return baseLogger
}

// Slog 返回底层 *slog.Logger，供需要结构化字段的调用方使用。
func Slog() *slog.Logger {
	return activeLogger()
}

// With 返回带 component 字段的子 logger。
func With(component string) *slog.Logger {
	return activeLogger().With("component", component)
}

func Debugf(format string, v ...any) {
	activeLogger().Debug(fmt.Sprintf(format, v...))
}

func Infof(format string, v ...any) {
	activeLogger().Info(fmt.Sprintf(format, v...))
}

func Warnf(format string, v ...any) {
	activeLogger().Warn(fmt.Sprintf(format, v...))
}

func Errorf(format string, v ...any) {
	activeLogger().Error(fmt.Sprintf(format, v...))
}

func InfoBlock(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	lines := strings.Split(block, "\n")
	for _, line := range lines {
		Infof("%s", line)
	}
}
