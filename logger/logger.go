package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	globalLogger = slog.Default()
	once         sync.Once
	closers      []io.Closer
)

type Config struct {
	Level      string   `mapstructure:"level"`   // debug/info/warn/error
	Outputs    []string `mapstructure:"outputs"` // stdout/stderr/file path
	Format     string   `mapstructure:"format"`  // text/json
	MaxSizeMB  int      `mapstructure:"max_size_mb"`
	MaxBackups int      `mapstructure:"max_backups"`
}

func DefaultConfig() Config {
	return Config{
		Level:      "info",
		Outputs:    []string{"stdout"},
		Format:     "text",
		MaxSizeMB:  10,
		MaxBackups: 3,
	}
}

// ParseLevel 解析日志级别，未知值按 info 处理
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New 按配置创建 logger，不影响全局 logger
func New(cfg Config) (*slog.Logger, []io.Closer, error) {
	var (
		writers []io.Writer
		files   []io.Closer
	)
	for _, output := range cfg.Outputs {
		switch output {
		case "", "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			// 确保目录存在
			if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
				return nil, files, fmt.Errorf("failed to create log directory: %w", err)
			}
			// 日志文件按大小轮转
			lj := &lumberjack.Logger{
				Filename:   output,
				MaxSize:    cfg.MaxSizeMB,
				MaxBackups: cfg.MaxBackups,
			}
			writers = append(writers, lj)
			files = append(files, lj)
		}
	}

	// 如果没有指定输出，默认使用stdout
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}
	w := io.MultiWriter(writers...)

	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), files, nil
}

// Init 初始化全局 logger，只有第一次调用生效
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		var l *slog.Logger
		l, closers, err = New(cfg)
		if err != nil {
			return
		}
		globalLogger = l
		slog.SetDefault(l)
	})
	return err
}

// Close 关闭文件输出
func Close() error {
	var err error
	for _, c := range closers {
		err = multierr.Append(err, c.Close())
	}
	closers = nil
	return err
}

// Component 返回带 component 属性的子 logger
func Component(name string) *slog.Logger {
	return globalLogger.With("component", name)
}

func Debug(msg string, args ...interface{}) {
	globalLogger.Debug(msg, args...)
}

func Info(msg string, args ...interface{}) {
	globalLogger.Info(msg, args...)
}

func Warn(msg string, args ...interface{}) {
	globalLogger.Warn(msg, args...)
}

func Error(msg string, args ...interface{}) {
	globalLogger.Error(msg, args...)
}

func Logger() *slog.Logger {
	return globalLogger
}
