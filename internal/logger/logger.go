package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config 日志配置。File 非空时日志同时写入文件，按大小轮转。
type Config struct {
	Level       string // debug / info / warn / error
	Development bool   // 开发模式：控制台编码 + Error 级堆栈
	File        string // 日志文件路径，留空只输出到标准输出
	MaxSizeMB   int    // 单个日志文件大小上限（MB）
	MaxBackups  int    // 保留的轮转文件个数
	MaxAgeDays  int    // 轮转文件保留天数
	Compress    bool   // 轮转出的历史文件是否 gzip 压缩
}

// NewLogger 按配置构建 zap 日志记录器。
// 无法解析的级别回退为 info，不中断启动。
func NewLogger(cfg Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		level = zapcore.InfoLevel
	}

	sink, err := newSink(cfg)
	if err != nil {
		return nil, err
	}

	core := zapcore.NewCore(newEncoder(cfg.Development), sink, level)

	opts := []zap.Option{zap.AddCaller()}
	if cfg.Development {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return zap.New(core, opts...), nil
}

// newEncoder 开发模式使用控制台编码，生产模式输出单行 JSON。
func newEncoder(development bool) zapcore.Encoder {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	if development {
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
	return zapcore.NewJSONEncoder(encoderConfig)
}

// newSink 构建日志输出目标。配置了文件时同时写入
// lumberjack 轮转文件和标准输出，便于容器环境采集。
func newSink(cfg Config) (zapcore.WriteSyncer, error) {
	if cfg.File == "" {
		return zapcore.AddSync(os.Stdout), nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	return zapcore.NewMultiWriteSyncer(
		zapcore.AddSync(rotator),
		zapcore.AddSync(os.Stdout),
	), nil
}
