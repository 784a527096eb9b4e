package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 结构化日志接口，参数以 key/value 成对传入
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
	With(kv ...any) Logger
}

// Options 日志配置
type Options struct {
	Level   string
	Writers []string
	File    string
}

type zeroLogger struct {
	l zerolog.Logger
}

// New 根据配置创建 zerolog 日志器
func New(opts Options) Logger {
	var writers []io.Writer
	for _, w := range opts.Writers {
		switch strings.ToLower(w) {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime})
		case "file":
			if opts.File == "" {
				continue
			}
			_ = os.MkdirAll(filepath.Dir(opts.File), 0o700)
			writers = append(writers, &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    20,
				MaxBackups: 5,
				MaxAge:     14,
				Compress:   true,
			})
		}
	}
	if len(writers) == 0 {
		writers = append(writers, io.Discard)
	}

	lvl, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		lvl = zerolog.InfoLevel
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(lvl).With().Timestamp().Logger()
	return &zeroLogger{l: zl}
}

// NewWriter 将日志写入任意 io.Writer，主要用于测试
func NewWriter(w io.Writer, level string) Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.DebugLevel
	}
	return &zeroLogger{l: zerolog.New(w).Level(lvl)}
}

func (z *zeroLogger) Debug(msg string, kv ...any) { z.l.Debug().Fields(kv).Msg(msg) }
func (z *zeroLogger) Info(msg string, kv ...any)  { z.l.Info().Fields(kv).Msg(msg) }
func (z *zeroLogger) Warn(msg string, kv ...any)  { z.l.Warn().Fields(kv).Msg(msg) }
func (z *zeroLogger) Error(msg string, kv ...any) { z.l.Error().Fields(kv).Msg(msg) }

func (z *zeroLogger) Err(err error, msg string, kv ...any) {
	z.l.Error().Err(err).Fields(kv).Msg(msg)
}

func (z *zeroLogger) With(kv ...any) Logger {
	return &zeroLogger{l: z.l.With().Fields(kv).Logger()}
}

type nopLogger struct{}

// NewNop 返回丢弃所有输出的日志器
func NewNop() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...any)      {}
func (nopLogger) Info(string, ...any)       {}
func (nopLogger) Warn(string, ...any)       {}
func (nopLogger) Error(string, ...any)      {}
func (nopLogger) Err(error, string, ...any) {}
func (n nopLogger) With(...any) Logger      { return n }

// Log 按文本级别输出，未知级别按 info 处理
func Log(l Logger, level, msg string, kv ...any) {
	switch strings.ToLower(level) {
	case "trace", "debug":
		l.Debug(msg, kv...)
	case "warn", "warning":
		l.Warn(msg, kv...)
	case "error":
		l.Error(msg, kv...)
	default:
		l.Info(msg, kv...)
	}
}
