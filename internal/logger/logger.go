package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 键值对风格的日志接口
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	With(kv ...any) Logger
}

// Options 日志输出配置
type Options struct {
	Level   string   // debug/info/warn/error
	Writers []string // console、file
	File    string   // file 输出的文件路径
	Console io.Writer
}

// ZeroLogger 基于 zerolog 的实现
type ZeroLogger struct {
	zl zerolog.Logger
}

// New 按配置创建日志器
func New(opts Options) *ZeroLogger {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	for _, w := range opts.Writers {
		switch w {
		case "console":
			out := opts.Console
			if out == nil {
				out = os.Stderr
			}
			writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: time.DateTime})
		case "file":
			if opts.File == "" {
				continue
			}
			writers = append(writers, &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    50,
				MaxBackups: 3,
				MaxAge:     7,
			})
		}
	}

	var out io.Writer = io.Discard
	switch len(writers) {
	case 0:
	case 1:
		out = writers[0]
	default:
		out = zerolog.MultiLevelWriter(writers...)
	}
	return &ZeroLogger{zl: zerolog.New(out).Level(level).With().Timestamp().Logger()}
}

// NewWithZerolog 包装已有的 zerolog 实例
func NewWithZerolog(zl zerolog.Logger) *ZeroLogger {
	return &ZeroLogger{zl: zl}
}

func (l *ZeroLogger) Debug(msg string, kv ...any) { l.log(l.zl.Debug(), msg, kv) }

func (l *ZeroLogger) Info(msg string, kv ...any) { l.log(l.zl.Info(), msg, kv) }

func (l *ZeroLogger) Warn(msg string, kv ...any) { l.log(l.zl.Warn(), msg, kv) }

func (l *ZeroLogger) Error(msg string, kv ...any) { l.log(l.zl.Error(), msg, kv) }

// With 返回附带固定字段的子日志器
func (l *ZeroLogger) With(kv ...any) Logger {
	ctx := l.zl.With()
	for i := 0; i < len(kv); i += 2 {
		ctx = ctx.Interface(key(kv, i), value(kv, i))
	}
	return &ZeroLogger{zl: ctx.Logger()}
}

func (l *ZeroLogger) log(ev *zerolog.Event, msg string, kv []any) {
	if ev == nil {
		return
	}
	for i := 0; i < len(kv); i += 2 {
		if err, ok := value(kv, i).(error); ok {
			ev = ev.AnErr(key(kv, i), err)
			continue
		}
		ev = ev.Interface(key(kv, i), value(kv, i))
	}
	ev.Msg(msg)
}

func key(kv []any, i int) string {
	if s, ok := kv[i].(string); ok {
		return s
	}
	return fmt.Sprint(kv[i])
}

func value(kv []any, i int) any {
	if i+1 < len(kv) {
		return kv[i+1]
	}
	return nil
}

type nopLogger struct{}

// NewNop 返回丢弃所有输出的日志器
func NewNop() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func (n nopLogger) With(...any) Logger { return n }
