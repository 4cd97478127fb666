package zresource

import (
	"go.uber.org/zap"
)

type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
}

var _ Logger = (*zap.SugaredLogger)(nil)

// NewLogger 创建基于 zap 的 logger，level 无法解析时使用 info
func NewLogger(level string) Logger {
	cnf := zap.NewProductionConfig()
	if err := cnf.Level.UnmarshalText([]byte(level)); err != nil {
		cnf.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	l, err := cnf.Build()
	if err != nil {
		return NopLogger()
	}
	return l.Sugar()
}

// NopLogger 丢弃所有日志
func NopLogger() Logger {
	return zap.NewNop().Sugar()
}
