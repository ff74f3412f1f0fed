// Package logging builds the zap logger shared by every fieldsync command
// and adapts it to the Printf-style loggers used inside the engine.
package logging

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	// Env is "dev" for colored console output or "prod" for JSON. Default "dev".
	Env string
	// Level is the minimum level: debug, info, warn, error. Default "info".
	Level       string
	ServiceName string
}

// New builds a logger for cfg. It never returns nil.
func New(cfg Config) *zap.Logger {
	level := parseLevel(cfg.Level)

	var (
		l   *zap.Logger
		err error
	)
	if strings.EqualFold(strings.TrimSpace(cfg.Env), "prod") {
		l, err = buildProd(level)
	} else {
		l, err = buildDev(level)
	}
	if err != nil {
		l, _ = zap.NewProduction()
	}
	if cfg.ServiceName != "" {
		l = l.With(zap.String("service", cfg.ServiceName))
	}
	return l
}

func buildDev(level zapcore.Level) (*zap.Logger, error) {
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	zcfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	zcfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	zcfg.DisableStacktrace = true
	zcfg.OutputPaths = []string{"stderr"}
	return zcfg.Build(zap.AddCaller())
}

func buildProd(level zapcore.Level) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	return zcfg.Build(zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

func parseLevel(lvl string) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(lvl)) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Printer is satisfied by the engine, connectivity and background loggers.
// Printf is progress and lands at info; Warnf is for failures.
type Printer interface {
	Printf(format string, args ...any)
	Warnf(format string, args ...any)
}

type sugaredPrinter struct {
	s *zap.SugaredLogger
}

func (p sugaredPrinter) Printf(format string, args ...any) { p.s.Infof(format, args...) }
func (p sugaredPrinter) Warnf(format string, args ...any) { p.s.Warnf(format, args...) }

// Printf adapts l to a Printer under the given component name.
func Printf(l *zap.Logger, component string) Printer {
	if l == nil {
		l = zap.NewNop()
	}
	if component != "" {
		l = l.With(zap.String("component", component))
	}
	return sugaredPrinter{s: l.WithOptions(zap.AddCallerSkip(1)).Sugar()}
}
