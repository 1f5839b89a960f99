// Package logger создает именованные zap логгеры для сервисов
package logger

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New создает production логгер с именем сервиса
func New(service string) (*zap.SugaredLogger, error) {
	return NewWithLevel(service, "info")
}

// NewWithLevel создает логгер с заданным уровнем (debug, info, warn, error)
func NewWithLevel(service, level string) (*zap.SugaredLogger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true
	cfg.InitialFields = map[string]interface{}{
		"service": service,
	}

	log, err := cfg.Build()
	if err != nil {
		return nil, err
	}

	return log.Named(service).Sugar(), nil
}

// Nop возвращает логгер, который ничего не пишет (для тестов)
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}
