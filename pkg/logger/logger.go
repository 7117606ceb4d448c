package logger

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Глобальный экземпляр логгера
var (
	globalLogger = zap.NewNop()
	mu           sync.RWMutex
	once         sync.Once
)

// Options настройки логгера
type Options struct {
	File   string // читаемый лог; рядом пишется <file>.json
	Level  string
	Stderr bool
}

// Init инициализирует глобальный логгер. stdout занят протоколом инструментов,
// поэтому запись идет только в файлы и, при необходимости, в stderr.
func Init(opts Options) error {
	var initErr error
	once.Do(func() {
		l, err := newLogger(opts)
		if err != nil {
			initErr = err
			return
		}
		Set(l)
	})
	return initErr
}

// Set подменяет глобальный логгер (используется в тестах)
func Set(l *zap.Logger) {
	mu.Lock()
	globalLogger = l
	mu.Unlock()
}

// GetLogger возвращает глобальный экземпляр логгера. До Init это no-op логгер.
func GetLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return globalLogger
}

// With возвращает дочерний логгер с полями
func With(fields ...zap.Field) *zap.Logger {
	return GetLogger().With(fields...)
}

// Вспомогательные функции для удобства использования
func Info(msg string, fields ...zap.Field) {
	GetLogger().Info(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	GetLogger().Error(msg, fields...)
}

func Debug(msg string, fields ...zap.Field) {
	GetLogger().Debug(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	GetLogger().Warn(msg, fields...)
}

func Fatal(msg string, fields ...zap.Field) {
	GetLogger().Fatal(msg, fields...)
}

// Sync сбрасывает буферы
func Sync() {
	_ = GetLogger().Sync()
}

// newLogger создает новый экземпляр логгера
func newLogger(opts Options) (*zap.Logger, error) {
	// Конфигурация энкодера
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("02.01.2006 - 15:04:05.000000000Z07:00")
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	level := parseLevel(opts.Level)

	var cores []zapcore.Core
	if opts.File != "" {
		if dir := filepath.Dir(opts.File); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, err
			}
		}
		readableFile, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		jsonFile, err := os.OpenFile(jsonPath(opts.File), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		cores = append(cores,
			zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.AddSync(readableFile), level),
			zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), zapcore.AddSync(jsonFile), level),
		)
	}
	if opts.Stderr {
		cores = append(cores, zapcore.NewCore(zapcore.NewConsoleEncoder(encoderConfig), zapcore.Lock(os.Stderr), level))
	}
	if len(cores) == 0 {
		return zap.NewNop(), nil
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1)), nil
}

func parseLevel(s string) zapcore.Level {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(strings.ToLower(s))); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

func jsonPath(file string) string {
	ext := filepath.Ext(file)
	return strings.TrimSuffix(file, ext) + ".json" + ext
}
