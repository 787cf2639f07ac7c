package logger

import (
	"regexp"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	emailRegex  = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
	tokenRegex  = regexp.MustCompile(`eyJ[^\s]+`)
	userIDRegex = regexp.MustCompile(`\b(user_id|account_id)\s*=\s*[0-9a-fA-F-]+\b`)
)

// level is shared by every Logger so SetLevel applies process-wide.
var level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

var base atomic.Pointer[zap.Logger]

// Logger is a module-tagged structured logger.
type Logger struct{}

// New creates a new Logger
func New() *Logger {
	return &Logger{}
}

// SetLevel changes the minimum level of every Logger. Unknown names keep INFO.
func SetLevel(name string) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(name))); err != nil {
		lvl = zapcore.InfoLevel
	}
	level.SetLevel(lvl)
}

// Sync flushes buffered entries.
func Sync() {
	_ = zapLogger().Sync()
}

func zapLogger() *zap.Logger {
	if l := base.Load(); l != nil {
		return l
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = level
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	l, err := cfg.Build()
	if err != nil {
		l = zap.NewNop()
	}
	if !base.CompareAndSwap(nil, l) {
		return base.Load()
	}
	return l
}

// Anonymize replaces sensitive information in logs (emails, tokens, IDs)
func Anonymize(s string) string {
	s = emailRegex.ReplaceAllString(s, "[REDACTED_EMAIL]")
	s = tokenRegex.ReplaceAllString(s, "[REDACTED_TOKEN]")
	s = userIDRegex.ReplaceAllString(s, "$1=[USER_ID]")
	return s
}

func (l *Logger) log(module string, lvl zapcore.Level, msg string, err error) {
	fields := []zap.Field{zap.String("module", module)}
	if err != nil {
		fields = append(fields, zap.String("error", Anonymize(err.Error())))
	}
	if ce := zapLogger().Check(lvl, Anonymize(msg)); ce != nil {
		ce.Write(fields...)
	}
}

// --- Convenient methods ---
func (l *Logger) Info(module, msg string) {
	l.log(module, zapcore.InfoLevel, msg, nil)
}

func (l *Logger) Debug(module, msg string) {
	l.log(module, zapcore.DebugLevel, msg, nil)
}

func (l *Logger) Error(module, msg string, err error) {
	l.log(module, zapcore.ErrorLevel, msg, err)
}
