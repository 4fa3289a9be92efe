package observability

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/xkilldash9x/locus/internal/config"
)

var (
	initMu sync.Mutex
	global atomic.Pointer[zap.Logger]
)

const (
	timeLayout = "2006-01-02T15:04:05.000Z07:00"
	ansiReset  = "\x1b[0m"
)

var ansiCodes = map[string]string{
	"black":   "30",
	"red":     "31",
	"green":   "32",
	"yellow":  "33",
	"blue":    "34",
	"magenta": "35",
	"cyan":    "36",
	"white":   "37",
}

// Initialize installs the process logger. Console output goes to console in
// the configured format; LogFile, when set, adds a rotating JSON sink. Later
// calls are ignored until ResetForTest.
func Initialize(cfg config.LoggerConfig, console zapcore.WriteSyncer) {
	initMu.Lock()
	defer initMu.Unlock()
	if global.Load() != nil {
		return
	}

	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level.SetLevel(zap.InfoLevel)
	}

	var enc zapcore.Encoder
	if cfg.Format == "console" {
		enc = consoleEncoder(levelColors(cfg.Colors))
	} else {
		enc = jsonEncoder()
	}
	cores := []zapcore.Core{zapcore.NewCore(enc, console, level)}
	if cfg.LogFile != "" {
		cores = append(cores, zapcore.NewCore(jsonEncoder(), rotatingFile(cfg), level))
	}

	opts := []zap.Option{zap.AddStacktrace(zap.ErrorLevel)}
	if cfg.AddSource {
		opts = append(opts, zap.AddCaller())
	}
	logger := zap.New(zapcore.NewTee(cores...), opts...).Named(cfg.ServiceName)
	global.Store(logger)

	zap.ReplaceGlobals(logger)
	zap.RedirectStdLog(logger)
}

// InitializeLogger writes console output to a locked stdout.
func InitializeLogger(cfg config.LoggerConfig) {
	Initialize(cfg, zapcore.Lock(os.Stdout))
}

// ResetForTest forgets the process logger.
func ResetForTest() {
	initMu.Lock()
	defer initMu.Unlock()
	global.Store(nil)
}

func rotatingFile(cfg config.LoggerConfig) zapcore.WriteSyncer {
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	})
}

// levelColors resolves color names to escape sequences. Unknown names, and
// every name when NO_COLOR is set, leave the level uncolored.
func levelColors(c config.ColorConfig) map[zapcore.Level]string {
	if _, ok := os.LookupEnv("NO_COLOR"); ok {
		return nil
	}
	names := map[zapcore.Level]string{
		zapcore.DebugLevel:  c.Debug,
		zapcore.InfoLevel:   c.Info,
		zapcore.WarnLevel:   c.Warn,
		zapcore.ErrorLevel:  c.Error,
		zapcore.DPanicLevel: c.Fatal,
		zapcore.PanicLevel:  c.Fatal,
		zapcore.FatalLevel:  c.Fatal,
	}
	out := make(map[zapcore.Level]string, len(names))
	for lvl, name := range names {
		if code, ok := ansiCodes[strings.ToLower(name)]; ok {
			out[lvl] = "\x1b[" + code + "m"
		}
	}
	return out
}

// consoleEncoder renders one line per entry with the component name
// dot-suffixed, as in "locus.discovery.".
func consoleEncoder(colors map[zapcore.Level]string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	ec.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		name := l.CapitalString()
		if color, ok := colors[l]; ok {
			name = color + name + ansiReset
		}
		enc.AppendString(name)
	}
	ec.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(name + ".")
	}
	return zapcore.NewConsoleEncoder(ec)
}

func jsonEncoder() zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return zapcore.NewJSONEncoder(ec)
}

// GetLogger returns the process logger. Before Initialize it hands out a
// development logger that is not remembered.
func GetLogger() *zap.Logger {
	if logger := global.Load(); logger != nil {
		return logger
	}
	l, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	l.Warn("Global logger requested before initialization; using fallback.")
	return l.Named("fallback")
}

// Sync flushes buffered entries.
func Sync() {
	logger := global.Load()
	if logger == nil {
		return
	}
	if err := logger.Sync(); err != nil && !ignorableSyncError(err) {
		fmt.Fprintln(os.Stderr, "Error: failed to sync logger:", err)
	}
}

// ignorableSyncError matches the errors fsync gives for terminals and pipes.
func ignorableSyncError(err error) bool {
	msg := err.Error()
	for _, s := range []string{"sync /dev/stdout", "sync /dev/stderr", "invalid argument", "inappropriate ioctl", "operation not supported"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// OrNop returns logger, or a no-op logger when it is nil.
func OrNop(logger *zap.Logger) *zap.Logger {
	if logger == nil {
		return zap.NewNop()
	}
	return logger
}
