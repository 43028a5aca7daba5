package log

// Run logging for ernie-graphs
// File core gets everything at the configured level (plain console encoding, rotated by lumberjack)
// Console core only prints SUCCESS (info) and ERROR lines, coloured, for the operator running the job

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// MaxLogFileSizeMB is the size at which the log file is rotated
	MaxLogFileSizeMB = 50
	maxLogBackups    = 3
	logFileName      = "ernie-graphs.log"
)

// Logger writes to the log file only. Both loggers are no-ops until Init is called.
var Logger = zap.NewNop()
var consoleLogger = zap.NewNop()

var initMu sync.Mutex
var fileSink *lumberjack.Logger

var bufferPool = buffer.NewPool()

// Options controls where and how much is logged
type Options struct {
	Dir     string
	Level   string
	Console bool
}

// Init builds the file and console loggers. Safe to call more than once; the last call wins.
func Init(opts Options) error {
	initMu.Lock()
	defer initMu.Unlock()

	level, err := zapcore.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level)))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", opts.Level, err)
	}

	dir := opts.Dir
	if dir == "" {
		dir = "logs"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create logs directory: %w", err)
	}

	if fileSink != nil {
		fileSink.Close()
	}
	fileSink = &lumberjack.Logger{
		Filename:   filepath.Join(dir, logFileName),
		MaxSize:    MaxLogFileSizeMB,
		MaxBackups: maxLogBackups,
	}

	fileConfig := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05"),
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}
	fileCore := zapcore.NewCore(
		&fileEncoder{Encoder: zapcore.NewConsoleEncoder(fileConfig)},
		zapcore.AddSync(fileSink),
		level,
	)
	Logger = zap.New(fileCore)

	if !opts.Console {
		consoleLogger = zap.NewNop()
		return nil
	}

	consoleConfig := zap.NewDevelopmentConfig()
	consoleConfig.EncoderConfig.EncodeLevel = consoleLevelEncoder
	consoleConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	consoleConfig.EncoderConfig.EncodeCaller = nil
	consoleConfig.Development = false
	consoleConfig.DisableStacktrace = true
	consoleConfig.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	consoleLogger, err = consoleConfig.Build()
	if err != nil {
		return fmt.Errorf("failed to build console logger: %w", err)
	}
	return nil
}

// Sync flushes both loggers. Errors from syncing stderr are ignored.
func Sync() {
	_ = Logger.Sync()
	_ = consoleLogger.Sync()
}

// NewRunID returns the identifier attached to every line of one generate run
func NewRunID() string {
	return uuid.NewString()
}

// runField is appended to every line once SetRun is called. The file encoder
// ignores encoder context, so Logger.With cannot be used for this.
var runField *zap.Field

// SetRun tags all following log lines with the run id
func SetRun(runID string) {
	initMu.Lock()
	defer initMu.Unlock()
	f := zap.String("run_id", runID)
	runField = &f
}

func withRun(fields []zap.Field) []zap.Field {
	if runField == nil {
		return fields
	}
	return append([]zap.Field{*runField}, fields...)
}

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorWhite  = "\033[37m"
)

func consoleLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch level {
	case zapcore.DebugLevel:
		enc.AppendString(colorCyan + "DEBUG" + colorReset)
	case zapcore.InfoLevel:
		enc.AppendString(colorGreen + "SUCCESS" + colorReset)
	case zapcore.WarnLevel:
		enc.AppendString(colorYellow + "WARN" + colorReset)
	case zapcore.ErrorLevel, zapcore.FatalLevel, zapcore.PanicLevel:
		enc.AppendString(colorRed + level.CapitalString() + colorReset)
	default:
		enc.AppendString(colorWhite + level.String() + colorReset)
	}
}

// LogInfo goes to the file only
func LogInfo(message string, fields ...zap.Field) {
	Logger.Info(message, withRun(fields)...)
}

// LogSuccess goes to the file and the console
func LogSuccess(message string, fields ...zap.Field) {
	Logger.Info(message, withRun(fields)...)
	if ms := extractDuration(fields); ms > 0 {
		consoleLogger.Info(fmt.Sprintf("✓ %s (%dms)", message, ms))
	} else {
		consoleLogger.Info("✓ " + message)
	}
}

// LogError goes to the file and the console
func LogError(message string, fields ...zap.Field) {
	Logger.Error(message, withRun(fields)...)
	if ms := extractDuration(fields); ms > 0 {
		consoleLogger.Error(fmt.Sprintf("✗ %s (%dms)", message, ms))
	} else {
		consoleLogger.Error("✗ " + message)
	}
}

func LogWarn(message string, fields ...zap.Field) {
	Logger.Warn(message, withRun(fields)...)
}

func LogDebug(message string, fields ...zap.Field) {
	Logger.Debug(message, withRun(fields)...)
}

func extractDuration(fields []zap.Field) int64 {
	for _, field := range fields {
		if field.Key == "duration_ms" && field.Type == zapcore.Int64Type {
			return field.Integer
		}
	}
	return 0
}

// fileEncoder writes "<time>     <LEVEL> <msg>\t{json fields}" lines
type fileEncoder struct {
	zapcore.Encoder
}

func (e *fileEncoder) Clone() zapcore.Encoder {
	return &fileEncoder{Encoder: e.Encoder.Clone()}
}

func (e *fileEncoder) EncodeEntry(entry zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	buf := bufferPool.Get()

	buf.AppendString(entry.Time.Format("2006-01-02 15:04:05"))
	buf.AppendString("     ")
	buf.AppendString(entry.Level.CapitalString())
	buf.AppendString(" ")
	buf.AppendString(entry.Message)

	if len(fields) > 0 {
		enc := zapcore.NewMapObjectEncoder()
		for _, field := range fields {
			field.AddTo(enc)
		}
		if jsonData, err := json.Marshal(enc.Fields); err == nil {
			buf.AppendString("\t")
			buf.AppendString(string(jsonData))
		}
	}

	buf.AppendString("\n")
	return buf, nil
}
