package logger

import (
	"io"
	"os"

	"swap-metrics-indexer/config"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const timeFormat = "[01-02|15:04:05.000]"

var sugar *zap.SugaredLogger

func init() {
	sugar = newSugar(DefaultLoggerConfig())

	config.GlobalConfigCallback.AddCallback(func(cfg config.GlobalConfig) {
		sugar = newSugar(cfg.LoggerConfig())
	})
}

func DefaultLoggerConfig() config.LoggerConfig {
	return config.LoggerConfig{
		Level:   "INFO",
		Console: true,
	}
}

// newSugar tees the console (stderr) and rotating file sinks enabled in cfg.
// Both share one atomic level.
func newSugar(cfg config.LoggerConfig) *zap.SugaredLogger {
	level := zap.NewAtomicLevel()

	var cores []zapcore.Core
	if cfg.Console {
		cores = append(cores, zapcore.NewCore(
			newEncoder(colorLevel),
			stderrSink{os.Stderr},
			level,
		))
	}
	if cfg.File != "" {
		cores = append(cores, zapcore.NewCore(
			newEncoder(zapcore.CapitalLevelEncoder),
			zapcore.AddSync(&lumberjack.Logger{Filename: cfg.File, MaxSize: cfg.MaxFileSize}),
			level,
		))
	}

	sug := zap.New(
		zapcore.NewTee(cores...),
		zap.AddStacktrace(zap.ErrorLevel),
		zap.AddCaller(),
		zap.AddCallerSkip(1),
	).Sugar()

	parsed, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		sug.Errorf("Unknown log level %q, using INFO", cfg.Level)
		parsed = zapcore.InfoLevel
	}
	level.SetLevel(parsed)

	return sug
}

func newEncoder(encodeLevel zapcore.LevelEncoder) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeLevel = encodeLevel
	encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeFormat)
	return zapcore.NewConsoleEncoder(encoderCfg)
}

// The indexer only logs at DEBUG through FATAL.
func colorLevel(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	s := l.CapitalString()
	switch l {
	case zapcore.DebugLevel:
		s = color.MagentaString(s)
	case zapcore.InfoLevel:
		s = color.BlueString(s)
	case zapcore.WarnLevel:
		s = color.YellowString(s)
	default:
		s = color.RedString(s)
	}
	enc.AppendString(s)
}

// stderrSink skips Sync, which fails on terminals and pipes.
type stderrSink struct {
	io.Writer
}

func (stderrSink) Sync() error {
	return nil
}

// SyncFileLogger flushes the file sink. main calls it before exiting.
func SyncFileLogger() {
	if err := sugar.Sync(); err != nil {
		sugar.Infof("Failed to sync logger: %v", err)
	}
}

func Debug(msg string, args ...interface{}) {
	sugar.Debugf(msg, args...)
}

func Info(msg string, args ...interface{}) {
	sugar.Infof(msg, args...)
}

func Warn(msg string, args ...interface{}) {
	sugar.Warnf(msg, args...)
}

func Error(msg string, args ...interface{}) {
	sugar.Errorf(msg, args...)
}
