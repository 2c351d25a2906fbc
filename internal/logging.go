package internal

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/lychee-technology/bulkingest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the process logger. Output always goes to stderr so that
// stdout stays reserved for the report; a rotating file is added when
// cfg.FilePath is set. The returned closer must be called on exit.
func NewLogger(cfg bulkingest.LoggingConfig, verbose bool) (*zap.Logger, io.Closer, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}
	if verbose {
		level = zapcore.DebugLevel
	}

	var encoder zapcore.Encoder
	if strings.EqualFold(cfg.Format, "json") {
		encCfg := zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	}

	sink, closer := buildLogSink(cfg)
	core := zapcore.NewCore(encoder, sink, zap.NewAtomicLevelAt(level))
	return zap.New(core, zap.AddCaller()), closer, nil
}

func buildLogSink(cfg bulkingest.LoggingConfig) (zapcore.WriteSyncer, io.Closer) {
	stderr := zapcore.Lock(os.Stderr)
	if cfg.FilePath == "" {
		return stderr, nopCloser{}
	}

	maxSize := cfg.MaxSizeMB
	if maxSize <= 0 {
		maxSize = 100
	}
	maxBackups := cfg.MaxBackups
	if maxBackups <= 0 {
		maxBackups = 3
	}
	maxAge := cfg.MaxAgeDays
	if maxAge <= 0 {
		maxAge = 28
	}

	lj := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    maxSize,
		MaxBackups: maxBackups,
		MaxAge:     maxAge,
		Compress:   cfg.Compress,
	}
	return zapcore.NewMultiWriteSyncer(stderr, zapcore.AddSync(lj)), lj
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
