// Package logger builds the process-wide zap logger.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config selects the encoder, level and optional rotating file sink.
type Config struct {
	Env    string        `yaml:"env"`   // "dev" | "prod"
	Level  string        `yaml:"level"` // debug|info|warn|error
	File   string        `yaml:"file"`  // strftime pattern, e.g. /var/log/basejwt.%Y%m%d.log
	MaxAge time.Duration `yaml:"max_age"`
}

func levelFromString(l string) zapcore.Level {
	switch strings.ToLower(l) {
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

// New returns a logger and a closer for the file sink. The closer is never nil.
func New(cfg Config) (*zap.Logger, func() error, error) {
	lvl := levelFromString(cfg.Level)
	noop := func() error { return nil }

	var enc zapcore.Encoder
	if cfg.Env == "dev" {
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(ec)
	} else {
		ec := zap.NewProductionEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(ec)
	}

	sink := zapcore.AddSync(os.Stdout)
	closer := noop
	if cfg.File != "" {
		w, err := openRotating(cfg.File, cfg.MaxAge)
		if err != nil {
			return nil, noop, err
		}
		sink = zapcore.NewMultiWriteSyncer(sink, zapcore.AddSync(w))
		closer = w.Close
	}

	opts := []zap.Option{zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)}
	if cfg.Env == "dev" {
		opts = append(opts, zap.Development())
	}
	return zap.New(zapcore.NewCore(enc, sink, lvl), opts...), closer, nil
}

func openRotating(pattern string, maxAge time.Duration) (io.WriteCloser, error) {
	if maxAge <= 0 {
		maxAge = 7 * 24 * time.Hour
	}
	return rotatelogs.New(pattern,
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithMaxAge(maxAge),
	)
}
