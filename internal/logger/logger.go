package logger

import (
	"context"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Additional-Code/nightowl/internal/config"
)

// Module exposes a configured Zap logger to the Fx container.
var Module = fx.Provide(New)

// Result carries the logger and the level switch that controls it at runtime.
type Result struct {
	fx.Out

	Logger *zap.Logger
	Level  zap.AtomicLevel
}

// New builds a production Zap logger; callers own the cleanup via Fx lifecycle.
// The logger also becomes the zap global and the sink for the standard
// library logger until the application stops.
func New(lc fx.Lifecycle, cfg config.Config) (Result, error) {
	observability := cfg.Observability
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(observability.LogLevel)); err != nil {
		level = zapcore.InfoLevel
	}
	atom := zap.NewAtomicLevelAt(level)

	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = atom
	zapCfg.Encoding = observability.LogEncoding
	zapCfg.EncoderConfig.TimeKey = "ts"
	zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339Nano)
	zapCfg.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	zapCfg.EncoderConfig.EncodeLevel = zapcore.LowercaseLevelEncoder

	if observability.LogEncoding == "console" {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.Level = atom
		zapCfg.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return Result{}, err
	}

	logger = logger.With(
		zap.String("service", observability.ServiceName),
		zap.String("environment", observability.Environment),
	)

	var restoreGlobals, restoreStdLog func()
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			restoreGlobals = zap.ReplaceGlobals(logger)
			restoreStdLog = zap.RedirectStdLog(logger.Named("stdlog"))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if restoreStdLog != nil {
				restoreStdLog()
			}
			if restoreGlobals != nil {
				restoreGlobals()
			}
			// Sync on a terminal's stderr reports EINVAL/ENOTTY; not actionable.
			_ = logger.Sync()
			return nil
		},
	})

	return Result{Logger: logger, Level: atom}, nil
}
