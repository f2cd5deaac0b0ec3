package mzap

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/jstz-dev/jstz-core/pkg/mlog"
)

// InitializeLogger builds the process-wide logger. Configuration mirrors
// the two-mode split the rest of the ambient stack uses: a colored,
// human-readable development encoder by default, and zap's production
// JSON encoder when ENV_NAME=production.
//
//nolint:ireturn
func InitializeLogger() mlog.Logger {
	var zapCfg zap.Config

	if os.Getenv("ENV_NAME") == "production" {
		zapCfg = zap.NewProductionConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	if val, ok := os.LookupEnv("LOG_LEVEL"); ok {
		var lvl zapcore.Level
		if err := lvl.Set(val); err != nil {
			lvl = zapcore.InfoLevel
		}

		zapCfg.Level = zap.NewAtomicLevelAt(lvl)
	}

	logger, err := zapCfg.Build()
	if err != nil {
		panic(err)
	}

	return New(logger.Sugar())
}
