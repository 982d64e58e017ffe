package bootstrap

import (
	"fmt"
	"os"

	"argus/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// InitLogger initializes the zap logger with colored console output. The
// level comes from ARGUS_LOGGING_LEVEL since the logger must exist before the
// full configuration is loaded.
func InitLogger() (*zap.Logger, *zap.SugaredLogger, error) {
	level := zapcore.InfoLevel
	if raw := os.Getenv("ARGUS_LOGGING_LEVEL"); raw != "" {
		if err := level.Set(raw); err != nil {
			return nil, nil, fmt.Errorf("invalid log level %q: %w", raw, err)
		}
	}

	encoderConfig := zap.NewDevelopmentEncoderConfig()
	encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		level,
	)

	logger := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
	return logger, logger.Sugar(), nil
}

// InitConfig loads the application configuration. The config file path comes
// from ARGUS_CONFIG_FILE; unset means defaults plus env vars.
func InitConfig(sugar *zap.SugaredLogger) (*config.Config, error) {
	configFile := os.Getenv("ARGUS_CONFIG_FILE")
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if configFile == "" {
		sugar.Info("No config file set, using defaults and env vars")
	}
	sugar.Infow("Config loaded",
		"sqlite_path", cfg.DataPaths.SQLitePath,
		"api_port", cfg.API.Port,
		"flush_interval", cfg.Buffer.FlushInterval,
		"rule_refresh_interval", cfg.Detect.RuleRefreshInterval)

	return cfg, nil
}
