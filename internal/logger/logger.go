package logger

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultService names the process in every entry when Config.Service is empty.
const DefaultService = "adventure-bot"

// Config controls the process logger.
type Config struct {
	Level      string // debug, info, warn, error
	Encoding   string // json or console
	OutputPath string // empty means stdout
	Service    string
	Env        string

	// Development switches to console output with callers and warn-level stacktraces.
	Development bool

	// SampleInitial and SampleThereafter throttle repeated entries per second:
	// the first SampleInitial of a message are kept, then every SampleThereafter-th.
	// Zero SampleInitial disables sampling. Development loggers never sample.
	SampleInitial    int
	SampleThereafter int
}

// New builds a zap.Logger from cfg. Unknown levels fall back to info and unknown
// encodings to json.
func New(cfg Config) (*zap.Logger, error) {
	level := zap.NewAtomicLevel()
	logLevel := strings.ToLower(cfg.Level)
	if logLevel == "" {
		logLevel = "info"
	}
	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		// The logger does not exist yet.
		fmt.Fprintf(os.Stderr, "Invalid log level '%s', using 'info'. Error: %v\n", cfg.Level, err)
		level.SetLevel(zap.InfoLevel)
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	encoding := strings.ToLower(cfg.Encoding)
	if encoding != "console" && encoding != "json" {
		encoding = "json"
	}
	if cfg.Development {
		encoding = "console"
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	outputPath := cfg.OutputPath
	if outputPath == "" {
		outputPath = "stdout"
	}

	service := cfg.Service
	if service == "" {
		service = DefaultService
	}
	fields := map[string]interface{}{"service": service}
	if cfg.Env != "" {
		fields["env"] = cfg.Env
	}

	zapConfig := zap.Config{
		Level:             level,
		Development:       cfg.Development,
		DisableCaller:     !cfg.Development,
		DisableStacktrace: !cfg.Development,
		Encoding:          encoding,
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{outputPath},
		ErrorOutputPaths:  []string{"stderr"},
		InitialFields:     fields,
	}
	if !cfg.Development && cfg.SampleInitial > 0 {
		zapConfig.Sampling = &zap.SamplingConfig{
			Initial:    cfg.SampleInitial,
			Thereafter: cfg.SampleThereafter,
		}
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return logger, nil
}
