package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogFormat represents the log output format
type LogFormat string

const (
	LogFormatJSON    LogFormat = "json"
	LogFormatConsole LogFormat = "console"
)

// LogLevel represents logging severity level
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LogConfig holds logging configuration
type LogConfig struct {
	Level              LogLevel  `json:"level"`
	Format             LogFormat `json:"format"`
	OutputPaths        []string  `json:"output_paths"`
	EnableCaller       bool      `json:"enable_caller"`
	EnableStack        bool      `json:"enable_stack"`
	SamplingInitial    int       `json:"sampling_initial"`
	SamplingThereafter int       `json:"sampling_thereafter"`
}

// Logger wraps zap.Logger with the configuration it was built from.
type Logger struct {
	*zap.Logger
	config LogConfig
}

// NewLogger creates a new logger with the given configuration
func NewLogger(cfg LogConfig) (*Logger, error) {
	if cfg.Level == "" {
		cfg.Level = LogLevelInfo
	}
	if cfg.Format == "" {
		cfg.Format = LogFormatJSON
	}
	if len(cfg.OutputPaths) == 0 {
		cfg.OutputPaths = []string{"stdout"}
	}

	var level zapcore.Level
	switch cfg.Level {
	case LogLevelDebug:
		level = zapcore.DebugLevel
	case LogLevelInfo:
		level = zapcore.InfoLevel
	case LogLevelWarn:
		level = zapcore.WarnLevel
	case LogLevelError:
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var encoderConfig zapcore.EncoderConfig
	if cfg.Format == LogFormatJSON {
		encoderConfig = zap.NewProductionEncoderConfig()
		encoderConfig.TimeKey = "timestamp"
		encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapConfig := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Format == LogFormatConsole,
		Encoding:          string(cfg.Format),
		EncoderConfig:     encoderConfig,
		OutputPaths:       cfg.OutputPaths,
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !cfg.EnableStack,
		DisableCaller:     !cfg.EnableCaller,
	}

	if cfg.SamplingInitial > 0 {
		zapConfig.Sampling = &zap.SamplingConfig{Initial: cfg.SamplingInitial, Thereafter: cfg.SamplingThereafter}
	}

	zapLogger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return &Logger{Logger: zapLogger, config: cfg}, nil
}

// Close flushes any buffered log entries.
func (l *Logger) Close() error {
	return l.Logger.Sync()
}
