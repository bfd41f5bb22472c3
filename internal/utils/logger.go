package utils

import (
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	globalMu     sync.Mutex
	globalLogger *zap.Logger
)

// NewLogger builds a zap logger from cfg and installs it as the global logger.
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	encoding, encoderCfg := encoderConfig(cfg)

	output := strings.TrimSpace(cfg.Output)
	if output == "" {
		output = "stdout"
	}

	zapCfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(parseLevel(cfg.Level)),
		Development:       cfg.Development,
		Encoding:          encoding,
		EncoderConfig:     encoderCfg,
		OutputPaths:       []string{output},
		ErrorOutputPaths:  []string{"stderr"},
		DisableCaller:     !cfg.EnableCaller,
		DisableStacktrace: !cfg.Development,
		InitialFields: map[string]interface{}{
			"service": cfg.ServiceName,
		},
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.ServiceName) != "" {
		logger = logger.Named(cfg.ServiceName)
	}

	replaceGlobal(logger)

	return logger, nil
}

// NewWriterLogger builds a logger from cfg that writes to w instead of
// cfg.Output. The global logger is left alone.
func NewWriterLogger(cfg LoggingConfig, w io.Writer) *zap.Logger {
	encoding, encoderCfg := encoderConfig(cfg)

	var encoder zapcore.Encoder
	if encoding == "json" {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(w), zap.NewAtomicLevelAt(parseLevel(cfg.Level)))

	opts := []zap.Option{zap.Fields(zap.String("service", cfg.ServiceName))}
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.Development {
		opts = append(opts, zap.Development(), zap.AddStacktrace(zapcore.WarnLevel))
	}

	logger := zap.New(core, opts...)
	if strings.TrimSpace(cfg.ServiceName) != "" {
		logger = logger.Named(cfg.ServiceName)
	}
	return logger
}

// Logger returns the logger installed by the last NewLogger call, or a
// production logger when none was built.
func Logger() *zap.Logger {
	globalMu.Lock()
	defer globalMu.Unlock()

	if globalLogger == nil {
		logger, err := zap.NewProduction()
		if err != nil {
			logger = zap.NewNop()
		}
		zap.ReplaceGlobals(logger)
		globalLogger = logger
	}
	return globalLogger
}

func replaceGlobal(logger *zap.Logger) {
	globalMu.Lock()
	defer globalMu.Unlock()

	zap.ReplaceGlobals(logger)
	globalLogger = logger
}

func parseLevel(raw string) zapcore.Level {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(raw)); err != nil {
		return zapcore.InfoLevel
	}
	return level
}

func encoderConfig(cfg LoggingConfig) (string, zapcore.EncoderConfig) {
	encoding := strings.ToLower(cfg.Encoding)
	if encoding == "" {
		encoding = "console"
	}

	if encoding == "console" {
		encoderCfg := zap.NewDevelopmentEncoderConfig()
		encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		return encoding, encoderCfg
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.TimeKey = "time"
	encoderCfg.MessageKey = "msg"
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	return encoding, encoderCfg
}
