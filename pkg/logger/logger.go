package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var log *zap.Logger

func init() {
	if err := InitializeLogger(false); err != nil {
		os.Stderr.WriteString("Failed to initialize logger: " + err.Error() + "\n")
	}
}

// InitializeLogger sets up the global zap logger.
// isDevelopment switches to the console encoder with colored levels.
func InitializeLogger(isDevelopment bool) error {
	var config zap.Config
	if isDevelopment {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		config = zap.NewProductionConfig()
		config.Encoding = "json"
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		config.EncoderConfig.MessageKey = "message"
		config.EncoderConfig.LevelKey = "level"
		config.EncoderConfig.CallerKey = "caller"
		config.EncoderConfig.StacktraceKey = "stacktrace"
	}

	if logLevel := os.Getenv("LOG_LEVEL"); logLevel != "" {
		var level zapcore.Level
		if err := level.Set(logLevel); err == nil {
			config.Level.SetLevel(level)
		} else if log != nil {
			log.Warn("Invalid LOG_LEVEL, keeping default", zap.String("logLevel", logLevel))
		}
	} else if !isDevelopment {
		config.Level.SetLevel(zap.InfoLevel)
	}

	built, err := config.Build()
	if err != nil {
		log = zap.NewNop()
		return err
	}
	log = built

	// Route the std log package through zap so third-party log.Printf calls are structured.
	zap.RedirectStdLog(log)
	return nil
}

// L returns the global logger instance.
func L() *zap.Logger {
	return log
}

// Replace swaps the global logger and returns a func restoring the previous one.
func Replace(l *zap.Logger) func() {
	prev := log
	log = l
	return func() { log = prev }
}

// Sync flushes any buffered log entries.
func Sync() error {
	if log != nil {
		return log.Sync()
	}
	return nil
}
