package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects level, format and destination.
type Config struct {
	Level     string `yaml:"level" env:"LEVEL, overwrite"`
	Format    string `yaml:"format" env:"FORMAT, overwrite"`
	Output    string `yaml:"output" env:"OUTPUT, overwrite"`
	MaxSizeMB int    `yaml:"max_size_mb" env:"MAX_SIZE_MB, overwrite"`
}

// New builds a logger. Output is stdout, stderr or a file path rotated by size.
func New(cfg Config) (*logrus.Logger, error) {
	logger := logrus.New()

	if cfg.Level == "" {
		cfg.Level = "info"
	}
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05.000",
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
			},
		})
	case "", "text":
		logger.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
			FullTimestamp:   true,
		})
	default:
		return nil, fmt.Errorf("invalid log format %q", cfg.Format)
	}

	logger.SetOutput(output(cfg))
	return logger, nil
}

func output(cfg Config) io.Writer {
	switch cfg.Output {
	case "", "stderr":
		return os.Stderr
	case "stdout":
		return os.Stdout
	default:
		size := cfg.MaxSizeMB
		if size <= 0 {
			size = 100
		}
		return &lumberjack.Logger{Filename: cfg.Output, MaxSize: size, MaxBackups: 5}
	}
}

// WithComponent tags entries with the emitting component.
func WithComponent(logger logrus.FieldLogger, component string) *logrus.Entry {
	return logger.WithField("component", component)
}

// Discard returns an entry that drops everything; handy in tests.
func Discard() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}
