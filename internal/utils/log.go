// Package utils
package utils

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogConfig controls the process-wide logger.
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`    // megabytes
	MaxBackups int    `yaml:"max_backups"` // rotated files kept
	MaxAge     int    `yaml:"max_age"`     // days
	Compress   bool   `yaml:"compress"`
	JSON       bool   `yaml:"json"`
}

var (
	logger *logrus.Logger
	mu     sync.Mutex
)

// InitLogger configures the shared logger. Output always goes to stdout and,
// when File is set, to a rotating file as well.
func InitLogger(cfg LogConfig) error {
	mu.Lock()
	defer mu.Unlock()

	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if cfg.JSON {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "06-01-02 15:04:05",
		})
	}

	writers := []io.Writer{os.Stdout}
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0755); err != nil {
			return err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	}
	l.SetOutput(io.MultiWriter(writers...))

	logger = l
	return nil
}

// GetLogger returns the shared logger, falling back to a stdout logger at
// info level when InitLogger was never called.
func GetLogger() *logrus.Logger {
	mu.Lock()
	defer mu.Unlock()
	if logger == nil {
		logger = logrus.New()
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// Component returns a log entry tagged with the component name.
func Component(name string) *logrus.Entry {
	return GetLogger().WithField("component", name)
}
