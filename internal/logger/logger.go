package logger

import (
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls log level and optional rotated file output.
type Config struct {
	Level      string `yaml:"level" default:"info"`
	Format     string `yaml:"format" default:"text" validate:"oneof=text json"`
	OutputFile string `yaml:"output_file"`
	MaxSize    int    `yaml:"max_size" default:"50"`
	MaxBackups int    `yaml:"max_backups" default:"5"`
	MaxAge     int    `yaml:"max_age" default:"30"`
	Compress   bool   `yaml:"compress"`
}

var (
	mu  sync.RWMutex
	log = logrus.New()
)

// Init configures the process logger. It is safe to call more than once.
func Init(cfg Config) error {
	l := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)

	if cfg.Format == "json" {
		l.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	} else {
		l.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "06-01-02 15:04:05",
		})
	}

	writers := []io.Writer{os.Stdout}
	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0o755); err != nil {
			return err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	}
	l.SetOutput(io.MultiWriter(writers...))

	mu.Lock()
	log = l
	mu.Unlock()
	return nil
}

// L returns the process logger.
func L() *logrus.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// WithComponent returns an entry tagged with the component name.
func WithComponent(component string) *logrus.Entry {
	return L().WithField("component", component)
}
