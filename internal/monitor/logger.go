package monitor

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/mExOms/venueprobe/internal/config"
)

// Logging owns the process log outputs: a console stream and, optionally,
// an append-only JSON file rotated by lumberjack.
type Logging struct {
	file *lumberjack.Logger
	path string
}

// SetupLogging configures the standard logrus logger. Console output goes to
// console with the configured format; the file always receives JSON.
func SetupLogging(cfg config.LogConfig, console io.Writer) (*Logging, error) {
	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logrus.SetLevel(level)
	logrus.SetOutput(console)
	if cfg.Format == "text" {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	} else {
		logrus.SetFormatter(jsonFormatter())
	}

	l := &Logging{}
	if !cfg.ToFile {
		return l, nil
	}

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	l.path = filepath.Join(cfg.Dir, fmt.Sprintf("venueprobe_%s.log", time.Now().Format("20060102_150405")))
	l.file = &lumberjack.Logger{
		Filename:   l.path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	logrus.AddHook(&fileHook{writer: l.file, formatter: jsonFormatter()})
	return l, nil
}

func jsonFormatter() *logrus.JSONFormatter {
	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339Nano,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "timestamp",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "message",
		},
	}
}

// Path returns the current log file, or "" when file logging is off.
func (l *Logging) Path() string {
	return l.path
}

// Close flushes and closes the log file.
func (l *Logging) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

// fileHook writes every entry to the rotating file regardless of the
// console output.
type fileHook struct {
	mu        sync.Mutex
	writer    io.Writer
	formatter logrus.Formatter
}

func (h *fileHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *fileHook) Fire(entry *logrus.Entry) error {
	data, err := h.formatter.Format(entry)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.writer.Write(data)
	return err
}
