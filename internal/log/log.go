package log

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	charmlog "github.com/charmbracelet/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// Options configures the process-wide logger.
type Options struct {
	// Level is one of debug, info, warn, error (case-insensitive).
	Level string
	// File, if set, receives a copy of every line with size-based rotation.
	File string
	// JSON switches the line format from logfmt-style text to JSON.
	JSON bool
}

var (
	logger     *charmlog.Logger
	loggerOnce sync.Once
	mu         sync.Mutex
)

// initLogger initializes the global logger to write to stderr with timestamps.
func initLogger() {
	loggerOnce.Do(func() {
		logger = charmlog.NewWithOptions(os.Stderr, charmlog.Options{
			ReportTimestamp: true,
			TimeFormat:      time.RFC3339Nano,
			Level:           charmlog.InfoLevel,
			Prefix:          "taskfeed",
		})
	})
}

// Init applies opts to the global logger. It may be called more than once;
// the last call wins.
func Init(opts Options) {
	initLogger()
	mu.Lock()
	defer mu.Unlock()

	var w io.Writer = os.Stderr
	if opts.File != "" {
		w = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		})
	}
	logger.SetOutput(w)
	if opts.JSON {
		logger.SetFormatter(charmlog.JSONFormatter)
	} else {
		logger.SetFormatter(charmlog.TextFormatter)
	}
	SetLevel(ParseLevel(opts.Level))
}

// ParseLevel maps a config string to a Level, defaulting to INFO.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

func SetLevel(l Level) {
	initLogger()
	switch l {
	case LevelDebug:
		logger.SetLevel(charmlog.DebugLevel)
	case LevelWarn:
		logger.SetLevel(charmlog.WarnLevel)
	case LevelError:
		logger.SetLevel(charmlog.ErrorLevel)
	default:
		logger.SetLevel(charmlog.InfoLevel)
	}
}

// SetOutput redirects the logger, mainly so tests can silence it.
func SetOutput(w io.Writer) {
	initLogger()
	logger.SetOutput(w)
}

func Debug(msg string, kv ...any) {
	initLogger()
	logger.Debug(msg, kv...)
}

func Info(msg string, kv ...any) {
	initLogger()
	logger.Info(msg, kv...)
}

func Warn(msg string, kv ...any) {
	initLogger()
	logger.Warn(msg, kv...)
}

func Error(msg string, err error, kv ...any) {
	initLogger()
	// Prepend error into key-value list.
	extended := append([]any{"err", err}, kv...)
	logger.Error(msg, extended...)
}
