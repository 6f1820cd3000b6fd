package logger

import (
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"codeberg.org/mutker/thermalctl/internal/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	logFileMaxSizeMB  = 5
	logFileMaxBackups = 3
	logFileMaxAgeDays = 28
)

var (
	log     = zerolog.Nop()
	mu      sync.Mutex
	logFile *lumberjack.Logger
)

type LogLevel int8

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// ParseLevel converts a configured level name into a LogLevel.
func ParseLevel(level string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	}

	return InfoLevel, errors.New().WithData(errors.ErrInvalidLogLevel, level)
}

type LogEvent struct {
	*zerolog.Event
}

func (e *LogEvent) Msg(msg string) {
	e.Event.Msg(msg)
}

func (e *LogEvent) Send() {
	e.Event.Send()
}

// Options control where log lines go.
type Options struct {
	Level   LogLevel
	File    string    // rotated, append-only log file; empty disables it
	Service bool      // suppress console timestamps, journald adds its own
	Console io.Writer // defaults to os.Stdout
}

// Init initializes the logger based on the given options. A log file that
// cannot be opened is reported as ErrOpenLogFile; console logging is set up
// regardless.
func Init(opts Options) error {
	mu.Lock()
	defer mu.Unlock()

	console := opts.Console
	if console == nil {
		console = os.Stdout
	}

	output := zerolog.ConsoleWriter{
		Out:        console,
		TimeFormat: time.RFC3339,
	}

	if opts.Service {
		output.TimeFormat = ""
		output.FormatTimestamp = func(_ interface{}) string {
			return ""
		}
	}

	writers := []io.Writer{output}

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	var openErr error
	if opts.File != "" {
		file := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    logFileMaxSizeMB,
			MaxBackups: logFileMaxBackups,
			MaxAge:     logFileMaxAgeDays,
		}
		// lumberjack opens lazily and write errors are dropped by zerolog.
		if _, err := file.Write(nil); err != nil {
			openErr = errors.New().Wrap(errors.ErrOpenLogFile, err).WithData(opts.File)
		} else {
			logFile = file
			writers = append(writers, zerolog.ConsoleWriter{
				Out:        logFile,
				NoColor:    true,
				TimeFormat: time.RFC3339,
			})
		}
	}

	log = zerolog.New(zerolog.MultiLevelWriter(writers...)).With().Timestamp().Logger()

	SetLogLevel(opts.Level)

	return openErr
}

// Close flushes and closes the log file, if one is open.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if logFile == nil {
		return nil
	}

	err := logFile.Close()
	logFile = nil

	return err
}

// SetLogLevel sets the global log level
func SetLogLevel(level LogLevel) {
	zerolog.SetGlobalLevel(zerolog.Level(level))
}

// IsService checks if the application is running as a service
func IsService() bool {
	if _, err := os.Stdin.Stat(); err != nil {
		return true
	}
	if os.Getenv("SERVICE_NAME") != "" || os.Getenv("INVOCATION_ID") != "" {
		return true
	}
	if os.Getppid() == 1 {
		return true
	}

	return unix.Getpgrp() == unix.Getpid()
}

// Debug logs a debug message
func Debug() *LogEvent {
	return &LogEvent{log.Debug()}
}

// Info logs an info message
func Info() *LogEvent {
	return &LogEvent{log.Info()}
}

// Warn logs a warning message
func Warn() *LogEvent {
	return &LogEvent{log.Warn()}
}

// Error logs an error message
func Error() *LogEvent {
	return &LogEvent{log.Error()}
}

// ErrorWithCode logs an error message with a specific error code
func ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{log.Error().
		Str("error_code", string(err.Code())).
		Err(err)}
}

// Fatal logs a fatal message and exits the program
func Fatal() *LogEvent {
	return &LogEvent{log.Fatal()}
}

// FatalWithCode logs a fatal message with a specific error code and exits the program
func FatalWithCode(err errors.Error) *LogEvent {
	return &LogEvent{log.Fatal().
		Str("error_code", string(err.Code())).
		Err(err)}
}

type global struct{}

// Get returns a Logger backed by the package-level logger.
func Get() Logger {
	return global{}
}

func (global) Debug() *LogEvent                         { return Debug() }
func (global) Info() *LogEvent                          { return Info() }
func (global) Warn() *LogEvent                          { return Warn() }
func (global) Error() *LogEvent                         { return Error() }
func (global) ErrorWithCode(err errors.Error) *LogEvent { return ErrorWithCode(err) }

type wrapped struct {
	l zerolog.Logger
}

// New wraps an existing zerolog.Logger, mainly for tests that capture output.
func New(l zerolog.Logger) Logger {
	return &wrapped{l: l}
}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return &wrapped{l: zerolog.Nop()}
}

func (w *wrapped) Debug() *LogEvent { return &LogEvent{w.l.Debug()} }
func (w *wrapped) Info() *LogEvent  { return &LogEvent{w.l.Info()} }
func (w *wrapped) Warn() *LogEvent  { return &LogEvent{w.l.Warn()} }
func (w *wrapped) Error() *LogEvent { return &LogEvent{w.l.Error()} }

func (w *wrapped) ErrorWithCode(err errors.Error) *LogEvent {
	return &LogEvent{w.l.Error().Str("error_code", string(err.Code())).Err(err)}
}
