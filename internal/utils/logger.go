package utils

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

type Logger struct {
	level      LogLevel
	zl         zerolog.Logger
	RawBodyLog bool
}

// NewLogger builds a console logger on stdout. Use NewLoggerWithFormat for JSON output.
func NewLogger(level string, rawBodyLog bool) *Logger {
	return NewLoggerWithFormat(level, "console", rawBodyLog)
}

func NewLoggerWithFormat(level, format string, rawBodyLog bool) *Logger {
	var w io.Writer = os.Stdout
	if strings.ToLower(format) != "json" {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return NewLoggerTo(w, level, rawBodyLog)
}

// NewLoggerTo writes structured JSON lines to w.
func NewLoggerTo(w io.Writer, level string, rawBodyLog bool) *Logger {
	logLevel := parseLogLevel(level)

	return &Logger{
		level:      logLevel,
		zl:         zerolog.New(w).Level(toZerolog(logLevel)).With().Timestamp().Logger(),
		RawBodyLog: rawBodyLog,
	}
}

func NewDiscardLogger() *Logger {
	return &Logger{
		level: LevelInfo,
		zl:    zerolog.Nop(),
	}
}

func parseLogLevel(level string) LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

func toZerolog(level LogLevel) zerolog.Level {
	switch level {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Named returns a child logger tagged with a component field.
func (l *Logger) Named(component string) *Logger {
	if component == "" {
		return l
	}
	return &Logger{
		level:      l.level,
		zl:         l.zl.With().Str("component", component).Logger(),
		RawBodyLog: l.RawBodyLog,
	}
}

func (l *Logger) Info(reqID *string, format string, v ...any) {
	l.emit(l.zl.Info(), reqID, format, v...)
}

func (l *Logger) Warn(reqID *string, format string, v ...any) {
	l.emit(l.zl.Warn(), reqID, format, v...)
}

func (l *Logger) Error(reqID *string, format string, v ...any) {
	l.emit(l.zl.Error(), reqID, format, v...)
}

func (l *Logger) Debug(reqID *string, format string, v ...any) {
	l.emit(l.zl.Debug(), reqID, format, v...)
}

func (l *Logger) Fatal(v ...any) {
	l.zl.Fatal().Msg(fmt.Sprint(v...))
}

func (l *Logger) emit(ev *zerolog.Event, reqID *string, format string, v ...any) {
	if ev == nil {
		return
	}
	if reqID != nil && *reqID != "" {
		ev = ev.Str("request_id", *reqID)
	}
	ev.Msgf(format, v...)
}
