package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	ansiReset  = "\033[0m"
	ansiRed    = "\033[31m"
	ansiGreen  = "\033[32m"
	ansiYellow = "\033[33m"
	ansiCyan   = "\033[36m"
)

// Level defines the severity threshold of the logger.
type Level int

const (
	LevelSilent Level = iota
	LevelError
	LevelWarn
	LevelInfo
)

// Format defines the output encoding of the logger.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Logger is the interface used for internal messages and SQL tracing.
type Logger interface {
	SetLevel(level Level)
	SetFormat(format Format)
	SetOutput(w io.Writer)
	WithFields(fields map[string]any) Logger
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
	SQL(sql string, duration time.Duration, args ...any)
}

type stdLogger struct {
	level  Level
	format Format
	writer io.Writer
	fields map[string]any
}

// New creates the default logger writing text to stdout at info level.
func New() Logger {
	return &stdLogger{
		level:  LevelInfo,
		format: FormatText,
		writer: os.Stdout,
		fields: map[string]any{},
	}
}

func (l *stdLogger) SetLevel(level Level)  { l.level = level }
func (l *stdLogger) SetFormat(f Format)    { l.format = f }
func (l *stdLogger) SetOutput(w io.Writer) { l.writer = w }

func (l *stdLogger) WithFields(fields map[string]any) Logger {
	merged := make(map[string]any, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &stdLogger{
		level:  l.level,
		format: l.format,
		writer: l.writer,
		fields: merged,
	}
}

func (l *stdLogger) Info(format string, args ...any) {
	if l.level >= LevelInfo {
		l.write("INFO", fmt.Sprintf(format, args...), "")
	}
}

func (l *stdLogger) Warn(format string, args ...any) {
	if l.level >= LevelWarn {
		l.write("WARN", fmt.Sprintf(format, args...), "")
	}
}

func (l *stdLogger) Error(format string, args ...any) {
	if l.level >= LevelError {
		l.write("ERROR", fmt.Sprintf(format, args...), "")
	}
}

func (l *stdLogger) SQL(sql string, duration time.Duration, args ...any) {
	if l.level < LevelInfo {
		return
	}
	if l.format == FormatJSON {
		extra := map[string]any{"sql": sql, "duration": duration.String()}
		if len(args) > 0 {
			extra["args"] = fmt.Sprintf("%v", args)
		}
		l.writeJSON("SQL", "", extra)
		return
	}
	msg := fmt.Sprintf("[%v] %s", duration, sql)
	if len(args) > 0 {
		msg += fmt.Sprintf(" | args: %v", args)
	}
	l.write("SQL", msg, sqlColor(sql))
}

func (l *stdLogger) write(level, msg, color string) {
	if l.format == FormatJSON {
		l.writeJSON(level, msg, nil)
		return
	}
	if color != "" {
		msg = color + msg + ansiReset
	}
	fieldStr := ""
	if len(l.fields) > 0 {
		fieldStr = fmt.Sprintf(" fields: %v", l.fields)
	}
	fmt.Fprintf(l.writer, "[DAO] %s %s: %s%s\n", time.Now().Format("2006-01-02 15:04:05"), level, msg, fieldStr)
}

func (l *stdLogger) writeJSON(level, msg string, extra map[string]any) {
	data := make(map[string]any, len(l.fields)+len(extra)+3)
	for k, v := range l.fields {
		data[k] = v
	}
	for k, v := range extra {
		data[k] = v
	}
	data["time"] = time.Now().Format(time.RFC3339)
	data["level"] = level
	if msg != "" {
		data["msg"] = msg
	}
	json.NewEncoder(l.writer).Encode(data)
}

func sqlColor(sql string) string {
	s := strings.TrimSpace(strings.ToUpper(sql))
	switch {
	case strings.HasPrefix(s, "SELECT"):
		return ansiYellow
	case strings.HasPrefix(s, "INSERT"), strings.HasPrefix(s, "UPDATE"):
		return ansiGreen
	case strings.HasPrefix(s, "DELETE"):
		return ansiRed
	default:
		return ansiCyan
	}
}
