package logger

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

type LogLevel int

const (
	DEBUG LogLevel = iota
	INFO
	WARN
	ERROR
)

type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	File      string `json:"file,omitempty"`
	Line      int    `json:"line,omitempty"`
}

// Logger writes colored lines to the terminal and, optionally, JSON lines to a file.
// Debug output is dropped unless the logger was created with debug enabled.
type Logger struct {
	mu           sync.Mutex
	out          io.Writer
	logFile      *os.File
	debug        bool
	colorEnabled bool
}

// Options configures a Logger.
type Options struct {
	Debug   bool
	LogFile string
	Output  io.Writer
	NoColor bool
}

func New(opts Options) (*Logger, error) {
	out := opts.Output
	if out == nil {
		out = os.Stdout
	}

	l := &Logger{
		out:          out,
		debug:        opts.Debug,
		colorEnabled: !opts.NoColor,
	}

	if opts.LogFile != "" {
		if dir := filepath.Dir(opts.LogFile); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		l.logFile = f
	}

	return l, nil
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{out: io.Discard}
}

func (l *Logger) DebugEnabled() bool {
	return l != nil && l.debug
}

func (l *Logger) log(level LogLevel, category, message string) {
	if l == nil {
		return
	}

	_, file, line, ok := runtime.Caller(2)
	if ok {
		file = filepath.Base(file)
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Level:     levelToString(level),
		Category:  strings.ToUpper(category),
		Message:   message,
		File:      file,
		Line:      line,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	fmt.Fprint(l.out, l.formatTerminalOutput(entry))

	if l.logFile != nil {
		jsonBytes, _ := json.Marshal(entry)
		l.logFile.Write(append(jsonBytes, '\n'))
	}
}

func (l *Logger) paint(attrs ...color.Attribute) *color.Color {
	c := color.New(attrs...)
	if !l.colorEnabled {
		c.DisableColor()
	}
	return c
}

func (l *Logger) formatTerminalOutput(entry LogEntry) string {
	timestamp := entry.Timestamp[11:19]

	var levelColor *color.Color
	switch entry.Level {
	case "DEBUG":
		levelColor = l.paint(color.FgCyan)
	case "INFO":
		levelColor = l.paint(color.FgGreen)
	case "WARN":
		levelColor = l.paint(color.FgYellow)
	case "ERROR":
		levelColor = l.paint(color.FgRed, color.Bold)
	default:
		levelColor = l.paint(color.FgWhite)
	}

	timeStr := l.paint(color.FgBlue).Sprint(timestamp)
	levelStr := levelColor.Sprintf("%-5s", entry.Level)
	categoryStr := levelColor.Sprintf("[%-10s]", entry.Category)

	if entry.File != "" && entry.Line > 0 {
		fileInfo := l.paint(color.FgMagenta).Sprintf(" (%s:%d)", entry.File, entry.Line)
		return fmt.Sprintf("%s %s %s %s%s\n", timeStr, levelStr, categoryStr, entry.Message, fileInfo)
	}
	return fmt.Sprintf("%s %s %s %s\n", timeStr, levelStr, categoryStr, entry.Message)
}

func levelToString(level LogLevel) string {
	switch level {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (l *Logger) Debug(category, message string) {
	if !l.DebugEnabled() {
		return
	}
	l.log(DEBUG, category, message)
}

func (l *Logger) Info(category, message string) {
	l.log(INFO, category, message)
}

func (l *Logger) Warn(category, message string) {
	l.log(WARN, category, message)
}

func (l *Logger) Error(category, message string) {
	l.log(ERROR, category, message)
}

func (l *Logger) LogAPI(method, path string, status int, duration time.Duration) {
	l.Info("API", fmt.Sprintf("%s %s - %d (%s)", method, path, status, duration))
}

func (l *Logger) LogDatabase(operation, table, message string) {
	l.Info("DATABASE", fmt.Sprintf("[%s] %s - %s", operation, table, message))
}

func (l *Logger) LogSecurity(event, message string) {
	l.Warn("SECURITY", fmt.Sprintf("[%s] %s", event, message))
}

func (l *Logger) Close() {
	if l == nil || l.logFile == nil {
		return
	}
	l.logFile.Close()
	l.logFile = nil
}
