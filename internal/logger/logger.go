package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Entry is a captured WARN or ERROR record, reported by the agent status endpoint.
type Entry struct {
	Time    time.Time  `json:"time"`
	Level   slog.Level `json:"level"`
	Message string     `json:"message"`
	Error   string     `json:"error,omitempty"`
}

// ringBuffer is a fixed-size circular buffer for log entries.
type ringBuffer struct {
	mu      sync.RWMutex
	entries []Entry
	size    int
	head    int
	count   int

	warnCount  int
	errorCount int
}

func newRingBuffer(size int) *ringBuffer {
	return &ringBuffer{
		entries: make([]Entry, size),
		size:    size,
	}
}

func (rb *ringBuffer) add(entry Entry) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.head] = entry
	rb.head = (rb.head + 1) % rb.size
	if rb.count < rb.size {
		rb.count++
	}

	if entry.Level == slog.LevelWarn {
		rb.warnCount++
	} else if entry.Level >= slog.LevelError {
		rb.errorCount++
	}
}

func (rb *ringBuffer) getAll() []Entry {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]Entry, rb.count)
	for i := 0; i < rb.count; i++ {
		idx := (rb.head - rb.count + i + rb.size) % rb.size
		result[i] = rb.entries[idx]
	}
	return result
}

func (rb *ringBuffer) getCounts() (warn, err int) {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.warnCount, rb.errorCount
}

// problemHandler wraps another handler and keeps recent WARN/ERROR records.
type problemHandler struct {
	inner  slog.Handler
	buffer *ringBuffer
}

func (h *problemHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *problemHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		e := Entry{Time: r.Time, Level: r.Level, Message: r.Message}
		r.Attrs(func(a slog.Attr) bool {
			if a.Key == "error" {
				e.Error = a.Value.String()
				return false
			}
			return true
		})
		h.buffer.add(e)
	}
	return h.inner.Handle(ctx, r)
}

func (h *problemHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &problemHandler{inner: h.inner.WithAttrs(attrs), buffer: h.buffer}
}

func (h *problemHandler) WithGroup(name string) slog.Handler {
	return &problemHandler{inner: h.inner.WithGroup(name), buffer: h.buffer}
}

var (
	// Log is the global structured logger
	Log *slog.Logger
	// logWriter is the rotating log writer
	logWriter *lumberjack.Logger
	// LogPath is the path to the current log file, "-" for stderr
	LogPath string
	// problems holds recent WARN/ERROR entries
	problems = newRingBuffer(100)
)

// ParseLevel maps a config level name to a slog level. Unknown names map to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

// InitLogger initializes the global logger. If logPath is empty it defaults to
// ~/.config/rowpane/<name>.log; "-" writes to stderr.
func InitLogger(level slog.Level, logPath, name string) {
	if logPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			homeDir = os.TempDir()
		}
		logDir := filepath.Join(homeDir, ".config", "rowpane")
		_ = os.MkdirAll(logDir, 0755)
		logPath = filepath.Join(logDir, name+".log")
	}
	LogPath = logPath

	var writer io.Writer
	if logPath == "-" {
		writer = os.Stderr
	} else {
		logWriter = &lumberjack.Logger{
			Filename:   logPath,
			MaxSize:    10, // MB
			MaxBackups: 3,
			MaxAge:     7, // days
			Compress:   true,
		}
		writer = logWriter
	}

	handler := &problemHandler{
		inner:  slog.NewJSONHandler(writer, &slog.HandlerOptions{Level: level}),
		buffer: problems,
	}
	Log = slog.New(handler)
	slog.SetDefault(Log)
}

// Close closes the log file
func Close() {
	if logWriter != nil {
		logWriter.Close()
	}
}

func getLogger() *slog.Logger {
	if Log != nil {
		return Log
	}
	return slog.Default()
}

// Debug logs a debug message
func Debug(msg string, args ...any) {
	getLogger().Debug(msg, args...)
}

// Info logs an info message
func Info(msg string, args ...any) {
	getLogger().Info(msg, args...)
}

// Warn logs a warning message
func Warn(msg string, args ...any) {
	getLogger().Warn(msg, args...)
}

// Error logs an error message
func Error(msg string, args ...any) {
	getLogger().Error(msg, args...)
}

// With creates a new logger with additional attributes
func With(args ...any) *slog.Logger {
	return getLogger().With(args...)
}

// Logger returns the global logger for injection into components.
func Logger() *slog.Logger {
	return getLogger()
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Discard()
	}
	return l
}

// Counts returns the warning and error counts since start.
func Counts() (warn, err int) {
	return problems.getCounts()
}

// Recent returns the captured WARN/ERROR entries, oldest first.
func Recent() []Entry {
	return problems.getAll()
}

// Format renders an entry as a single line.
func (e Entry) Format() string {
	line := fmt.Sprintf("%s %-5s %s", e.Time.Format("15:04:05"), e.Level.String(), e.Message)
	if e.Error != "" {
		line += ": " + e.Error
	}
	return line
}
