package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents the logging level
type Level int

const (
	// DEBUG level for detailed debugging information
	DEBUG Level = iota
	// INFO level for informational messages
	INFO
	// WARN level for warning messages
	WARN
	// ERROR level for error messages
	ERROR
)

// String returns the string representation of the level
func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel converts a level name (case-insensitive) to a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return DEBUG, nil
	case "INFO", "":
		return INFO, nil
	case "WARN", "WARNING":
		return WARN, nil
	case "ERROR":
		return ERROR, nil
	default:
		return INFO, fmt.Errorf("invalid log level: %s", s)
	}
}

// Logger writes leveled messages to a daily log file, or to a fixed writer.
// A nil *Logger is valid and discards everything.
type Logger struct {
	mu            sync.RWMutex
	level         Level
	file          *os.File
	loggers       map[Level]*log.Logger
	logDir        string
	currentDay    string
	retentionDays int
}

// Config holds logger configuration
type Config struct {
	LogDir        string
	Level         Level
	RetentionDays int
}

// DefaultConfig returns the default logger configuration
func DefaultConfig() Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}

	logDir := filepath.Join(homeDir, "Library", "Application Support", "EzEcho", "logs")

	return Config{
		LogDir:        logDir,
		Level:         INFO,
		RetentionDays: 7,
	}
}

// New creates a file logger that rotates daily
func New(config Config) (*Logger, error) {
	l := &Logger{
		level:         config.Level,
		logDir:        config.LogDir,
		retentionDays: config.RetentionDays,
	}

	if err := l.rotateLog(); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return l, nil
}

// NewWithWriter creates a logger writing to w without rotation.
// Used for headless runs (stderr) and tests.
func NewWithWriter(w io.Writer, level Level) *Logger {
	l := &Logger{level: level}
	l.setOutput(w)
	return l
}

// Discard returns a logger that drops every message
func Discard() *Logger {
	return NewWithWriter(io.Discard, ERROR+1)
}

func (l *Logger) setOutput(w io.Writer) {
	l.loggers = map[Level]*log.Logger{
		DEBUG: log.New(w, "[DEBUG] ", log.LstdFlags),
		INFO:  log.New(w, "[INFO] ", log.LstdFlags),
		WARN:  log.New(w, "[WARN] ", log.LstdFlags),
		ERROR: log.New(w, "[ERROR] ", log.LstdFlags),
	}
}

// rotateLog rotates the log file if necessary
func (l *Logger) rotateLog() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := time.Now().Format("20060102")

	if l.currentDay == today && l.file != nil {
		return nil
	}

	if l.file != nil {
		l.file.Close()
	}

	if err := os.MkdirAll(l.logDir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	filename := fmt.Sprintf("ezecho-%s.log", today)
	filePath := filepath.Join(l.logDir, filename)

	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	l.file = file
	l.currentDay = today
	l.setOutput(file)

	if err := l.cleanOldLogs(); err != nil {
		// mu is held; write through the logger directly
		l.loggers[WARN].Printf("Failed to clean old logs: %v", err)
	}

	return nil
}

// cleanOldLogs deletes log files older than retentionDays
func (l *Logger) cleanOldLogs() error {
	cutoffDate := time.Now().AddDate(0, 0, -l.retentionDays)

	entries, err := os.ReadDir(l.logDir)
	if err != nil {
		return fmt.Errorf("failed to read log directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".log" {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoffDate) {
			// Continue even if we can't delete a file
			_ = os.Remove(filepath.Join(l.logDir, entry.Name()))
		}
	}

	return nil
}

// checkRotation checks if log rotation is needed and performs it.
// Writer-backed loggers never rotate.
func (l *Logger) checkRotation() {
	l.mu.RLock()
	currentDay := l.currentDay
	fileBacked := l.logDir != ""
	l.mu.RUnlock()

	if !fileBacked {
		return
	}

	today := time.Now().Format("20060102")
	if currentDay != today {
		if err := l.rotateLog(); err != nil {
			// Can't log this error since logging is failing
			fmt.Fprintf(os.Stderr, "Failed to rotate log: %v\n", err)
		}
	}
}

func (l *Logger) logf(level Level, format string, v ...interface{}) {
	if l == nil {
		return
	}

	l.mu.RLock()
	enabled := l.level <= level
	l.mu.RUnlock()
	if !enabled {
		return
	}

	l.checkRotation()
	l.mu.RLock()
	out := l.loggers[level]
	l.mu.RUnlock()
	if out != nil {
		out.Printf(format, v...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(format string, v ...interface{}) {
	l.logf(DEBUG, format, v...)
}

// Info logs an informational message
func (l *Logger) Info(format string, v ...interface{}) {
	l.logf(INFO, format, v...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, v ...interface{}) {
	l.logf(WARN, format, v...)
}

// Error logs an error message
func (l *Logger) Error(format string, v ...interface{}) {
	l.logf(ERROR, format, v...)
}

// Close closes the log file
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		err := l.file.Close()
		l.file = nil
		return err
	}
	return nil
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level Level) {
	if l == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.level = level
}

// GetLevel returns the current logging level
func (l *Logger) GetLevel() Level {
	if l == nil {
		return ERROR + 1
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	return l.level
}
