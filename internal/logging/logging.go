// Package logging provides structured JSON logging with levels and a
// queryable in-memory buffer.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// Level represents log severity levels
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

func levelPriority(l Level) int {
	switch l {
	case LevelDebug:
		return 0
	case LevelInfo:
		return 1
	case LevelWarn:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

// ParseLevel converts a configured level name. Unknown names yield an error.
func ParseLevel(s string) (Level, error) {
	switch l := Level(strings.ToLower(strings.TrimSpace(s))); l {
	case LevelDebug, LevelInfo, LevelWarn, LevelError:
		return l, nil
	case "":
		return LevelInfo, nil
	default:
		return "", fmt.Errorf("unknown log level %q", s)
	}
}

// Entry represents a single log entry
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Component string         `json:"component,omitempty"`
	ProbeID   string         `json:"probe_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Logger writes JSON lines and keeps the most recent entries for querying.
type Logger struct {
	mu         sync.RWMutex
	output     io.Writer
	level      Level
	component  string
	entries    []Entry
	maxEntries int
	counts     map[Level]int64
}

// Config holds logger configuration
type Config struct {
	Output     io.Writer // default: os.Stderr
	Level      Level     // default: info
	Component  string
	MaxEntries int // default: 1000
}

// New creates a new logger with the given configuration
func New(cfg Config) *Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.Level == "" {
		cfg.Level = LevelInfo
	}
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 1000
	}
	return &Logger{
		output:     cfg.Output,
		level:      cfg.Level,
		component:  cfg.Component,
		entries:    make([]Entry, 0, cfg.MaxEntries),
		maxEntries: cfg.MaxEntries,
		counts:     make(map[Level]int64),
	}
}

// SetLevel changes the minimum log level
func (l *Logger) SetLevel(level Level) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
}

func (l *Logger) enabled(level Level) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return levelPriority(level) >= levelPriority(l.level)
}

func (l *Logger) write(level Level, probeID, msg string, fields map[string]any) {
	if !l.enabled(level) {
		return
	}

	entry := Entry{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Message:   msg,
		Component: l.component,
		ProbeID:   probeID,
		Fields:    fields,
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.counts[level]++

	if len(l.entries) >= l.maxEntries {
		copy(l.entries, l.entries[1:])
		l.entries = l.entries[:len(l.entries)-1]
	}
	l.entries = append(l.entries, entry)

	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(l.output, `{"level":"error","message":"failed to marshal log entry: %s"}`+"\n", err)
		return
	}
	l.output.Write(append(data, '\n'))
}

func firstFields(fields []map[string]any) map[string]any {
	if len(fields) > 0 {
		return fields[0]
	}
	return nil
}

// Debug logs at debug level
func (l *Logger) Debug(msg string, fields ...map[string]any) {
	l.write(LevelDebug, "", msg, firstFields(fields))
}

// Info logs at info level
func (l *Logger) Info(msg string, fields ...map[string]any) {
	l.write(LevelInfo, "", msg, firstFields(fields))
}

// Warn logs at warn level
func (l *Logger) Warn(msg string, fields ...map[string]any) {
	l.write(LevelWarn, "", msg, firstFields(fields))
}

// Error logs at error level
func (l *Logger) Error(msg string, fields ...map[string]any) {
	l.write(LevelError, "", msg, firstFields(fields))
}

// WithProbe returns a logger that tags every entry with probeID.
func (l *Logger) WithProbe(probeID string) *ProbeLogger {
	return &ProbeLogger{parent: l, probeID: probeID}
}

// ProbeLogger is a logger scoped to a single probe run.
type ProbeLogger struct {
	parent  *Logger
	probeID string
}

func (p *ProbeLogger) Debug(msg string, fields ...map[string]any) {
	p.parent.write(LevelDebug, p.probeID, msg, firstFields(fields))
}

func (p *ProbeLogger) Info(msg string, fields ...map[string]any) {
	p.parent.write(LevelInfo, p.probeID, msg, firstFields(fields))
}

func (p *ProbeLogger) Warn(msg string, fields ...map[string]any) {
	p.parent.write(LevelWarn, p.probeID, msg, firstFields(fields))
}

func (p *ProbeLogger) Error(msg string, fields ...map[string]any) {
	p.parent.write(LevelError, p.probeID, msg, firstFields(fields))
}

// Query parameters for filtering logs
type Query struct {
	Level     Level     // Filter by minimum level
	ProbeID   string    // Filter by probe ID
	Since     time.Time // Filter entries after this time
	Until     time.Time // Filter entries before this time
	Limit     int       // Max entries to return (0 = all)
	Component string    // Filter by component
}

// QueryResult contains filtered log entries and metadata
type QueryResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`  // Total entries matching filter (before limit)
	Counts  Stats   `json:"counts"` // Overall counts by level
}

// Stats contains log statistics
type Stats struct {
	Debug int64 `json:"debug"`
	Info  int64 `json:"info"`
	Warn  int64 `json:"warn"`
	Error int64 `json:"error"`
	Total int64 `json:"total"`
}

func (l *Logger) statsUnlocked() Stats {
	stats := Stats{
		Debug: l.counts[LevelDebug],
		Info:  l.counts[LevelInfo],
		Warn:  l.counts[LevelWarn],
		Error: l.counts[LevelError],
	}
	stats.Total = stats.Debug + stats.Info + stats.Warn + stats.Error
	return stats
}

// Query returns log entries matching the filter criteria
func (l *Logger) Query(q Query) QueryResult {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var filtered []Entry
	for _, e := range l.entries {
		if q.Level != "" && levelPriority(e.Level) < levelPriority(q.Level) {
			continue
		}
		if q.ProbeID != "" && e.ProbeID != q.ProbeID {
			continue
		}
		if !q.Since.IsZero() && e.Timestamp.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && e.Timestamp.After(q.Until) {
			continue
		}
		if q.Component != "" && e.Component != q.Component {
			continue
		}
		filtered = append(filtered, e)
	}

	total := len(filtered)

	// Most recent entries win when limited
	if q.Limit > 0 && len(filtered) > q.Limit {
		filtered = filtered[len(filtered)-q.Limit:]
	}

	return QueryResult{
		Entries: filtered,
		Total:   total,
		Counts:  l.statsUnlocked(),
	}
}

// Stats returns current log statistics without entries
func (l *Logger) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.statsUnlocked()
}

// Clear removes all stored entries and resets counts
func (l *Logger) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = make([]Entry, 0, l.maxEntries)
	l.counts = make(map[Level]int64)
}
