package debuglog

import (
	"fmt"
	"path/filepath"
	"sort"
)

// FieldLogger is the subset of the logging API used to report tool calls.
type FieldLogger interface {
	Debug(msg string, fields ...map[string]any)
	Info(msg string, fields ...map[string]any)
}

// ToolCallLogger logs parsed tool calls with tool-specific formatting.
type ToolCallLogger struct {
	log FieldLogger
}

// NewToolCallLogger creates a logger for tool calls.
func NewToolCallLogger(log FieldLogger) *ToolCallLogger {
	return &ToolCallLogger{log: log}
}

// LogResult logs every tool call in res followed by usage and metrics.
func (l *ToolCallLogger) LogResult(res Result) {
	for _, call := range res.ToolCalls {
		l.Log(call)
	}
	if !res.TokenUsage.Empty() {
		l.log.Info("token usage", map[string]any{
			"input_tokens":  res.TokenUsage.InputTokens,
			"output_tokens": res.TokenUsage.OutputTokens,
		})
	}
	if !res.Perf.Empty() {
		fields := map[string]any{}
		for key, v := range res.Perf.Fields() {
			fields[perfLogKeys[key]] = v
		}
		l.log.Debug("inference metrics", fields)
	}
}

var perfLogKeys = map[string]string{
	"inferenceDuration": "inference_duration",
	"tokensPerSecond":   "tokens_per_second",
	"outputTokens":      "output_tokens",
}

// Log logs a single tool call.
func (l *ToolCallLogger) Log(call ToolCall) {
	if !call.Completed {
		l.log.Debug("tool call pending", map[string]any{"tool_id": call.ToolID})
		return
	}

	args := call.Arguments
	switch call.Name {
	case "Bash":
		l.log.Info("bash command", map[string]any{
			"cmd": truncate(getString(args, "cmd"), 64),
		})

	case "Read":
		fields := map[string]any{"path": getString(args, "path")}
		if r := getArray(args, "read_range"); len(r) == 2 {
			fields["lines"] = formatRange(toInt(r[0]), toInt(r[1]))
		}
		l.log.Info("read file", fields)

	case "create_file":
		l.log.Info("create file", map[string]any{
			"path":  getString(args, "path"),
			"bytes": len(getString(args, "content")),
		})

	case "edit_file":
		l.log.Info("edit file", map[string]any{
			"path": filepath.Base(getString(args, "path")),
			"old":  truncate(getString(args, "old_str"), 24),
			"new":  truncate(getString(args, "new_str"), 24),
		})

	case "glob":
		l.log.Info("glob search", map[string]any{
			"pattern": getString(args, "filePattern"),
		})

	case "Grep":
		fields := map[string]any{"pattern": getString(args, "pattern")}
		if path := getString(args, "path"); path != "" {
			fields["path"] = path
		}
		l.log.Info("grep search", fields)

	case "list_directory":
		l.log.Info("list directory", map[string]any{
			"path": getString(args, "path"),
		})

	case "web_search":
		l.log.Info("web search", map[string]any{
			"query": getString(args, "query"),
		})

	case "read_web_page":
		l.log.Info("web fetch", map[string]any{
			"url": truncate(getString(args, "url"), 64),
		})

	case "todo_write":
		todos := getArray(args, "todos")
		pending, done := 0, 0
		for _, t := range todos {
			if m, ok := t.(map[string]any); ok {
				switch m["status"] {
				case "todo", "pending":
					pending++
				case "completed":
					done++
				}
			}
		}
		l.log.Info("update todos", map[string]any{
			"count":   len(todos),
			"pending": pending,
			"done":    done,
		})

	default:
		l.log.Info("tool call", map[string]any{
			"tool": call.Name,
			"args": ArgumentKeys(call),
		})
	}
}

// ArgumentKeys returns the sorted argument names of a call.
func ArgumentKeys(call ToolCall) []string {
	keys := make([]string, 0, len(call.Arguments))
	for k := range call.Arguments {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func getArray(m map[string]any, key string) []any {
	if v, ok := m[key].([]any); ok {
		return v
	}
	return nil
}

func toInt(v any) int {
	if f, ok := v.(float64); ok {
		return int(f)
	}
	return 0
}

func formatRange(start, end int) string {
	if end <= start {
		return ""
	}
	return fmt.Sprintf("%d-%d", start, end)
}
