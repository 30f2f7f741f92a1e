// Package report renders probe and parse results for terminals.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"phobos.org.uk/ampprobe/internal/debuglog"
	"phobos.org.uk/ampprobe/internal/probe"
)

// Separator is written after each probe block.
const Separator = "--------------------------------------------------"

// WriteProbe writes a detection block for one probe.
func WriteProbe(w io.Writer, p *probe.Probe) error {
	rw := &writer{w: w}

	rw.printf("Prompt: %s\n", p.Prompt)
	if p.Parsed == nil {
		rw.printf("✗ Failed to parse logs: %s\n", orUnknown(p.Error))
		rw.printf("%s\n", Separator)
		return rw.err
	}
	if p.Error != "" {
		rw.printf("✗ Error: %s\n", p.Error)
	} else {
		rw.printf("Completed in %.2fs, success: %t\n", p.LatencySeconds, p.Success)
	}

	rw.printf("✓ Tool calls found: %d\n", len(p.Parsed.ToolCalls))
	for _, call := range p.Parsed.ToolCalls {
		rw.printf("  - %s with args: [%s]\n", callName(call), strings.Join(debuglog.ArgumentKeys(call), ", "))
	}

	if p.Parsed.TokenUsage.Empty() {
		rw.printf("✗ No token usage found\n")
	} else {
		rw.printf("✓ Token usage: %s\n", compact(p.Parsed.TokenUsage))
	}
	if p.Parsed.Perf.Empty() {
		rw.printf("✗ No performance metrics found\n")
	} else {
		rw.printf("✓ Performance metrics: %s\n", compact(p.Parsed.Perf))
	}
	if p.ThreadID == "" {
		rw.printf("✗ No thread ID found\n")
	} else {
		rw.printf("✓ Thread ID: %s\n", p.ThreadID)
	}

	rw.printf("%s\n", Separator)
	return rw.err
}

// WriteSummary writes the totals for a probe run.
func WriteSummary(w io.Writer, s probe.Summary) error {
	rw := &writer{w: w}
	rw.printf("\nTest Summary:\n")
	rw.printf("✓ Successful commands: %d/%d\n", s.Successful, s.Total)
	rw.printf("✓ Tool calls detected: %d/%d\n", s.ToolCallsDetected, s.Total)
	rw.printf("✓ Token usage detected: %d/%d\n", s.TokenUsageDetected, s.Total)
	rw.printf("✓ Performance metrics detected: %d/%d\n", s.PerfDetected, s.Total)
	rw.printf("✓ Thread IDs detected: %d/%d\n", s.ThreadIDDetected, s.Total)
	return rw.err
}

// WriteResult writes a parsed debug log. An empty threadID prints as "none".
func WriteResult(w io.Writer, res debuglog.Result, threadID string) error {
	rw := &writer{w: w}

	rw.printf("Thread ID: %s\n", orNone(threadID))
	rw.printf("Tool calls found: %d\n", len(res.ToolCalls))
	for i, call := range res.ToolCalls {
		rw.printf("  Tool %d:\n", i+1)
		rw.printf("    - Name: %s\n", callName(call))
		rw.printf("    - Tool ID: %s\n", call.ToolID)
		if call.Completed {
			rw.printf("    - Arguments: %s\n", compact(argumentsOrEmpty(call.Arguments)))
		}
	}
	rw.printf("Token usage: %s\n", compact(res.TokenUsage))
	rw.printf("Performance metrics: %s\n", compact(res.Perf))
	return rw.err
}

// writer keeps the first write error so callers check once.
type writer struct {
	w   io.Writer
	err error
}

func (rw *writer) printf(format string, args ...any) {
	if rw.err != nil {
		return
	}
	_, rw.err = fmt.Fprintf(rw.w, format, args...)
}

// callName names a call; one that never completed has no name yet.
func callName(call debuglog.ToolCall) string {
	if !call.Completed {
		return "unknown"
	}
	return call.Name
}

func compact(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func argumentsOrEmpty(args map[string]any) map[string]any {
	if args == nil {
		return map[string]any{}
	}
	return args
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown error"
	}
	return s
}

func orNone(s string) string {
	if s == "" {
		return "none"
	}
	return s
}
