package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// SampleDebugLog returns debug log lines resembling a real amp session with
// two completed tool calls, token usage and inference metrics.
func SampleDebugLog() []string {
	return []string{
		`{"level":"info","message":"Starting Amp CLI.","timestamp":"2025-08-22T11:24:34.950Z"}`,
		`{"level":"debug","threadId":"T-abc123-def456","message":"Thread created"}`,
		`{"level":"debug","name":"invokeTool","message":"toolu_abc123, invoking tool"}`,
		`{"level":"debug","name":"toolCall","message":"{\"name\":\"glob\",\"arguments\":{\"filePattern\":\"**/*.py\"},\"toolId\":\"toolu_abc123\"}"}`,
		`{"level":"debug","name":"invokeTool","message":"toolu_def456, invoking tool"}`,
		`{"level":"debug","name":"toolCall","message":"{\"name\":\"Read\",\"arguments\":{\"path\":\"README.md\"},\"toolId\":\"toolu_def456\"}"}`,
		`{"level":"debug","input_tokens":1500,"output_tokens":800,"message":"Token usage recorded"}`,
		`{"level":"debug","inferenceDuration":2.5,"tokensPerSecond":320,"outputTokens":800}`,
	}
}

// MockAmp describes the behaviour of a fake amp binary.
type MockAmp struct {
	LogLines     []string // Written to the --log-file path
	Stdout       string
	Stderr       string
	ExitCode     int
	SleepSeconds int // Sleep before exiting
}

// MockAmpScript returns a bash script that simulates the amp CLI: it reads
// the prompt from stdin, writes LogLines to the --log-file argument and
// echoes the prompt back.
func MockAmpScript(m MockAmp) string {
	var sb strings.Builder
	sb.WriteString(`#!/bin/bash
log=""
while [ $# -gt 0 ]; do
  case "$1" in
    --log-file) log="$2"; shift 2 ;;
    *) shift ;;
  esac
done
prompt=$(cat)
`)
	if len(m.LogLines) > 0 {
		sb.WriteString("cat > \"$log\" <<'AMPLOG'\n")
		sb.WriteString(strings.Join(m.LogLines, "\n"))
		sb.WriteString("\nAMPLOG\n")
	}
	if m.Stdout != "" {
		fmt.Fprintf(&sb, "printf '%%s\\n' %s\n", shellQuote(m.Stdout))
	} else {
		sb.WriteString("echo \"prompt: $prompt\"\n")
	}
	if m.Stderr != "" {
		fmt.Fprintf(&sb, "printf '%%s\\n' %s >&2\n", shellQuote(m.Stderr))
	}
	if m.SleepSeconds > 0 {
		fmt.Fprintf(&sb, "sleep %d\n", m.SleepSeconds)
	}
	fmt.Fprintf(&sb, "exit %d\n", m.ExitCode)
	return sb.String()
}

// WriteMockAmp writes an executable fake amp into a temp dir and returns its
// path.
func WriteMockAmp(t *testing.T, m MockAmp) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "amp")
	if err := os.WriteFile(path, []byte(MockAmpScript(m)), 0755); err != nil {
		t.Fatalf("writing mock amp: %v", err)
	}
	return path
}

// WriteDebugLog writes lines to a temp file and returns its path.
func WriteDebugLog(t *testing.T, lines []string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "amp_debug.log")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatalf("writing debug log: %v", err)
	}
	return path
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
