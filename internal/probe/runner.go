// Package probe runs the Amp CLI with debug logging enabled and parses the
// resulting log.
package probe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/google/uuid"

	"phobos.org.uk/ampprobe/internal/config"
	"phobos.org.uk/ampprobe/internal/debuglog"
	"phobos.org.uk/ampprobe/internal/logging"
)

// ErrorTimeout is recorded in Probe.Error when amp exceeds the timeout.
const ErrorTimeout = "timeout"

// waitDelay bounds how long Run waits for output pipes after the process
// group has been killed.
const waitDelay = 5 * time.Second

var defaultLog = logging.New(logging.Config{Component: "probe"})

// Probe is the outcome of running one prompt through amp.
type Probe struct {
	ID             string           `json:"id"`
	Prompt         string           `json:"prompt"`
	StartedAt      time.Time        `json:"started_at"`
	Success        bool             `json:"success"`
	ExitCode       *int             `json:"exit_code,omitempty"`
	LatencySeconds float64          `json:"latency_s"`
	Stdout         string           `json:"stdout"`
	Stderr         string           `json:"stderr"`
	ThreadID       string           `json:"thread_id,omitempty"`
	Parsed         *debuglog.Result `json:"parsed_logs,omitempty"`
	RawLogSample   string           `json:"raw_log_sample,omitempty"`
	Error          string           `json:"error,omitempty"`

	// DebugLog is the full log, kept for history storage.
	DebugLog []byte `json:"-"`
}

// Runner invokes amp. A zero Timeout means config.DefaultTimeout.
type Runner struct {
	Bin         string // Empty means AMP_BIN or "amp"
	Timeout     time.Duration
	WorkDir     string
	SampleLimit int
	ExtraArgs   []string
	Parse       debuglog.Options
	Log         *logging.Logger // nil means a stderr logger
}

// NewRunner creates a runner from configuration.
func NewRunner(cfg *config.Config, log *logging.Logger) *Runner {
	return &Runner{
		Bin:         cfg.Amp.Bin,
		Timeout:     cfg.Amp.Timeout,
		WorkDir:     cfg.Amp.WorkDir,
		SampleLimit: cfg.Amp.SampleLimit,
		ExtraArgs:   cfg.Amp.ExtraArgs,
		Parse:       debuglog.Options{RepairTruncated: cfg.Parse.RepairTruncated},
		Log:         log,
	}
}

func (r *Runner) logger() *logging.Logger {
	if r.Log == nil {
		return defaultLog
	}
	return r.Log
}

func (r *Runner) timeout() time.Duration {
	if r.Timeout <= 0 {
		return config.DefaultTimeout
	}
	return r.Timeout
}

// ResolveBin returns the amp binary to execute.
func (r *Runner) ResolveBin() string {
	if r.Bin != "" {
		return r.Bin
	}
	if bin := os.Getenv("AMP_BIN"); bin != "" {
		return bin
	}
	return "amp"
}

// BuildArgs returns the amp arguments for a run logging to logFile.
// The prompt is passed on stdin.
func (r *Runner) BuildArgs(logFile string) []string {
	args := []string{
		"--dangerously-allow-all",
		"-x",
		"--log-level", "debug",
		"--log-file", logFile,
	}
	return append(args, r.ExtraArgs...)
}

// Run executes prompt and parses the debug log amp wrote. Failures are
// recorded on the returned Probe rather than returned.
func (r *Runner) Run(ctx context.Context, prompt string) *Probe {
	p := &Probe{
		ID:        uuid.NewString(),
		Prompt:    prompt,
		StartedAt: time.Now().UTC(),
	}
	probeLog := r.logger().WithProbe(p.ID)
	probeLog.Info("probe started", map[string]any{
		"prompt":          truncate(prompt, 50),
		"timeout_seconds": r.timeout().Seconds(),
	})

	logFile, err := os.CreateTemp("", "amp_probe_*.log")
	if err != nil {
		p.Error = fmt.Sprintf("creating debug log file: %v", err)
		probeLog.Error("probe failed", map[string]any{"error": p.Error})
		return p
	}
	logPath := logFile.Name()
	logFile.Close()
	defer os.Remove(logPath)

	ctx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()

	cmd := exec.CommandContext(ctx, r.ResolveBin(), r.BuildArgs(logPath)...)
	cmd.Dir = r.WorkDir
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	setupProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = waitDelay

	start := time.Now()
	runErr := cmd.Run()
	p.LatencySeconds = math.Round(time.Since(start).Seconds()*100) / 100
	p.Stdout = stdout.String()
	p.Stderr = stderr.String()

	var exitErr *exec.ExitError
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		p.Error = ErrorTimeout
	case runErr == nil:
		p.Success = true
	case errors.As(runErr, &exitErr):
	default:
		p.Error = runErr.Error()
		probeLog.Error("probe failed", map[string]any{"error": p.Error})
		return p
	}
	if cmd.ProcessState != nil && p.Error == "" {
		code := cmd.ProcessState.ExitCode()
		p.ExitCode = &code
	}

	opts := r.Parse
	opts.Log = probeLog
	parsed := debuglog.ParseFile(logPath, opts)
	p.Parsed = &parsed
	if id, ok := debuglog.ExtractThreadID(logPath); ok {
		p.ThreadID = id
	}

	if raw, err := os.ReadFile(logPath); err == nil {
		p.DebugLog = raw
		p.RawLogSample = sample(raw, r.SampleLimit)
	} else {
		p.RawLogSample = "Could not read log file"
	}

	debuglog.NewToolCallLogger(probeLog).LogResult(parsed)
	fields := map[string]any{
		"success":    p.Success,
		"latency_s":  p.LatencySeconds,
		"tool_calls": len(parsed.ToolCalls),
	}
	if p.Error != "" {
		fields["error"] = p.Error
		probeLog.Warn("probe completed", fields)
	} else {
		probeLog.Info("probe completed", fields)
	}
	return p
}

// RunAll runs each prompt in turn, stopping early if ctx is done.
func (r *Runner) RunAll(ctx context.Context, prompts []string) []*Probe {
	probes := make([]*Probe, 0, len(prompts))
	for _, prompt := range prompts {
		if ctx.Err() != nil {
			break
		}
		probes = append(probes, r.Run(ctx, prompt))
	}
	return probes
}

func sample(raw []byte, limit int) string {
	if limit <= 0 {
		return ""
	}
	if len(raw) > limit {
		return string(raw[:limit]) + "..."
	}
	return string(raw)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
