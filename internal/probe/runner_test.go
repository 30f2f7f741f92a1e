//go:build unix

package probe

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"phobos.org.uk/ampprobe/internal/config"
	"phobos.org.uk/ampprobe/internal/logging"
	"phobos.org.uk/ampprobe/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newTestRunner(t *testing.T, bin string) (*Runner, *logging.Logger) {
	t.Helper()
	log := logging.New(logging.Config{
		Output:    &bytes.Buffer{},
		Level:     logging.LevelDebug,
		Component: "probe",
	})
	cfg := config.Default()
	cfg.Amp.Bin = bin
	cfg.Amp.WorkDir = t.TempDir()
	return NewRunner(cfg, log), log
}

func TestBuildArgs(t *testing.T) {
	t.Parallel()

	r, _ := newTestRunner(t, "amp")
	r.ExtraArgs = []string{"--no-color"}

	require.Equal(t, []string{
		"--dangerously-allow-all", "-x",
		"--log-level", "debug",
		"--log-file", "/tmp/x.log",
		"--no-color",
	}, r.BuildArgs("/tmp/x.log"))
}

func TestResolveBin(t *testing.T) {
	r := &Runner{}

	t.Setenv("AMP_BIN", "")
	require.Equal(t, "amp", r.ResolveBin())

	t.Setenv("AMP_BIN", "/opt/amp")
	require.Equal(t, "/opt/amp", r.ResolveBin())

	r.Bin = "/usr/bin/amp"
	require.Equal(t, "/usr/bin/amp", r.ResolveBin())
}

func TestRun_Success(t *testing.T) {
	t.Parallel()

	bin := testutil.WriteMockAmp(t, testutil.MockAmp{LogLines: testutil.SampleDebugLog()})
	r, log := newTestRunner(t, bin)

	p := r.Run(context.Background(), "List all Python files")

	require.True(t, p.Success, "stderr: %s", p.Stderr)
	require.Empty(t, p.Error)
	require.NotEmpty(t, p.ID)
	require.NotNil(t, p.ExitCode)
	require.Equal(t, 0, *p.ExitCode)
	require.Equal(t, "prompt: List all Python files\n", p.Stdout)
	require.Equal(t, "T-abc123-def456", p.ThreadID)

	require.NotNil(t, p.Parsed)
	require.Len(t, p.Parsed.ToolCalls, 2)
	require.Equal(t, "glob", p.Parsed.ToolCalls[0].Name)
	require.Equal(t, "Read", p.Parsed.ToolCalls[1].Name)
	require.Equal(t, int64(1500), p.Parsed.TokenUsage.InputTokens)
	require.False(t, p.Parsed.Perf.Empty())

	require.Equal(t, string(p.DebugLog), p.RawLogSample)
	require.Contains(t, p.RawLogSample, "invokeTool")

	entries := log.Query(logging.Query{ProbeID: p.ID}).Entries
	require.NotEmpty(t, entries)
	require.Equal(t, "probe started", entries[0].Message)
	require.Equal(t, "probe completed", entries[len(entries)-1].Message)
}

func TestRun_LiteralRunner(t *testing.T) {
	t.Parallel()

	bin := testutil.WriteMockAmp(t, testutil.MockAmp{LogLines: testutil.SampleDebugLog()})
	r := &Runner{Bin: bin, WorkDir: t.TempDir()}

	require.Equal(t, config.DefaultTimeout, r.timeout())
	require.Same(t, defaultLog, r.logger())

	p := r.Run(context.Background(), "Read the README.md file")
	require.True(t, p.Success, "stderr: %s", p.Stderr)
	require.Equal(t, "T-abc123-def456", p.ThreadID)
}

func TestRun_RemovesDebugLog(t *testing.T) {
	t.Parallel()

	marker := filepath.Join(t.TempDir(), "logpath")
	script := "#!/bin/bash\nwhile [ $# -gt 0 ]; do if [ \"$1\" = --log-file ]; then echo \"$2\" > " + marker + "; fi; shift; done\ncat >/dev/null\n"
	bin := filepath.Join(t.TempDir(), "amp")
	require.NoError(t, os.WriteFile(bin, []byte(script), 0755))

	r, _ := newTestRunner(t, bin)
	p := r.Run(context.Background(), "hi")
	require.True(t, p.Success)

	logPath, err := os.ReadFile(marker)
	require.NoError(t, err)
	_, err = os.Stat(strings.TrimSpace(string(logPath)))
	require.True(t, os.IsNotExist(err))
}

func TestRun_NonZeroExit(t *testing.T) {
	t.Parallel()

	bin := testutil.WriteMockAmp(t, testutil.MockAmp{
		LogLines: []string{`{"name":"invokeTool","message":"toolu_1, invoking tool"}`},
		Stderr:   "rate limited",
		ExitCode: 3,
	})
	r, _ := newTestRunner(t, bin)

	p := r.Run(context.Background(), "Read the README.md file")

	require.False(t, p.Success)
	require.Empty(t, p.Error)
	require.Equal(t, 3, *p.ExitCode)
	require.Equal(t, "rate limited\n", p.Stderr)
	require.Len(t, p.Parsed.ToolCalls, 1)
	require.False(t, p.Parsed.ToolCalls[0].Completed)
	require.Empty(t, p.ThreadID)
}

func TestRun_Timeout(t *testing.T) {
	t.Parallel()

	bin := testutil.WriteMockAmp(t, testutil.MockAmp{
		LogLines:     []string{`{"threadId":"T-0123"}`},
		SleepSeconds: 30,
	})
	r, _ := newTestRunner(t, bin)
	r.Timeout = 500 * time.Millisecond

	start := time.Now()
	p := r.Run(context.Background(), "slow")

	require.Less(t, time.Since(start), 10*time.Second)
	require.False(t, p.Success)
	require.Equal(t, ErrorTimeout, p.Error)
	require.Nil(t, p.ExitCode)
	require.Equal(t, "T-0123", p.ThreadID)
}

func TestRun_MissingBinary(t *testing.T) {
	t.Parallel()

	r, log := newTestRunner(t, filepath.Join(t.TempDir(), "no-such-amp"))

	p := r.Run(context.Background(), "hello")

	require.False(t, p.Success)
	require.NotEmpty(t, p.Error)
	require.Nil(t, p.Parsed)
	require.Equal(t, int64(1), log.Stats().Error)
}

func TestRun_SampleTruncated(t *testing.T) {
	t.Parallel()

	bin := testutil.WriteMockAmp(t, testutil.MockAmp{LogLines: testutil.SampleDebugLog()})
	r, _ := newTestRunner(t, bin)
	r.SampleLimit = 20

	p := r.Run(context.Background(), "x")

	require.Equal(t, string(p.DebugLog[:20])+"...", p.RawLogSample)
}

func TestRunAll_StopsWhenCancelled(t *testing.T) {
	t.Parallel()

	bin := testutil.WriteMockAmp(t, testutil.MockAmp{})
	r, _ := newTestRunner(t, bin)

	probes := r.RunAll(context.Background(), []string{"a", "b"})
	require.Len(t, probes, 2)
	require.Equal(t, "b", probes[1].Prompt)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Empty(t, r.RunAll(ctx, []string{"a", "b"}))
}
