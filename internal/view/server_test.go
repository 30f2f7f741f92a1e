package view

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gavv/httpexpect/v2"
	"github.com/stretchr/testify/require"

	"phobos.org.uk/ampprobe/internal/history"
	"phobos.org.uk/ampprobe/internal/logging"
	"phobos.org.uk/ampprobe/internal/probe"
	"phobos.org.uk/ampprobe/internal/testutil"
)

func newTestServer(t *testing.T, withHistory bool) (*httpexpect.Expect, *history.Store) {
	t.Helper()

	log := logging.New(logging.Config{Output: &bytes.Buffer{}, Level: logging.LevelDebug, Component: "view"})

	var store *history.Store
	if withHistory {
		var err error
		store, err = history.NewStore(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
	}

	srv := httptest.NewServer(New(0, "test-version", log, store).Router())
	t.Cleanup(srv.Close)

	return httpexpect.Default(t, srv.URL), store
}

func TestStatus(t *testing.T) {
	t.Parallel()

	e, _ := newTestServer(t, true)

	obj := e.GET("/status").Expect().Status(http.StatusOK).JSON().Object()
	obj.HasValue("version", "test-version")
	obj.HasValue("history_count", 0)
}

func TestParse(t *testing.T) {
	t.Parallel()

	e, _ := newTestServer(t, false)

	body := strings.Join(testutil.SampleDebugLog(), "\n")
	obj := e.POST("/parse").WithText(body).Expect().Status(http.StatusOK).JSON().Object()

	obj.HasValue("thread_id", "T-abc123-def456")
	calls := obj.Value("tool_calls").Array()
	calls.Length().IsEqual(2)
	calls.Value(0).Object().HasValue("tool_id", "toolu_abc123").HasValue("name", "glob")
	calls.Value(1).Object().Value("arguments").Object().HasValue("path", "README.md")
	obj.Value("token_usage").Object().HasValue("input_tokens", 1500).HasValue("output_tokens", 800)
	obj.Value("perf").Object().HasValue("inferenceDuration", 2.5)
}

func TestParse_Empty(t *testing.T) {
	t.Parallel()

	e, _ := newTestServer(t, false)

	obj := e.POST("/parse").WithText("").Expect().Status(http.StatusOK).JSON().Object()
	obj.Value("tool_calls").Array().IsEmpty()
	obj.Value("token_usage").Object().IsEmpty()
	obj.Value("perf").Object().IsEmpty()
	obj.NotContainsKey("thread_id")
}

func TestParse_Repair(t *testing.T) {
	t.Parallel()

	e, _ := newTestServer(t, false)

	body := `{"name":"invokeTool","message":"toolu_1, invoking tool"`
	e.POST("/parse").WithText(body).Expect().Status(http.StatusOK).
		JSON().Object().Value("tool_calls").Array().IsEmpty()
	e.POST("/parse").WithQuery("repair", "true").WithText(body).Expect().Status(http.StatusOK).
		JSON().Object().Value("tool_calls").Array().Length().IsEqual(1)
}

func TestHistory_Unavailable(t *testing.T) {
	t.Parallel()

	e, _ := newTestServer(t, false)

	e.GET("/history").Expect().Status(http.StatusServiceUnavailable).
		JSON().Object().HasValue("error", "history_unavailable")
}

func TestHistory(t *testing.T) {
	t.Parallel()

	e, store := newTestServer(t, true)

	p := &probe.Probe{
		ID:        "probe-1",
		Prompt:    "Read the README.md file",
		StartedAt: time.Now(),
		Success:   true,
		ThreadID:  "T-1",
		DebugLog:  []byte(strings.Join(testutil.SampleDebugLog(), "\n")),
	}
	require.NoError(t, store.SaveProbe(p))

	list := e.GET("/history").Expect().Status(http.StatusOK).JSON().Object()
	list.HasValue("total", 1)
	list.Value("entries").Array().Value(0).Object().HasValue("probe_id", "probe-1").HasValue("has_debug_log", true)

	e.GET("/history/{id}", "probe-1").Expect().Status(http.StatusOK).
		JSON().Object().HasValue("thread_id", "T-1")

	e.GET("/history/{id}/debug", "probe-1").Expect().Status(http.StatusOK).
		Body().IsEqual(string(p.DebugLog))

	e.GET("/history/{id}", "missing").Expect().Status(http.StatusNotFound)
	e.GET("/history/{id}/debug", "missing").Expect().Status(http.StatusNotFound)
	e.GET("/history").WithQuery("limit", 500).Expect().Status(http.StatusBadRequest)
}

func TestLogs(t *testing.T) {
	t.Parallel()

	e, _ := newTestServer(t, false)

	e.POST("/parse").WithText(`{"threadId":"T-1"}`).Expect().Status(http.StatusOK)

	e.GET("/logs").WithQuery("level", "debug").Expect().Status(http.StatusOK).
		JSON().Object().Value("entries").Array().Length().IsEqual(1)
	e.GET("/logs").WithQuery("level", "loud").Expect().Status(http.StatusBadRequest)
	e.GET("/logs/stats").Expect().Status(http.StatusOK).JSON().Object().HasValue("debug", 1)
}
