package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"phobos.org.uk/ampprobe/internal/config"
	"phobos.org.uk/ampprobe/internal/probe"
)

func TestWriteResults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "results.json")
	probes := []*probe.Probe{
		{ID: "p1", Prompt: "Read the README.md file", Success: true, DebugLog: []byte("raw")},
		{ID: "p2", Prompt: "x", Error: probe.ErrorTimeout},
	}
	require.NoError(t, writeResults(path, probes))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var got []map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 2)
	require.Equal(t, "Read the README.md file", got[0]["prompt"])
	require.NotContains(t, got[0], "DebugLog")
	require.Equal(t, "timeout", got[1]["error"])
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()

	require.Equal(t, config.DefaultResultsFile, loadConfig("").ResultsFile)

	path := filepath.Join(t.TempDir(), "ampprobe.yaml")
	require.NoError(t, os.WriteFile(path, []byte("results_file: out.json\namp:\n  timeout: 30s\n"), 0644))
	cfg := loadConfig(path)
	require.Equal(t, "out.json", cfg.ResultsFile)
}
