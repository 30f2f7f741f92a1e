package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"phobos.org.uk/ampprobe/internal/api"
	"phobos.org.uk/ampprobe/internal/config"
	"phobos.org.uk/ampprobe/internal/debuglog"
	"phobos.org.uk/ampprobe/internal/history"
	"phobos.org.uk/ampprobe/internal/logging"
	"phobos.org.uk/ampprobe/internal/probe"
	"phobos.org.uk/ampprobe/internal/report"
	"phobos.org.uk/ampprobe/internal/view"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	// AMP_BIN and AMPPROBE_ROOT may come from a local .env
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: reading .env: %v\n", err)
	}

	switch os.Args[1] {
	case "parse":
		parseCmd(os.Args[2:])
	case "thread":
		threadCmd(os.Args[2:])
	case "run":
		runCmd(os.Args[2:])
	case "history":
		historyCmd(os.Args[2:])
	case "serve":
		serveCmd(os.Args[2:])
	case "version":
		fmt.Println(version)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`amp-probe - Amp CLI debug log inspector

Usage:
  amp-probe <command> [flags]

Commands:
  parse     Extract tool calls, token usage and perf metrics from a debug log
  thread    Print the thread ID recorded in a debug log
  run       Run prompts through amp with debug logging and report what was found
  history   List stored probe results, or show one
  serve     Serve stored results and a parse endpoint over HTTP
  version   Show version
  help      Show this help

Run 'amp-probe <command> -h' for command-specific help.`)
}

// loadConfig returns the config at path, or defaults when path is empty.
func loadConfig(path string) *config.Config {
	if path == "" {
		return config.Default()
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func newLogger(level logging.Level, component string) *logging.Logger {
	return logging.New(logging.Config{Output: os.Stderr, Level: level, Component: component})
}

// parseCmd handles the 'parse' subcommand
func parseCmd(args []string) {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	repair := fs.Bool("repair", false, "Repair truncated JSON lines before giving up on them")
	asJSON := fs.Bool("json", false, "Print the result as JSON")
	logLevel := fs.String("log-level", "warn", "Log level (debug, info, warn, error)")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: amp-probe parse [flags] <log-file>\n")
		fs.PrintDefaults()
		os.Exit(1)
	}
	path := fs.Arg(0)

	level, err := logging.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	log := newLogger(level, "debuglog")

	res := debuglog.ParseFile(path, debuglog.Options{RepairTruncated: *repair, Log: log})
	threadID, _ := debuglog.ExtractThreadID(path)
	debuglog.NewToolCallLogger(log).LogResult(res)

	if *asJSON {
		printJSON(api.ParseResponse{Result: res, ThreadID: threadID})
		return
	}
	if err := report.WriteResult(os.Stdout, res, threadID); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// threadCmd handles the 'thread' subcommand
func threadCmd(args []string) {
	fs := flag.NewFlagSet("thread", flag.ExitOnError)
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintf(os.Stderr, "Usage: amp-probe thread <log-file>\n")
		os.Exit(1)
	}

	threadID, ok := debuglog.ExtractThreadID(fs.Arg(0))
	if !ok {
		fmt.Fprintf(os.Stderr, "No thread ID found\n")
		os.Exit(1)
	}
	fmt.Println(threadID)
}

// runCmd handles the 'run' subcommand
func runCmd(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config file")
	bin := fs.String("bin", "", "amp binary (default: AMP_BIN or amp)")
	timeout := fs.Duration("timeout", 0, "Per-prompt timeout (default from config)")
	out := fs.String("out", "", "Results file (default from config)")
	repair := fs.Bool("repair", false, "Repair truncated JSON lines")
	noHistory := fs.Bool("no-history", false, "Do not store results in history")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if *bin != "" {
		cfg.Amp.Bin = *bin
	}
	if *timeout > 0 {
		cfg.Amp.Timeout = *timeout
	}
	if *out != "" {
		cfg.ResultsFile = *out
	}
	if *repair {
		cfg.Parse.RepairTruncated = true
	}
	if fs.NArg() > 0 {
		cfg.Prompts = fs.Args()
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Level(), "probe")
	runner := probe.NewRunner(cfg, log)

	var store *history.Store
	if !*noHistory {
		var err error
		store, err = history.NewStore(cfg.HistoryDir)
		if err != nil {
			log.Warn("history disabled", map[string]any{"error": err.Error()})
		} else {
			defer store.Close()
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("Testing Amp debug log parsing...")

	probes, runErr := runProbes(ctx, runner, cfg.Prompts, store, os.Stdout, log)

	if err := writeResults(cfg.ResultsFile, probes); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving results: %v\n", err)
		os.Exit(1)
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", runErr)
		os.Exit(1)
	}
	fmt.Printf("\nDetailed results saved to: %s\n", cfg.ResultsFile)
}

// runProbes runs each prompt, reporting and storing probes as they finish,
// then writes the summary. A failed report write stops the run; the probes
// finished so far are still returned.
func runProbes(ctx context.Context, runner *probe.Runner, prompts []string, store *history.Store, w io.Writer, log *logging.Logger) ([]*probe.Probe, error) {
	probes := make([]*probe.Probe, 0, len(prompts))
	for _, prompt := range prompts {
		if ctx.Err() != nil {
			break
		}
		p := runner.Run(ctx, prompt)
		probes = append(probes, p)

		if store != nil {
			if err := store.SaveProbe(p); err != nil {
				log.Warn("failed to save probe", map[string]any{"probe_id": p.ID, "error": err.Error()})
			}
		}
		if err := report.WriteProbe(w, p); err != nil {
			return probes, fmt.Errorf("writing report: %w", err)
		}
	}

	if err := report.WriteSummary(w, probe.Summarize(probes)); err != nil {
		return probes, fmt.Errorf("writing summary: %w", err)
	}
	return probes, nil
}

func writeResults(path string, probes []*probe.Probe) error {
	data, err := json.MarshalIndent(probes, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// historyCmd handles the 'history' subcommand
func historyCmd(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	dir := fs.String("dir", config.DefaultHistoryPath(), "History directory")
	page := fs.Int("page", 1, "Page number")
	limit := fs.Int("limit", 20, "Entries per page")
	debug := fs.Bool("debug", false, "Print the raw debug log of the given probe")
	fs.Parse(args)

	store, err := history.NewStore(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening history: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if fs.NArg() == 0 {
		result := store.List(history.ListOptions{Page: *page, Limit: *limit})
		for _, e := range result.Entries {
			status := "ok"
			if !e.Success {
				status = "failed"
			}
			fmt.Printf("%s  %s  %-6s  %2d calls  %s\n",
				e.ProbeID, e.StartedAt.Format(time.RFC3339), status, e.ToolCalls, e.PromptPreview)
		}
		fmt.Printf("Page %d/%d (%d entries)\n", result.Page, max(result.TotalPages, 1), result.Total)
		return
	}

	id := fs.Arg(0)
	if *debug {
		data, err := store.GetDebugLog(id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		os.Stdout.Write(data)
		return
	}

	entry, err := store.Get(id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	printJSON(entry)
}

// serveCmd handles the 'serve' subcommand
func serveCmd(args []string) {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to YAML config file")
	port := fs.Int("port", 0, "Port to listen on (default from config)")
	dir := fs.String("dir", "", "History directory (default from config)")
	fs.Parse(args)

	cfg := loadConfig(*configPath)
	if *port != 0 {
		cfg.Serve.Port = *port
	}
	if *dir != "" {
		cfg.HistoryDir = *dir
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	log := newLogger(cfg.Level(), "view")

	store, err := history.NewStore(cfg.HistoryDir)
	if err != nil {
		log.Warn("history disabled", map[string]any{"error": err.Error()})
	} else {
		defer store.Close()
	}

	s := view.New(cfg.Serve.Port, version, log, store)

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintf(os.Stderr, "\nShutting down...\n")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	}()

	if err := s.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding output: %v\n", err)
		os.Exit(1)
	}
}
