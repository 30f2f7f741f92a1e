// Package history stores probe results on disk for later inspection.
package history

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"phobos.org.uk/ampprobe/internal/debuglog"
	"phobos.org.uk/ampprobe/internal/probe"
)

// Store manages probe history persistence.
type Store struct {
	dir string

	enc *zstd.Encoder
	dec *zstd.Decoder

	mu      sync.RWMutex
	entries map[string]*Entry // In-memory cache keyed by probe ID
}

// Entry represents a completed probe in history.
type Entry struct {
	ProbeID        string            `json:"probe_id"`
	Prompt         string            `json:"prompt"`
	PromptPreview  string            `json:"prompt_preview"`
	StartedAt      time.Time         `json:"started_at"`
	LatencySeconds float64           `json:"latency_s"`
	Success        bool              `json:"success"`
	ExitCode       *int              `json:"exit_code,omitempty"`
	Error          string            `json:"error,omitempty"`
	ThreadID       string            `json:"thread_id,omitempty"`
	Parsed         *debuglog.Result  `json:"parsed_logs,omitempty"`
	Steps          []Step            `json:"steps,omitempty"`
	Stdout         string            `json:"stdout,omitempty"`
	Stderr         string            `json:"stderr,omitempty"`
	HasDebugLog    bool              `json:"has_debug_log"`
	Labels         map[string]string `json:"labels,omitempty"`
}

// ListOptions controls pagination for List.
type ListOptions struct {
	Page  int // 1-indexed page number
	Limit int // Items per page (max 100)
}

// ListResult contains paginated history entries.
type ListResult struct {
	Entries    []EntrySummary `json:"entries"`
	Page       int            `json:"page"`
	Limit      int            `json:"limit"`
	Total      int            `json:"total"`
	TotalPages int            `json:"total_pages"`
}

// EntrySummary is a lightweight version of Entry for list responses.
type EntrySummary struct {
	ProbeID        string    `json:"probe_id"`
	PromptPreview  string    `json:"prompt_preview"`
	StartedAt      time.Time `json:"started_at"`
	LatencySeconds float64   `json:"latency_s"`
	Success        bool      `json:"success"`
	Error          string    `json:"error,omitempty"`
	ThreadID       string    `json:"thread_id,omitempty"`
	ToolCalls      int       `json:"tool_calls"`
	HasDebugLog    bool      `json:"has_debug_log"`
}

// Retention limits
const (
	MaxEntries      = 200
	MaxDebugEntries = 20
	PreviewLength   = 200
)

// NewStore creates a history store at the given directory.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("creating zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("creating zstd decoder: %w", err)
	}

	s := &Store{
		dir:     dir,
		enc:     enc,
		dec:     dec,
		entries: make(map[string]*Entry),
	}

	if err := s.load(); err != nil {
		s.Close()
		return nil, fmt.Errorf("loading history: %w", err)
	}

	return s, nil
}

// Close releases compression resources.
func (s *Store) Close() error {
	s.dec.Close()
	return s.enc.Close()
}

// NewEntry builds a history entry from a probe.
func NewEntry(p *probe.Probe) *Entry {
	e := &Entry{
		ProbeID:        p.ID,
		Prompt:         p.Prompt,
		StartedAt:      p.StartedAt,
		LatencySeconds: p.LatencySeconds,
		Success:        p.Success,
		ExitCode:       p.ExitCode,
		Error:          p.Error,
		ThreadID:       p.ThreadID,
		Parsed:         p.Parsed,
		Stdout:         p.Stdout,
		Stderr:         p.Stderr,
	}
	if p.Parsed != nil {
		e.Steps = ExtractSteps(*p.Parsed)
	}
	return e
}

// SaveProbe stores a probe and, when present, its full debug log.
func (s *Store) SaveProbe(p *probe.Probe) error {
	if err := s.Save(NewEntry(p)); err != nil {
		return err
	}
	if len(p.DebugLog) > 0 {
		return s.SaveDebugLog(p.ID, p.DebugLog)
	}
	return nil
}

// Save persists an entry and prunes old ones.
func (s *Store) Save(entry *Entry) error {
	if entry.ProbeID == "" {
		return fmt.Errorf("entry has no probe ID")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry.PromptPreview = truncate(entry.Prompt, PreviewLength)
	if _, err := os.Stat(s.debugPath(entry.ProbeID)); err == nil {
		entry.HasDebugLog = true
	}

	if err := writeJSON(s.entryPath(entry.ProbeID), entry); err != nil {
		return fmt.Errorf("saving entry: %w", err)
	}

	s.entries[entry.ProbeID] = entry
	s.pruneUnlocked()

	return nil
}

// SaveDebugLog stores the full debug log for a probe, zstd-compressed.
func (s *Store) SaveDebugLog(probeID string, debugLog []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	compressed := s.enc.EncodeAll(debugLog, nil)
	if err := os.WriteFile(s.debugPath(probeID), compressed, 0644); err != nil {
		return fmt.Errorf("saving debug log: %w", err)
	}

	if entry, ok := s.entries[probeID]; ok && !entry.HasDebugLog {
		entry.HasDebugLog = true
		if err := writeJSON(s.entryPath(probeID), entry); err != nil {
			return fmt.Errorf("updating entry: %w", err)
		}
	}

	return nil
}

// Get retrieves an entry by probe ID.
func (s *Store) Get(probeID string) (*Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[probeID]
	if !ok {
		return nil, fmt.Errorf("%s not found in history", probeID)
	}
	return entry, nil
}

// GetDebugLog retrieves and decompresses the debug log for a probe.
func (s *Store) GetDebugLog(probeID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.debugPath(probeID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("debug log for %s not found", probeID)
		}
		return nil, fmt.Errorf("reading debug log: %w", err)
	}
	raw, err := s.dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompressing debug log: %w", err)
	}
	return raw, nil
}

// Len returns the number of stored entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// List returns paginated history entries, newest first.
func (s *Store) List(opts ListOptions) ListResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if opts.Page < 1 {
		opts.Page = 1
	}
	if opts.Limit < 1 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}

	sorted := s.sortedUnlocked()

	total := len(sorted)
	totalPages := (total + opts.Limit - 1) / opts.Limit

	start := min((opts.Page-1)*opts.Limit, total)
	end := min(start+opts.Limit, total)

	entries := make([]EntrySummary, 0, end-start)
	for _, e := range sorted[start:end] {
		summary := EntrySummary{
			ProbeID:        e.ProbeID,
			PromptPreview:  e.PromptPreview,
			StartedAt:      e.StartedAt,
			LatencySeconds: e.LatencySeconds,
			Success:        e.Success,
			Error:          e.Error,
			ThreadID:       e.ThreadID,
			HasDebugLog:    e.HasDebugLog,
		}
		if e.Parsed != nil {
			summary.ToolCalls = len(e.Parsed.ToolCalls)
		}
		entries = append(entries, summary)
	}

	return ListResult{
		Entries:    entries,
		Page:       opts.Page,
		Limit:      opts.Limit,
		Total:      total,
		TotalPages: totalPages,
	}
}

// sortedUnlocked returns entries newest first. Must be called with lock held.
func (s *Store) sortedUnlocked() []*Entry {
	sorted := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		sorted = append(sorted, e)
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].StartedAt.Equal(sorted[j].StartedAt) {
			return sorted[i].ProbeID < sorted[j].ProbeID
		}
		return sorted[i].StartedAt.After(sorted[j].StartedAt)
	})
	return sorted
}

func (s *Store) load() error {
	files, err := filepath.Glob(filepath.Join(s.dir, "*.json"))
	if err != nil {
		return err
	}

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil || entry.ProbeID == "" {
			continue
		}

		_, err = os.Stat(s.debugPath(entry.ProbeID))
		entry.HasDebugLog = err == nil

		s.entries[entry.ProbeID] = &entry
	}

	return nil
}

// pruneUnlocked removes entries beyond MaxEntries and debug logs beyond
// MaxDebugEntries. Must be called with lock held.
func (s *Store) pruneUnlocked() {
	sorted := s.sortedUnlocked()

	if len(sorted) > MaxEntries {
		for _, e := range sorted[MaxEntries:] {
			os.Remove(s.entryPath(e.ProbeID))
			os.Remove(s.debugPath(e.ProbeID))
			delete(s.entries, e.ProbeID)
		}
		sorted = sorted[:MaxEntries]
	}

	for i := MaxDebugEntries; i < len(sorted); i++ {
		e := sorted[i]
		if !e.HasDebugLog {
			continue
		}
		os.Remove(s.debugPath(e.ProbeID))
		e.HasDebugLog = false
		writeJSON(s.entryPath(e.ProbeID), e)
	}
}

func (s *Store) entryPath(probeID string) string {
	return filepath.Join(s.dir, probeID+".json")
}

func (s *Store) debugPath(probeID string) string {
	return filepath.Join(s.dir, probeID+".debug.log.zst")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
