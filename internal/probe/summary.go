package probe

// Summary aggregates detection counts over a set of probes.
type Summary struct {
	Total              int `json:"total"`
	Successful         int `json:"successful"`
	ToolCallsDetected  int `json:"tool_calls_detected"`
	TokenUsageDetected int `json:"token_usage_detected"`
	PerfDetected       int `json:"perf_detected"`
	ThreadIDDetected   int `json:"thread_id_detected"`
}

// Summarize counts, per probe, which parts of the debug log were recovered.
func Summarize(probes []*Probe) Summary {
	s := Summary{Total: len(probes)}
	for _, p := range probes {
		if p.Success {
			s.Successful++
		}
		if p.ThreadID != "" {
			s.ThreadIDDetected++
		}
		if p.Parsed == nil {
			continue
		}
		if len(p.Parsed.ToolCalls) > 0 {
			s.ToolCallsDetected++
		}
		if !p.Parsed.TokenUsage.Empty() {
			s.TokenUsageDetected++
		}
		if !p.Parsed.Perf.Empty() {
			s.PerfDetected++
		}
	}
	return s
}
