package history

import (
	"encoding/json"
	"sort"
	"strings"

	"phobos.org.uk/ampprobe/internal/debuglog"
)

// MaxOutlineSteps caps the number of steps kept per entry.
const MaxOutlineSteps = 100

// Step types
const (
	StepToolCall    = "tool_call"
	StepPendingCall = "pending_call"
)

// Step represents a single tool call in the probe outline.
type Step struct {
	Type         string `json:"type"`
	ToolID       string `json:"tool_id"`
	Tool         string `json:"tool,omitempty"`
	InputPreview string `json:"input_preview,omitempty"`
	Truncated    bool   `json:"truncated,omitempty"`
}

// ExtractSteps builds an outline from parsed tool calls, keeping their order.
func ExtractSteps(res debuglog.Result) []Step {
	steps := make([]Step, 0, min(len(res.ToolCalls), MaxOutlineSteps))
	for _, call := range res.ToolCalls {
		if len(steps) == MaxOutlineSteps {
			break
		}
		if !call.Completed {
			steps = append(steps, Step{Type: StepPendingCall, ToolID: call.ToolID})
			continue
		}
		input := formatInput(call.Arguments)
		steps = append(steps, Step{
			Type:         StepToolCall,
			ToolID:       call.ToolID,
			Tool:         call.Name,
			InputPreview: truncate(input, PreviewLength),
			Truncated:    len(input) > PreviewLength,
		})
	}
	return steps
}

// formatInput renders arguments as sorted "key: value" lines.
func formatInput(args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+formatValue(args[k]))
	}
	return strings.Join(parts, "\n")
}

func formatValue(v any) string {
	if s, ok := v.(string); ok {
		// For multi-line strings, show first few lines
		lines := strings.Split(s, "\n")
		if len(lines) > 3 {
			return strings.Join(lines[:3], "\n") + "\n..."
		}
		return s
	}
	data, _ := json.Marshal(v)
	return string(data)
}
