// Package debuglog extracts tool calls, token usage and inference metrics from
// the line-delimited JSON debug logs written by the Amp CLI.
package debuglog

import (
	"encoding/json"
)

// Log event names that drive tool call correlation.
const (
	EventInvokeTool        = "invokeTool"
	EventToolCall          = "toolCall"
	EventToolCallCompleted = "toolCallCompleted"
)

// ToolCall is a tool invocation reconstructed from an invoke event and,
// when one was seen, its matching call event.
type ToolCall struct {
	ToolID    string
	Name      string
	Arguments map[string]any

	// Completed is false for invocations that never saw a call event.
	Completed bool
}

// MarshalJSON emits name and arguments only for completed calls, so a
// pending call serialises as {"tool_id": "..."}.
func (c ToolCall) MarshalJSON() ([]byte, error) {
	if !c.Completed {
		return json.Marshal(struct {
			ToolID string `json:"tool_id"`
		}{c.ToolID})
	}
	args := c.Arguments
	if args == nil {
		args = map[string]any{}
	}
	return json.Marshal(struct {
		ToolID    string         `json:"tool_id"`
		Name      string         `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}{c.ToolID, c.Name, args})
}

// UnmarshalJSON treats a call carrying a name as completed.
func (c *ToolCall) UnmarshalJSON(data []byte) error {
	var raw struct {
		ToolID    string         `json:"tool_id"`
		Name      *string        `json:"name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*c = ToolCall{ToolID: raw.ToolID}
	if raw.Name != nil {
		c.Name = *raw.Name
		c.Arguments = raw.Arguments
		if c.Arguments == nil {
			c.Arguments = map[string]any{}
		}
		c.Completed = true
	}
	return nil
}

// TokenUsage holds the token counts from the last record carrying both
// input_tokens and output_tokens.
type TokenUsage struct {
	InputTokens  int64
	OutputTokens int64

	seen bool
}

// NewTokenUsage returns a populated TokenUsage.
func NewTokenUsage(input, output int64) TokenUsage {
	return TokenUsage{InputTokens: input, OutputTokens: output, seen: true}
}

// Empty reports whether no token usage record was found.
func (u TokenUsage) Empty() bool {
	return !u.seen
}

// MarshalJSON emits {} when no usage was recorded.
func (u TokenUsage) MarshalJSON() ([]byte, error) {
	if !u.seen {
		return []byte("{}"), nil
	}
	return json.Marshal(struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	}{u.InputTokens, u.OutputTokens})
}

// UnmarshalJSON accepts both {} and the populated form.
func (u *TokenUsage) UnmarshalJSON(data []byte) error {
	var raw struct {
		InputTokens  *int64 `json:"input_tokens"`
		OutputTokens *int64 `json:"output_tokens"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*u = TokenUsage{}
	if raw.InputTokens != nil && raw.OutputTokens != nil {
		*u = NewTokenUsage(*raw.InputTokens, *raw.OutputTokens)
	}
	return nil
}

// Perf holds the inference metrics of the last record carrying
// inferenceDuration. Each key present in that record is kept verbatim,
// whatever its JSON type; absent keys stay nil.
type Perf struct {
	InferenceDuration json.RawMessage `json:"inferenceDuration,omitempty"`
	TokensPerSecond   json.RawMessage `json:"tokensPerSecond,omitempty"`
	OutputTokens      json.RawMessage `json:"outputTokens,omitempty"`
}

// Empty reports whether no metric is set.
func (p Perf) Empty() bool {
	return p.InferenceDuration == nil && p.TokensPerSecond == nil && p.OutputTokens == nil
}

// Fields decodes the present metrics, keyed by their log names.
func (p Perf) Fields() map[string]any {
	fields := make(map[string]any, 3)
	for key, raw := range map[string]json.RawMessage{
		"inferenceDuration": p.InferenceDuration,
		"tokensPerSecond":   p.TokensPerSecond,
		"outputTokens":      p.OutputTokens,
	} {
		if raw == nil {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			v = string(raw)
		}
		fields[key] = v
	}
	return fields
}

// Result is everything extracted from one debug log.
type Result struct {
	ToolCalls  []ToolCall `json:"tool_calls"`
	TokenUsage TokenUsage `json:"token_usage"`
	Perf       Perf       `json:"perf"`
}

// emptyResult has a non-nil ToolCalls so it serialises as [].
func emptyResult() Result {
	return Result{ToolCalls: []ToolCall{}}
}
