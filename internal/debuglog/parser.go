package debuglog

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"os"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/valyala/fastjson"

	"phobos.org.uk/ampprobe/internal/logging"
)

// Reporter receives the I/O failures that Parse absorbs.
// Both *logging.Logger and *logging.ProbeLogger satisfy it.
type Reporter interface {
	Warn(msg string, fields ...map[string]any)
}

// Options tunes a parse.
type Options struct {
	// RepairTruncated retries lines that are not valid JSON through a JSON
	// repairer before skipping them. Off by default.
	RepairTruncated bool

	// Log receives read failures. Defaults to a stderr logger.
	Log Reporter
}

var defaultReporter Reporter = logging.New(logging.Config{Component: "debuglog"})

func (o Options) reporter() Reporter {
	if o.Log != nil {
		return o.Log
	}
	return defaultReporter
}

// Parser correlates invoke and call events across lines. It is not safe for
// concurrent use.
type Parser struct {
	opts Options

	lines   fastjson.Parser
	payload fastjson.Parser

	completed    []ToolCall
	pendingCalls map[string]*ToolCall // tool ID -> invoked, not yet called
	pendingOrder []string
	tokenUsage   TokenUsage
	perf         Perf
}

// NewParser creates a parser with default options.
func NewParser() *Parser {
	return NewParserWithOptions(Options{})
}

// NewParserWithOptions creates a parser.
func NewParserWithOptions(opts Options) *Parser {
	return &Parser{
		opts:         opts,
		pendingCalls: make(map[string]*ToolCall),
	}
}

// Feed consumes one log line. Blank and malformed lines are ignored.
func (p *Parser) Feed(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}

	v, ok := p.parseLine(line)
	if !ok {
		return
	}

	if v.Exists("input_tokens") && v.Exists("output_tokens") {
		p.tokenUsage = NewTokenUsage(intValue(v.Get("input_tokens")), intValue(v.Get("output_tokens")))
	}

	if v.Exists("inferenceDuration") {
		p.perf = Perf{
			InferenceDuration: rawValue(v.Get("inferenceDuration")),
			TokensPerSecond:   rawValue(v.Get("tokensPerSecond")),
			OutputTokens:      rawValue(v.Get("outputTokens")),
		}
	}

	switch string(v.GetStringBytes("name")) {
	case EventInvokeTool:
		p.invoke(string(v.GetStringBytes("message")))
	case EventToolCall, EventToolCallCompleted:
		if msg := v.GetStringBytes("message"); msg != nil {
			p.complete(msg)
		}
	}
}

func (p *Parser) parseLine(line []byte) (*fastjson.Value, bool) {
	v, err := p.lines.ParseBytes(line)
	if err != nil && p.opts.RepairTruncated {
		repaired, repairErr := jsonrepair.JSONRepair(string(line))
		if repairErr != nil {
			return nil, false
		}
		v, err = p.lines.Parse(repaired)
	}
	if err != nil || v.Type() != fastjson.TypeObject {
		return nil, false
	}
	return v, true
}

// invoke records an invocation. The message looks like
// "toolu_abc123, invoking tool"; the ID is everything before the first comma.
func (p *Parser) invoke(message string) {
	toolID, _, _ := strings.Cut(message, ",")
	toolID = strings.TrimSpace(toolID)

	if _, exists := p.pendingCalls[toolID]; !exists {
		p.pendingOrder = append(p.pendingOrder, toolID)
	}
	// A repeated ID replaces the earlier pending entry.
	p.pendingCalls[toolID] = &ToolCall{ToolID: toolID}
}

// complete matches a call event payload such as
// {"name":"Grep","arguments":{...},"toolId":"toolu_abc"} to a pending call.
func (p *Parser) complete(message []byte) {
	payload, err := p.payload.ParseBytes(message)
	if err != nil || payload.Type() != fastjson.TypeObject {
		return
	}

	toolID := payload.GetStringBytes("toolId")
	if len(toolID) == 0 {
		toolID = payload.GetStringBytes("id")
	}
	if len(toolID) == 0 {
		return
	}

	call, ok := p.pendingCalls[string(toolID)]
	if !ok {
		return
	}

	call.Name = "unknown"
	if name := payload.Get("name"); name != nil && name.Type() == fastjson.TypeString {
		call.Name = string(name.GetStringBytes())
	}
	call.Arguments = decodeArguments(payload.Get("arguments"))
	call.Completed = true

	p.removePending(call.ToolID)
	p.completed = append(p.completed, *call)
}

func (p *Parser) removePending(toolID string) {
	delete(p.pendingCalls, toolID)
	for i, id := range p.pendingOrder {
		if id == toolID {
			p.pendingOrder = append(p.pendingOrder[:i], p.pendingOrder[i+1:]...)
			return
		}
	}
}

// Pending returns the number of invocations still awaiting a call event.
func (p *Parser) Pending() int {
	return len(p.pendingCalls)
}

// Result returns completed calls followed by still-pending ones in the order
// they were invoked. The parser's state is left untouched.
func (p *Parser) Result() Result {
	res := emptyResult()
	res.ToolCalls = make([]ToolCall, 0, len(p.completed)+len(p.pendingOrder))
	res.ToolCalls = append(res.ToolCalls, p.completed...)
	for _, id := range p.pendingOrder {
		res.ToolCalls = append(res.ToolCalls, *p.pendingCalls[id])
	}
	res.TokenUsage = p.tokenUsage
	res.Perf = p.perf
	return res
}

// ParseReader reads r to the end and returns what it found. Lines over the
// length limit are skipped like malformed ones. A read error stops the
// scan; everything gathered up to that point is still returned.
func ParseReader(r io.Reader, opts Options) Result {
	p := NewParserWithOptions(opts)

	skipped, err := readLines(r, func(line []byte) bool {
		p.Feed(line)
		return true
	})
	if skipped > 0 {
		opts.reporter().Warn("skipped oversized debug log lines", map[string]any{
			"lines":     skipped,
			"max_bytes": maxLineLength,
		})
	}
	if err != nil {
		opts.reporter().Warn("error reading debug log", map[string]any{
			"error": err.Error(),
		})
	}

	return p.Result()
}

// Parse reads the debug log at path. A file that cannot be opened is
// reported and yields an empty result.
func Parse(path string) Result {
	return ParseFile(path, Options{})
}

// ParseFile is Parse with options.
func ParseFile(path string, opts Options) Result {
	f, err := os.Open(path)
	if err != nil {
		opts.reporter().Warn("error reading debug log", map[string]any{
			"path":  path,
			"error": err.Error(),
		})
		return emptyResult()
	}
	defer f.Close()

	return ParseReader(f, opts)
}

// decodeArguments converts the payload's arguments to a map. Missing or null
// arguments become an empty map; anything that is not an object is kept as
// raw text under "_raw".
func decodeArguments(v *fastjson.Value) map[string]any {
	if v == nil || v.Type() == fastjson.TypeNull {
		return map[string]any{}
	}
	raw := v.MarshalTo(nil)
	var args map[string]any
	if v.Type() != fastjson.TypeObject || json.Unmarshal(raw, &args) != nil {
		return map[string]any{"_raw": string(raw)}
	}
	return args
}

// intValue reads a token count. Non-numbers count as 0; fractions are
// truncated and values beyond the int64 range are clamped.
func intValue(v *fastjson.Value) int64 {
	if v == nil || v.Type() != fastjson.TypeNumber {
		return 0
	}
	if n, err := v.Int64(); err == nil {
		return n
	}
	f, err := v.Float64()
	if err != nil || math.IsNaN(f) {
		return 0
	}
	switch {
	case f >= math.MaxInt64:
		return math.MaxInt64
	case f <= math.MinInt64:
		return math.MinInt64
	}
	return int64(f)
}

// rawValue copies a present value out of the parser's buffer.
func rawValue(v *fastjson.Value) json.RawMessage {
	if v == nil {
		return nil
	}
	return v.MarshalTo(nil)
}
