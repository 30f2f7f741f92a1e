package debuglog

import (
	"bytes"
	"io"
	"os"
	"regexp"

	"github.com/valyala/fastjson"
)

// threadPattern matches Amp thread identifiers such as "T-abc123-def456".
var threadPattern = regexp.MustCompile(`T-[a-f0-9-]+`)

// ExtractThreadID returns the first thread identifier in the debug log at
// path. An unreadable file is treated as having none.
func ExtractThreadID(path string) (string, bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()

	return ExtractThreadIDReader(f)
}

// ExtractThreadIDReader scans r line by line and stops at the first line
// yielding an identifier. Per line, a threadId key wins over a thread_id key,
// which wins over a T-... token inside a message mentioning "thread".
func ExtractThreadIDReader(r io.Reader) (string, bool) {
	var (
		parser fastjson.Parser
		id     string
		found  bool
	)

	// Read errors and oversized lines end up as "no identifier"
	readLines(r, func(line []byte) bool {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			return true
		}
		v, err := parser.ParseBytes(line)
		if err != nil || v.Type() != fastjson.TypeObject {
			return true
		}

		for _, key := range []string{"threadId", "thread_id"} {
			if value := v.Get(key); value != nil {
				id, found = threadValue(value)
				return false
			}
		}

		message := v.GetStringBytes("message")
		if !bytes.Contains(bytes.ToLower(message), []byte("thread")) {
			return true
		}
		if match := threadPattern.Find(message); match != nil {
			id, found = string(match), true
			return false
		}
		return true
	})
	return id, found
}

// threadValue converts an explicit thread ID field. A null value ends the
// search with no identifier; non-string values are returned as JSON text.
func threadValue(v *fastjson.Value) (string, bool) {
	switch v.Type() {
	case fastjson.TypeNull:
		return "", false
	case fastjson.TypeString:
		return string(v.GetStringBytes()), true
	default:
		return string(v.MarshalTo(nil)), true
	}
}
