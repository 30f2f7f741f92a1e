package debuglog

import (
	"bufio"
	"io"
)

// Read limits. Debug lines carrying file contents can be large.
const (
	initialLineBuffer = 64 * 1024
	maxLineLength     = 16 * 1024 * 1024
)

// readLines calls fn with each line of r, including its trailing newline.
// Lines longer than maxLineLength are skipped and counted instead of ending
// the read. Returning false from fn stops early. The slice passed to fn is
// only valid for the duration of the call.
func readLines(r io.Reader, fn func(line []byte) bool) (skipped int, err error) {
	br := bufio.NewReaderSize(r, initialLineBuffer)

	var long []byte
	oversized := false
	for {
		chunk, err := br.ReadSlice('\n')
		if err == bufio.ErrBufferFull {
			// Partial line; keep accumulating until the newline shows up
			if !oversized {
				if len(long)+len(chunk) > maxLineLength {
					oversized, long = true, long[:0]
				} else {
					long = append(long, chunk...)
				}
			}
			continue
		}
		if err != nil && err != io.EOF {
			return skipped, err
		}

		line := chunk
		if len(long) > 0 && !oversized {
			if len(long)+len(chunk) > maxLineLength {
				oversized = true
			} else {
				long = append(long, chunk...)
				line = long
			}
		}

		if oversized {
			skipped++
		} else if len(line) > 0 && !fn(line) {
			return skipped, nil
		}
		long, oversized = long[:0], false

		if err == io.EOF {
			return skipped, nil
		}
	}
}
