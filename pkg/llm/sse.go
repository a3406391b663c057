package llm

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// maxSSELineSize bounds one event line. Long completions arrive as a single
// data line, so the bufio default of 64 KiB is too small.
const maxSSELineSize = 1 << 20

// sseScanner yields the payload of each "data:" line of an event stream.
// Reads are line-buffered, so a payload split across network reads is
// reassembled before it is returned.
type sseScanner struct {
	scanner *bufio.Scanner
}

func newSSEScanner(r io.Reader) *sseScanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxSSELineSize)
	return &sseScanner{scanner: scanner}
}

// Next returns the next data payload, or io.EOF at the end of the body.
// Comments, other fields and "[DONE]" markers are skipped.
func (s *sseScanner) Next() (string, error) {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			continue
		}
		return data, nil
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("read event stream: %w", err)
	}
	return "", io.EOF
}
