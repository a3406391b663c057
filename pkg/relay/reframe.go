package relay

import "bytes"

// Reframer splits an incrementally read byte stream into lines. A line split
// across reads is held until its newline arrives, so the records produced
// never depend on where the reads happened to break.
type Reframer struct {
	buf []byte
}

// Feed appends chunk and returns every complete, non-blank line it closes.
// Returned slices are owned by the caller.
func (r *Reframer) Feed(chunk []byte) [][]byte {
	r.buf = append(r.buf, chunk...)

	var lines [][]byte
	for {
		i := bytes.IndexByte(r.buf, '\n')
		if i < 0 {
			break
		}
		if line := bytes.TrimSpace(r.buf[:i]); len(line) > 0 {
			lines = append(lines, bytes.Clone(line))
		}
		r.buf = r.buf[i+1:]
	}
	if len(r.buf) == 0 {
		r.buf = nil
	}
	return lines
}

// Flush returns the buffered partial line, or nil if only whitespace
// remains, and resets the Reframer.
func (r *Reframer) Flush() []byte {
	rest := bytes.TrimSpace(r.buf)
	r.buf = nil
	if len(rest) == 0 {
		return nil
	}
	return bytes.Clone(rest)
}
