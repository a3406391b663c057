package relay

import (
	"bytes"
	"fmt"
	"testing"
)

func collectLines(chunks [][]byte) []string {
	var rf Reframer
	var out []string
	for _, c := range chunks {
		for _, line := range rf.Feed(c) {
			out = append(out, string(line))
		}
	}
	if last := rf.Flush(); last != nil {
		out = append(out, string(last))
	}
	return out
}

func TestReframer(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   []string
	}{
		{
			name:   "one buffer",
			chunks: []string{"{\"a\":1}\n{\"b\":2}\n"},
			want:   []string{`{"a":1}`, `{"b":2}`},
		},
		{
			name:   "split mid record",
			chunks: []string{`{"mess`, `age":{"content":"He"}}`, "\n"},
			want:   []string{`{"message":{"content":"He"}}`},
		},
		{
			name:   "blank lines dropped",
			chunks: []string{"\n\n{\"a\":1}\n  \n"},
			want:   []string{`{"a":1}`},
		},
		{
			name:   "crlf",
			chunks: []string{"{\"a\":1}\r\n{\"b\":2}\r", "\n"},
			want:   []string{`{"a":1}`, `{"b":2}`},
		},
		{
			name:   "trailing partial flushed",
			chunks: []string{"{\"a\":1}\n{\"done\":true}"},
			want:   []string{`{"a":1}`, `{"done":true}`},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var chunks [][]byte
			for _, c := range tt.chunks {
				chunks = append(chunks, []byte(c))
			}
			got := collectLines(chunks)
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("lines = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReframerChunkBoundaryIndependence(t *testing.T) {
	stream := []byte("{\"message\":{\"content\":\"He\"}}\n\n{\"message\":{\"content\":\"llo\"}}\n{\"done\":true}\n")
	want := collectLines([][]byte{stream})

	for size := 1; size <= len(stream); size++ {
		var chunks [][]byte
		for off := 0; off < len(stream); off += size {
			chunks = append(chunks, stream[off:min(off+size, len(stream))])
		}
		if got := collectLines(chunks); fmt.Sprint(got) != fmt.Sprint(want) {
			t.Fatalf("chunk size %d: lines = %q, want %q", size, got, want)
		}
	}
}

func TestReframerFeedOwnership(t *testing.T) {
	var rf Reframer
	chunk := []byte("abc\n")
	lines := rf.Feed(chunk)
	copy(chunk, "xyz")
	if len(lines) != 1 || !bytes.Equal(lines[0], []byte("abc")) {
		t.Errorf("line aliased input buffer: %q", lines)
	}
	if rf.Flush() != nil {
		t.Error("Flush() after complete line should be nil")
	}
}
