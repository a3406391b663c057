// Package relay is the privileged side of the gateway. A Peer owns every
// outbound connection to the local inference server and serves restricted
// callers over typed streams: one-shot fetches, streaming chat Channels and
// control requests. Client is the caller's half.
package relay

// FetchType tags a one-shot relayed request.
const FetchType = "PROXY_FETCH"

// FetchOptions mirrors the subset of request options the relay honours.
type FetchOptions struct {
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// FetchRequest asks the peer to perform one HTTP request on the caller's
// behalf.
type FetchRequest struct {
	Type    string       `json:"type"`
	URL     string       `json:"url"`
	Options FetchOptions `json:"options"`
}

// FetchResponse carries the fully buffered result of a relayed request, or
// OK=false with Error set when the request never produced a response.
type FetchResponse struct {
	OK         bool   `json:"ok"`
	Status     int    `json:"status,omitempty"`
	StatusText string `json:"statusText,omitempty"`
	Data       string `json:"data,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Message is one conversation turn as relayed to the local provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the first and only message a caller writes on a Channel.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	BaseURL  string    `json:"baseUrl"`
}

// FrameType discriminates Channel frames.
type FrameType string

const (
	FrameChunk   FrameType = "chunk"
	FrameDone    FrameType = "done"
	FrameError   FrameType = "error"
	FrameAborted FrameType = "aborted"
)

// Frame is one record the peer relays back over a Channel.
type Frame struct {
	Type    FrameType `json:"type"`
	Content string    `json:"content,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// Terminal reports whether f ends the exchange.
func (f Frame) Terminal() bool {
	switch f.Type {
	case FrameDone, FrameError, FrameAborted:
		return true
	}
	return false
}
