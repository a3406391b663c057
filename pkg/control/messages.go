package control

type PingRequest struct {
	Timestamp int64 `json:"timestamp"`
}

type PingResponse struct {
	PingTimestamp int64 `json:"pingTimestamp"`
	PongTimestamp int64 `json:"pongTimestamp"`
}

type StatusRequest struct{}

type StatusResponse struct {
	Identity      string            `json:"identity"`
	Phase         Phase             `json:"phase"`
	UptimeSeconds int64             `json:"uptimeSeconds"`
	OpenChannels  int32             `json:"openChannels"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

type ShutdownRequest struct {
	Graceful       bool   `json:"graceful"`
	TimeoutSeconds int64  `json:"timeoutSeconds"`
	Reason         string `json:"reason,omitempty"`
}

type ShutdownResponse struct {
	Accepted        bool   `json:"accepted"`
	RejectionReason string `json:"rejectionReason,omitempty"`
}
