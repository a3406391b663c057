package control

import (
	"context"
	"log/slog"
	"time"
)

// ShutdownFunc is called when a shutdown is accepted.
type ShutdownFunc func(graceful bool, timeout time.Duration, reason string)

// Server answers control requests from the relay's current State.
type Server struct {
	state    *State
	shutdown ShutdownFunc
}

var _ ControlServer = (*Server)(nil)

// NewServer creates a new control server.
func NewServer(state *State, shutdownFn ShutdownFunc) *Server {
	return &Server{
		state:    state,
		shutdown: shutdownFn,
	}
}

// Ping echoes the caller's timestamp alongside the relay's clock.
func (s *Server) Ping(ctx context.Context, req *PingRequest) (*PingResponse, error) {
	slog.Debug("ping received", "timestamp", req.Timestamp)
	return &PingResponse{
		PingTimestamp: req.Timestamp,
		PongTimestamp: time.Now().UnixNano(),
	}, nil
}

// Status reports the relay's phase and load.
func (s *Server) Status(ctx context.Context, _ *StatusRequest) (*StatusResponse, error) {
	phase := s.state.Phase()
	slog.Debug("status requested", "phase", phase.String())
	return &StatusResponse{
		Identity:      s.state.Identity(),
		Phase:         phase,
		UptimeSeconds: int64(s.state.Uptime().Seconds()),
		OpenChannels:  s.state.OpenChannels(),
		Metadata:      s.state.Metadata(),
	}, nil
}

// Shutdown requests termination of the relay. A relay already draining or
// stopped rejects the request.
func (s *Server) Shutdown(ctx context.Context, req *ShutdownRequest) (*ShutdownResponse, error) {
	phase := s.state.Phase()
	slog.Info("shutdown requested", "graceful", req.Graceful, "timeout", req.TimeoutSeconds, "reason", req.Reason, "phase", phase.String())

	if phase == PhaseDraining || phase == PhaseStopped {
		slog.Warn("shutdown rejected", "reason", "already shutting down", "phase", phase.String())
		return &ShutdownResponse{RejectionReason: "relay is already shutting down"}, nil
	}

	if s.shutdown != nil {
		timeout := time.Duration(req.TimeoutSeconds) * time.Second
		go s.shutdown(req.Graceful, timeout, req.Reason)
	}
	return &ShutdownResponse{Accepted: true}, nil
}
