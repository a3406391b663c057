// Package control tracks relay lifecycle and answers ping, status and
// shutdown requests arriving on the control stream.
package control

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// Phase is the lifecycle phase of a relay.
type Phase int32

const (
	PhaseStarting Phase = iota
	PhaseReady
	PhaseBusy
	PhaseDraining
	PhaseStopped
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseReady:
		return "ready"
	case PhaseBusy:
		return "busy"
	case PhaseDraining:
		return "draining"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText renders the phase by name on the wire.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name.
func (p *Phase) UnmarshalText(b []byte) error {
	for _, candidate := range []Phase{PhaseStarting, PhaseReady, PhaseBusy, PhaseDraining, PhaseStopped} {
		if candidate.String() == string(b) {
			*p = candidate
			return nil
		}
	}
	*p = Phase(-1)
	return nil
}

// State tracks the runtime state of a relay.
type State struct {
	phase     atomic.Int32
	startTime time.Time
	channels  atomic.Int32
	identity  string

	mu       sync.RWMutex
	metadata map[string]string
}

// NewState creates a new State in the starting phase.
func NewState(identity string) *State {
	s := &State{
		startTime: time.Now(),
		identity:  identity,
		metadata:  make(map[string]string),
	}
	s.phase.Store(int32(PhaseStarting))
	return s
}

func (s *State) SetReady()    { s.phase.Store(int32(PhaseReady)) }
func (s *State) SetDraining() { s.phase.Store(int32(PhaseDraining)) }
func (s *State) SetStopped()  { s.phase.Store(int32(PhaseStopped)) }

// ChannelOpened counts a new chat channel and marks the relay busy if it was
// ready.
func (s *State) ChannelOpened() {
	s.channels.Add(1)
	s.phase.CompareAndSwap(int32(PhaseReady), int32(PhaseBusy))
}

// ChannelClosed releases a chat channel. The last one out returns a busy
// relay to ready.
func (s *State) ChannelClosed() {
	if s.channels.Add(-1) == 0 {
		s.phase.CompareAndSwap(int32(PhaseBusy), int32(PhaseReady))
	}
}

// Phase returns the current lifecycle phase.
func (s *State) Phase() Phase {
	return Phase(s.phase.Load())
}

// OpenChannels returns the number of chat channels in flight.
func (s *State) OpenChannels() int32 {
	return s.channels.Load()
}

// Uptime returns time elapsed since the state was created.
func (s *State) Uptime() time.Duration {
	return time.Since(s.startTime)
}

// Identity returns the relay's SPIFFE identity.
func (s *State) Identity() string {
	return s.identity
}

// SetMetadata sets a metadata key-value pair.
func (s *State) SetMetadata(key, value string) {
	s.mu.Lock()
	s.metadata[key] = value
	s.mu.Unlock()
}

// Metadata returns a copy of the metadata map.
func (s *State) Metadata() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.metadata)
}
