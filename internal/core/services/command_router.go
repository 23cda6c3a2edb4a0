package services

import (
	"sync"

	"playloop/internal/core/domain"
	"playloop/internal/core/ports"
)

// CommandRouter fans commands out to shared sinks and to sinks attached to
// a single session, such as a media transport negotiated after creation.
type CommandRouter struct {
	shared   []ports.CommandSink
	sessions map[domain.SessionID][]ports.CommandSink
	mu       sync.RWMutex
}

func NewCommandRouter(shared ...ports.CommandSink) *CommandRouter {
	sinks := make([]ports.CommandSink, 0, len(shared))
	for _, s := range shared {
		if s != nil {
			sinks = append(sinks, s)
		}
	}
	return &CommandRouter{
		shared:   sinks,
		sessions: make(map[domain.SessionID][]ports.CommandSink),
	}
}

// Attach adds sink for commands addressed to sessionID.
func (r *CommandRouter) Attach(sessionID domain.SessionID, sink ports.CommandSink) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.sessions[sessionID] = append(r.sessions[sessionID], sink)
}

// Detach removes every sink attached to sessionID.
func (r *CommandRouter) Detach(sessionID domain.SessionID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)
}

func (r *CommandRouter) Deliver(cmd domain.Command) {
	r.mu.RLock()
	attached := r.sessions[cmd.SessionID]
	r.mu.RUnlock()

	for _, s := range r.shared {
		s.Deliver(cmd)
	}
	for _, s := range attached {
		s.Deliver(cmd)
	}
}
