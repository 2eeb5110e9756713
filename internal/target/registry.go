// ABOUTME: In-memory registry of debugging targets currently attached through the agent.
// ABOUTME: Keyed by session id and kept authoritative by observed attach/detach events.

package target

import (
	"sync"

	"github.com/2389/cdp-relay/internal/protocol"
)

// Connected is one attached debugging target as reported by the agent.
type Connected struct {
	SessionID string
	TargetID  string
	Info      protocol.TargetInfo
}

// Registry maps live session ids to their attached targets. Entries exist
// exactly between the agent's attach and detach reports; losing the agent
// clears the registry wholesale.
type Registry struct {
	mu        sync.RWMutex
	bySession map[string]Connected
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		bySession: make(map[string]Connected),
	}
}

// Add inserts or overwrites the entry for sessionID.
func (r *Registry) Add(sessionID, targetID string, info protocol.TargetInfo) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bySession[sessionID] = Connected{
		SessionID: sessionID,
		TargetID:  targetID,
		Info:      info,
	}
}

// Remove deletes the entry for sessionID if present. Removing an unknown
// session is a no-op.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.bySession, sessionID)
}

// BySession returns the target attached under sessionID.
func (r *Registry) BySession(sessionID string) (Connected, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.bySession[sessionID]
	return t, ok
}

// ByTargetID returns the first target whose target id matches. Linear scan;
// concurrent target counts are small.
func (r *Registry) ByTargetID(targetID string) (Connected, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, t := range r.bySession {
		if t.TargetID == targetID {
			return t, true
		}
	}
	return Connected{}, false
}

// All returns a snapshot of the current targets in arbitrary order.
func (r *Registry) All() []Connected {
	r.mu.RLock()
	defer r.mu.RUnlock()

	targets := make([]Connected, 0, len(r.bySession))
	for _, t := range r.bySession {
		targets = append(targets, t)
	}
	return targets
}

// Len returns the number of attached targets.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.bySession)
}

// Clear empties the registry. Called when the agent connection is lost.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bySession = make(map[string]Connected)
}
