// Package session implements the conversation session engine: the
// correlation registry, the per-exchange state machine, and the actor loop
// that applies agent events to the timeline.
package session

// Registry holds the mutable current-state cells every asynchronous
// callback must consult at the moment it runs, never at the moment it was
// registered. A suspended handler may resume after the user has switched
// workspaces; re-reading these cells before mutating shared state is the
// central correctness mechanism of the engine.
//
// The registry is owned by the engine loop; all reads and writes happen on
// that single logical thread.
type Registry struct {
	SessionID      string
	ConversationID string
	WorkspacePath  string

	Pending    *Exchange
	Sending    bool
	Cancelling bool
	Compacting bool
	Mounted    bool
}

// Matches reports whether an event tagged with sessionID belongs to the
// currently active session. Events failing this gate are stale and must be
// discarded without touching any state.
func (r *Registry) Matches(sessionID string) bool {
	return r.Mounted && sessionID != "" && sessionID == r.SessionID
}

// Activate installs a new session identity triple, replacing the previous
// one. Any in-flight exchange belonging to the old triple is abandoned; its
// events will fail the Matches gate from now on.
func (r *Registry) Activate(sessionID, conversationID, workspacePath string) {
	r.SessionID = sessionID
	r.ConversationID = conversationID
	r.WorkspacePath = workspacePath
	r.Mounted = true
	r.Compacting = false
	r.ClearPending()
}

// Deactivate clears the registry when the workspace is closed.
func (r *Registry) Deactivate() {
	r.SessionID = ""
	r.ConversationID = ""
	r.WorkspacePath = ""
	r.Mounted = false
	r.Compacting = false
	r.ClearPending()
}

// ClearPending destroys the pending exchange and resets the transfer flags.
func (r *Registry) ClearPending() {
	r.Pending = nil
	r.Sending = false
	r.Cancelling = false
}

// PendingAssistantID returns the pre-generated id of the in-progress
// assistant reply, or "" when no exchange is in flight.
func (r *Registry) PendingAssistantID() string {
	if r.Pending == nil {
		return ""
	}
	return r.Pending.AssistantMessageID
}
