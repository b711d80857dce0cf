package interfaces

// LifecycleEvents is how the lifecycle manager notifies the channel
// hub of state-machine transitions. The hub's view of open sessions is
// ephemeral; these calls keep it current, and attach reconciles against
// the manager regardless.
type LifecycleEvents interface {
	// SessionActivated opens the session for live messaging.
	SessionActivated(sessionID string)

	// SessionClosed tears down every connection for the session with a
	// session_closed{reason} notice. Reason is the terminal status.
	SessionClosed(sessionID, reason string)
}
