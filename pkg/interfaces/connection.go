package interfaces

// Connection is one participant's persistent channel into a session.
// Implementations must serialize writes internally; the hub and router
// call WriteJSON from multiple goroutines.
type Connection interface {
	// WriteJSON sends a JSON-encoded message to the client (thread-safe).
	WriteJSON(v interface{}) error

	// Close tears the transport down and releases resources. Safe to
	// call more than once.
	Close() error

	// GetUserID returns the attached participant's identity.
	GetUserID() string

	// GetRole returns the participant's assigned role.
	GetRole() string

	// GetSessionID returns the session this connection is scoped to.
	GetSessionID() string

	// IsAuthenticated reports whether credentials have been bound.
	IsAuthenticated() bool

	// SetCredentials binds the verified identity, role and session
	// after admission has been revalidated.
	SetCredentials(userID, role, sessionID string) error
}
