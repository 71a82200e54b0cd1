package whatsapp

// ConnectionState is the lifecycle position of one instance session. Every
// session walks initializing -> awaiting_qr -> authenticated -> ready on the
// happy path; disconnected and failed are terminal and require a fresh
// session to recover.
type ConnectionState string

const (
	StateInitializing  ConnectionState = "initializing"
	StateAwaitingQR    ConnectionState = "awaiting_qr"
	StateAuthenticated ConnectionState = "authenticated"
	StateReady         ConnectionState = "ready"
	StateDisconnected  ConnectionState = "disconnected"
	StateFailed        ConnectionState = "failed"
)

var allowedTransitions = map[ConnectionState][]ConnectionState{
	StateInitializing:  {StateAwaitingQR, StateAuthenticated, StateReady, StateDisconnected, StateFailed},
	StateAwaitingQR:    {StateAuthenticated, StateDisconnected, StateFailed},
	StateAuthenticated: {StateReady, StateDisconnected, StateFailed},
	StateReady:         {StateDisconnected, StateFailed},
	StateDisconnected:  {},
	StateFailed:        {},
}

// IsTerminal reports whether a state admits no further transitions.
func (s ConnectionState) IsTerminal() bool {
	return len(allowedTransitions[s]) == 0
}

// CanTransition reports whether moving from s to next is a legal step.
func (s ConnectionState) CanTransition(next ConnectionState) bool {
	for _, candidate := range allowedTransitions[s] {
		if candidate == next {
			return true
		}
	}
	return false
}

// CanSend reports whether outbound messages are accepted in this state.
func (s ConnectionState) CanSend() bool {
	return s == StateReady
}
