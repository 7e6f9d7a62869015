package schema

// ConnectionState is the lifecycle state of a push connection.
type ConnectionState string

const (
	// StateDisconnected is the initial state, and the terminal state after retry exhaustion.
	StateDisconnected ConnectionState = "disconnected"
	// StateConnecting means a transport is being opened.
	StateConnecting ConnectionState = "connecting"
	// StateConnected means the transport is open and delivering events.
	StateConnected ConnectionState = "connected"
)

func (s ConnectionState) String() string {
	return string(s)
}
