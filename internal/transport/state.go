package transport

// State is the lifecycle position of a transport handle. All transitions go
// through Handle.transition so the reconnect and heartbeat logic stays
// observable in tests without a real socket.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAuthenticated
	StateSubscribed
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
