package realtime

// ConnState tracks a websocket connection through its lifecycle. Transitions
// not listed in stateTransitions are programming errors: the gateway logs
// them and closes the connection instead of guessing.
type ConnState int

const (
	StateConnecting ConnState = iota
	StateAuthenticated
	StateSubscribed
	StateActive
	StateReconnecting
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribed:
		return "subscribed"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var stateTransitions = map[ConnState][]ConnState{
	StateConnecting:    {StateAuthenticated, StateClosed},
	StateAuthenticated: {StateSubscribed, StateClosed},
	StateSubscribed:    {StateActive, StateClosed},
	StateActive:        {StateReconnecting, StateClosed},
	StateReconnecting:  {StateActive, StateClosed},
	StateClosed:        nil,
}

func canTransition(from, to ConnState) bool {
	for _, next := range stateTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
