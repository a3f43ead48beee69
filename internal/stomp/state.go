package stomp

// State is a Conn lifecycle state.
//
//	Idle -> Connecting -> Connected -> Disconnecting -> Closed
//	Connecting|Connected -> Failed (terminal)
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
	StateClosed
	StateFailed
)

var stateNames = []string{"idle", "connecting", "connected", "disconnecting", "closed", "failed"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}
