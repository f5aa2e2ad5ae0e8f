package client

// State is the lifecycle state of a Manager.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
	Reconnecting
	// Failed is terminal; build a new Manager to try again.
	Failed
)

var stateNames = [...]string{
	Disconnected: "disconnected",
	Connecting:   "connecting",
	Connected:    "connected",
	Reconnecting: "reconnecting",
	Failed:       "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
