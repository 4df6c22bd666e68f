package process

// State is the observed run state of the server process.
type State int

const (
	StateUnknown State = iota
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// stateFromExit maps an LSB init script status exit code to a State.
// 1, 2 and 3 all mean "not running"; anything else is not trusted.
func stateFromExit(code int) State {
	switch code {
	case 0:
		return StateRunning
	case 1, 2, 3:
		return StateStopped
	default:
		return StateUnknown
	}
}
