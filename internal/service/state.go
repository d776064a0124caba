package service

// State of a supervised process.
type State int

const (
	Pending State = iota
	Running
	Stopping
	Exited
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	case Exited:
		return "Exited"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

var stateTransitionMap = map[State][]State{
	Pending:  {Running},
	Running:  {Stopping, Exited, Failed},
	Stopping: {Exited, Failed},
	Exited:   {},
	Failed:   {},
}

// CanTransition reports whether the state machine allows moving from s to dst.
func (s State) CanTransition(dst State) bool {
	for _, st := range stateTransitionMap[s] {
		if st == dst {
			return true
		}
	}
	return false
}

func (s State) Terminal() bool {
	return s == Exited || s == Failed
}
