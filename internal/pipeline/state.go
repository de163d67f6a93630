package pipeline

// State is a pipeline invocation's position.
type State int

// Pipeline states.
const (
	Idle State = iota
	Capturing
	Submitting
	Parsing
	Calibrating
	Degrading
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Capturing:
		return "capturing"
	case Submitting:
		return "submitting"
	case Parsing:
		return "parsing"
	case Calibrating:
		return "calibrating"
	case Degrading:
		return "degrading"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// allowed lists legal transitions.
var allowed = map[State][]State{
	Idle:        {Capturing},
	Capturing:   {Submitting, Degrading},
	Submitting:  {Parsing, Degrading},
	Parsing:     {Calibrating, Degrading},
	Calibrating: {Done},
	Degrading:   {Done},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to State) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Observer receives invocation progress. Calls may arrive from more than one
// goroutine; the busy indicator can be cleared by a timer.
type Observer interface {
	StateChanged(id string, from, to State)
	BusyChanged(id string, busy bool)
}
