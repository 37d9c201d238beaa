package driver

// State is a step of a run. A run moves forward through the states in
// order and never goes back; any fatal error moves it to StateFailed.
type State int

const (
	StateInitializing State = iota
	StatePartitioning
	StateSpawning
	StateAwaiting
	StateAggregating
	StateReporting
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateInitializing: "initializing",
	StatePartitioning: "partitioning-work",
	StateSpawning:     "spawning-workers",
	StateAwaiting:     "awaiting-completion",
	StateAggregating:  "aggregating",
	StateReporting:    "reporting",
	StateDone:         "done",
	StateFailed:       "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
