package connection

// State is the position of a Manager in its lifecycle:
// Absent → Pending → Established → Closing → Absent.
type State int

const (
	// Absent means no handle exists and no dial is in flight.
	Absent State = iota
	// Pending means a dial, or the connected broadcast that follows it, is
	// in progress.
	Pending
	// Established means a handle is live and every subscriber has seen it.
	Established
	// Closing means the handle is being released.
	Closing
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Pending:
		return "pending"
	case Established:
		return "established"
	case Closing:
		return "closing"
	}
	return "unknown"
}

// transition is shared by every caller that arrives while the manager is
// Pending or Closing. done is closed once err is final.
type transition struct {
	done chan struct{}
	err  error
}

func newTransition() *transition {
	return &transition{done: make(chan struct{})}
}
