package lifecycle

// State is the manager's position in its run cycle.
type State int

const (
	Idle State = iota
	Running
	RefreshPending
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case RefreshPending:
		return "refresh_pending"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
