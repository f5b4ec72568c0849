package syncer

// State is the controller's load state.
type State int

const (
	// StateIdle accepts LoadMore.
	StateIdle State = iota

	// StateLoading means a LoadMore or Refresh is in flight. Further loads
	// are dropped; resets and selection changes wait for it to settle.
	StateLoading

	// StateExhausted means every partition is exhausted and the queue is
	// empty. Only a reset leaves it.
	StateExhausted
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}
