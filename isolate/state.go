package isolate

// State is the lifecycle position of an isolate.
type State uint8

const (
	StateUninitialized State = iota
	StateBootstrapping
	StateReady
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateBootstrapping:
		return "bootstrapping"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Kind distinguishes the primary context from subordinate (worker) ones.
type Kind uint8

const (
	KindPrimary Kind = iota
	KindSubordinate
)

func (k Kind) String() string {
	if k == KindSubordinate {
		return "subordinate"
	}
	return "primary"
}
