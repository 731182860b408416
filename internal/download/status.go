package download

// Status is the lifecycle state of a single download. Transitions are
// monotonic: queued -> downloading -> one terminal state. A terminal
// state is never left, and late progress callbacks from a finished
// transfer are dropped.
type Status string

const (
	StatusQueued      Status = "queued"
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
	StatusError       Status = "error"
	StatusNoMatch     Status = "no-match"
	StatusNoAudio     Status = "no-audio"
)

// Terminal reports whether s is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusError, StatusNoMatch, StatusNoAudio:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// statusTracker enforces the monotonic state machine for one item.
type statusTracker struct {
	current Status
}

func newStatusTracker() *statusTracker {
	return &statusTracker{current: StatusQueued}
}

// to attempts the transition to next and reports whether it took effect.
// Once a terminal state is reached every further transition is refused.
func (t *statusTracker) to(next Status) bool {
	if t.current.Terminal() {
		return false
	}
	if t.current == StatusDownloading && next == StatusQueued {
		return false
	}
	t.current = next
	return true
}
