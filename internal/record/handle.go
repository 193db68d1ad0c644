package record

import "time"

// State is the churn state of a published record.
type State int

const (
	// Available means the last probe found at least one storing node.
	Available State = iota
	// Churned means the last probe found no storing node.
	Churned
)

func (s State) String() string {
	switch s {
	case Available:
		return "available"
	case Churned:
		return "churned"
	default:
		return "unknown"
	}
}

// NotObserved is the LastObservedNodeCount of a record that was never probed.
const NotObserved = -1

// Handle is the monitor's view of one published record.
//
// Handles are owned by a single goroutine at a time (the engine's
// coordinator); they carry no locking of their own.
type Handle struct {
	Key         PublicKey
	PublishedAt time.Time

	State     State
	ChurnedAt time.Time // zero unless State == Churned

	LastObservedNodeCount int

	// ChurnReported is set once the record's churn event has been written.
	// It is never cleared, so each record produces at most one event.
	ChurnReported bool
}

// NewHandle returns an available, never observed handle.
func NewHandle(key PublicKey, publishedAt time.Time) *Handle {
	return &Handle{
		Key:                   key,
		PublishedAt:           publishedAt,
		State:                 Available,
		LastObservedNodeCount: NotObserved,
	}
}

// NewHandles builds one handle per key, all published at the same instant.
func NewHandles(keys []PublicKey, publishedAt time.Time) []*Handle {
	out := make([]*Handle, len(keys))
	for i, k := range keys {
		out[i] = NewHandle(k, publishedAt)
	}
	return out
}

// Observed reports whether the record has been probed at least once.
func (h *Handle) Observed() bool {
	return h.LastObservedNodeCount != NotObserved
}

// IsChurned reports whether the record is currently churned.
func (h *Handle) IsChurned() bool {
	return h.State == Churned
}

// MarkChurned moves the handle to Churned at the given instant. It returns
// true when a churn event must be emitted: the first transition in the
// handle's lifetime. Marking an already churned handle is a no-op.
func (h *Handle) MarkChurned(at time.Time) bool {
	if h.State == Churned {
		return false
	}
	h.State = Churned
	h.ChurnedAt = at
	if h.ChurnReported {
		return false
	}
	h.ChurnReported = true
	return true
}

// MarkAvailable clears the churn marker after a recovery.
func (h *Handle) MarkAvailable() {
	h.State = Available
	h.ChurnedAt = time.Time{}
}

// ChurnDelay is how long after publication the record churned.
// It is zero for handles that are not churned.
func (h *Handle) ChurnDelay() time.Duration {
	if h.State != Churned {
		return 0
	}
	return h.ChurnedAt.Sub(h.PublishedAt)
}
