package domain

import "time"

// Aggregate holds the bookkeeping shared by every aggregate root. Version is the optimistic
// concurrency token checked by the store on save.
type Aggregate struct {
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time

	pending []Event
}

func (a *Aggregate) record(evt Event) {
	a.pending = append(a.pending, evt)
}

// PullEvents hands the pending events to the caller and empties the buffer.
func (a *Aggregate) PullEvents() []Event {
	evts := a.pending
	a.pending = nil
	return evts
}

// PendingEvents returns a copy without draining.
func (a *Aggregate) PendingEvents() []Event {
	out := make([]Event, len(a.pending))
	copy(out, a.pending)
	return out
}

func (a *Aggregate) touch(now time.Time) {
	a.UpdatedAt = now
}
