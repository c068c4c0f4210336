package keyboard

import (
	"sort"
	"time"
)

type pendingEvent struct {
	code     uint16
	down     bool
	deadline time.Time
	// tid and finger identify the contact that scheduled the event. finger
	// is unique per contact even when the hardware reuses a tracking id.
	tid        int32
	finger     uint64
	guaranteed bool
}

// pendingQueue keeps events ordered by deadline. Events sharing a deadline
// keep their insertion order.
type pendingQueue struct {
	events []pendingEvent
}

func (q *pendingQueue) push(ev pendingEvent) {
	i := sort.Search(len(q.events), func(i int) bool {
		return q.events[i].deadline.After(ev.deadline)
	})
	q.events = append(q.events, pendingEvent{})
	copy(q.events[i+1:], q.events[i:])
	q.events[i] = ev
}

func (q *pendingQueue) len() int {
	return len(q.events)
}

func (q *pendingQueue) nextDeadline() (time.Time, bool) {
	if len(q.events) == 0 {
		return time.Time{}, false
	}
	return q.events[0].deadline, true
}

// popDue removes and returns the earliest event if its deadline is not
// after now.
func (q *pendingQueue) popDue(now time.Time) (pendingEvent, bool) {
	if len(q.events) == 0 || q.events[0].deadline.After(now) {
		return pendingEvent{}, false
	}
	ev := q.events[0]
	q.events[0] = pendingEvent{}
	q.events = q.events[1:]
	return ev, true
}

// removeFinger drops every event scheduled by the contact.
func (q *pendingQueue) removeFinger(finger uint64) int {
	kept := q.events[:0]
	removed := 0
	for _, ev := range q.events {
		if ev.finger == finger {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	for i := len(kept); i < len(q.events); i++ {
		q.events[i] = pendingEvent{}
	}
	q.events = kept
	return removed
}

func (q *pendingQueue) hasDown(finger uint64) bool {
	for _, ev := range q.events {
		if ev.finger == finger && ev.down {
			return true
		}
	}
	return false
}

// guaranteeDown marks the contact's pending down events as guaranteed.
func (q *pendingQueue) guaranteeDown(finger uint64) bool {
	found := false
	for i := range q.events {
		if q.events[i].finger == finger && q.events[i].down {
			q.events[i].guaranteed = true
			found = true
		}
	}
	return found
}

func (q *pendingQueue) hasGuaranteedUp(finger uint64) bool {
	for _, ev := range q.events {
		if ev.finger == finger && !ev.down && ev.guaranteed {
			return true
		}
	}
	return false
}
