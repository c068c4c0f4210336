// Package inputtest provides in-memory event sources and sinks.
package inputtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"touchkbd/internal/core/input"
)

var ErrClosed = errors.New("inputtest: closed")

// Recorder is a Sink that keeps every written event. When created with
// NewRecorder it also rejects key codes that were not declared up front,
// like a uinput device would.
type Recorder struct {
	mu       sync.Mutex
	events   []input.Event
	closed   bool
	declared map[uint16]struct{}
	failNext error
}

func NewRecorder(declared ...uint16) *Recorder {
	r := &Recorder{declared: make(map[uint16]struct{}, len(declared))}
	for _, code := range declared {
		r.declared[code] = struct{}{}
	}
	return r
}

func (r *Recorder) WriteEvents(events ...input.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if err := r.failNext; err != nil {
		r.failNext = nil
		return err
	}
	for _, event := range events {
		if event.Type != input.EventTypeKey || r.declared == nil {
			continue
		}
		if _, ok := r.declared[event.Code]; !ok {
			return fmt.Errorf("inputtest: key code %d was not declared", event.Code)
		}
	}
	r.events = append(r.events, events...)
	return nil
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// FailNextWrite makes the next WriteEvents call return err.
func (r *Recorder) FailNextWrite(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failNext = err
}

func (r *Recorder) Snapshot() []input.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]input.Event, len(r.events))
	copy(out, r.events)
	return out
}

func (r *Recorder) IsClosed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Reset drops recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// ChanSource is a Source fed from test code.
type ChanSource struct {
	events    chan input.Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewChanSource(buffer int) *ChanSource {
	return &ChanSource{
		events: make(chan input.Event, buffer),
		done:   make(chan struct{}),
	}
}

// Feed queues events for Next. It blocks when the buffer is full.
func (s *ChanSource) Feed(events ...input.Event) {
	for _, event := range events {
		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
}

func (s *ChanSource) Next(ctx context.Context, timeout time.Duration) (input.Event, bool, error) {
	var timerC <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case event := <-s.events:
		return event, true, nil
	case <-timerC:
		return input.Event{}, false, nil
	case <-s.done:
		return input.Event{}, false, ErrClosed
	case <-ctx.Done():
		return input.Event{}, false, ctx.Err()
	}
}

func (s *ChanSource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

// Frame builds the slot protocol events for one contact in slot followed by
// a SYN_REPORT.
func Frame(slot, trackingID, x, y, pressure int32) []input.Event {
	return []input.Event{
		{Type: input.EventTypeAbs, Code: input.AbsMTSlot, Value: slot},
		{Type: input.EventTypeAbs, Code: input.AbsMTTrackingID, Value: trackingID},
		{Type: input.EventTypeAbs, Code: input.AbsMTPositionX, Value: x},
		{Type: input.EventTypeAbs, Code: input.AbsMTPositionY, Value: y},
		{Type: input.EventTypeAbs, Code: input.AbsMTPressure, Value: pressure},
		input.SynReport(),
	}
}

// Lift releases slot and ends the frame.
func Lift(slot int32) []input.Event {
	return []input.Event{
		{Type: input.EventTypeAbs, Code: input.AbsMTSlot, Value: slot},
		{Type: input.EventTypeAbs, Code: input.AbsMTTrackingID, Value: input.InvalidTrackingID},
		input.SynReport(),
	}
}
