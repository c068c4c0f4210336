// Package mtstate tracks the Linux multitouch slot protocol.
package mtstate

import (
	"sort"

	"touchkbd/internal/core/input"
)

const DefaultSlotCount = 10

// Missing is reported for fields a slot has never received.
const Missing int32 = -1

type EventKey struct {
	Type uint16
	Code uint16
}

// Slot holds the most recent value of every field written to one hardware
// slot. Values are never cleared: a new contact in the slot inherits fields
// the hardware did not resend.
type Slot struct {
	values map[EventKey]int32
}

func (s *Slot) Value(key EventKey) (int32, bool) {
	v, ok := s.values[key]
	return v, ok
}

// Abs returns the EV_ABS field with the given code, or Missing.
func (s *Slot) Abs(code uint16) int32 {
	if v, ok := s.values[EventKey{Type: input.EventTypeAbs, Code: code}]; ok {
		return v
	}
	return Missing
}

func (s *Slot) TrackingID() int32 {
	return s.Abs(input.AbsMTTrackingID)
}

// Keys returns the fields present in the slot ordered by type and code.
func (s *Slot) Keys() []EventKey {
	keys := make([]EventKey, 0, len(s.values))
	for key := range s.values {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Type != keys[j].Type {
			return keys[i].Type < keys[j].Type
		}
		return keys[i].Code < keys[j].Code
	})
	return keys
}

func (s *Slot) set(key EventKey, value int32) {
	if s.values == nil {
		s.values = make(map[EventKey]int32)
	}
	s.values[key] = value
}

type Finger struct {
	X          int32
	Y          int32
	Pressure   int32
	TouchMajor int32
}

// Snapshot maps tracking ids to the contacts present at a frame boundary.
type Snapshot map[int32]Finger

type Decoder struct {
	slot  int32
	slots []Slot
}

func NewDecoder(slotCount int) *Decoder {
	if slotCount <= 0 {
		slotCount = DefaultSlotCount
	}
	return &Decoder{slots: make([]Slot, slotCount)}
}

// Consume feeds one raw event into the decoder. It returns a snapshot and
// true on SYN_REPORT, and false for every other event.
func (d *Decoder) Consume(event input.Event) (Snapshot, bool) {
	switch {
	case event.Type == input.EventTypeAbs && event.Code == input.AbsMTSlot:
		d.slot = event.Value
	case event.Type == input.EventTypeSyn && event.Code == input.SynReportCode:
		return d.snapshot(), true
	case event.Type == input.EventTypeAbs:
		if d.slot < 0 || int(d.slot) >= len(d.slots) {
			return nil, false
		}
		d.slots[d.slot].set(EventKey{Type: event.Type, Code: event.Code}, event.Value)
	}
	return nil, false
}

func (d *Decoder) snapshot() Snapshot {
	snap := make(Snapshot)
	for i := range d.slots {
		slot := &d.slots[i]
		tid := slot.TrackingID()
		if tid == input.InvalidTrackingID {
			continue
		}
		snap[tid] = Finger{
			X:          slot.Abs(input.AbsMTPositionX),
			Y:          slot.Abs(input.AbsMTPositionY),
			Pressure:   slot.Abs(input.AbsMTPressure),
			TouchMajor: slot.Abs(input.AbsMTTouchMajor),
		}
	}
	return snap
}

func (d *Decoder) SlotCount() int {
	return len(d.slots)
}

// Slot returns a read-only view of slot i.
func (d *Decoder) Slot(i int) *Slot {
	return &d.slots[i]
}

// CurrentSlot is the slot selected by the last ABS_MT_SLOT event.
func (d *Decoder) CurrentSlot() int32 {
	return d.slot
}
