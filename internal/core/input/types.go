package input

import (
	"context"
	"time"
)

const (
	EventTypeSyn uint16 = 0x00
	EventTypeKey uint16 = 0x01
	EventTypeAbs uint16 = 0x03
	EventTypeFF  uint16 = 0x15

	SynReportCode uint16 = 0
)

// Multitouch slot protocol axes.
const (
	AbsX            uint16 = 0x00
	AbsY            uint16 = 0x01
	AbsPressure     uint16 = 0x18
	AbsMTSlot       uint16 = 0x2f
	AbsMTTouchMajor uint16 = 0x30
	AbsMTTouchMinor uint16 = 0x31
	AbsMTPositionX  uint16 = 0x35
	AbsMTPositionY  uint16 = 0x36
	AbsMTTrackingID uint16 = 0x39
	AbsMTPressure   uint16 = 0x3a
)

const (
	BtnToolFinger    uint16 = 0x145
	BtnToolQuintTap  uint16 = 0x148
	BtnTouch         uint16 = 0x14a
	BtnToolDoubleTap uint16 = 0x14d
	BtnToolTripleTap uint16 = 0x14e
	BtnToolQuadTap   uint16 = 0x14f
)

// InvalidTrackingID marks an empty slot.
const InvalidTrackingID int32 = -1

type Event struct {
	Type  uint16
	Code  uint16
	Value int32
}

func KeyEvent(code uint16, down bool) Event {
	var value int32
	if down {
		value = 1
	}
	return Event{Type: EventTypeKey, Code: code, Value: value}
}

func SynReport() Event {
	return Event{Type: EventTypeSyn, Code: SynReportCode}
}

// Source yields raw events from a touch sensor. Next blocks until an event
// arrives, the timeout elapses, or ctx is done. A negative timeout waits
// without bound. ok is false when the timeout elapsed without an event.
type Source interface {
	Next(ctx context.Context, timeout time.Duration) (event Event, ok bool, err error)
	Close() error
}

// Sink receives synthesized events for a virtual device.
type Sink interface {
	WriteEvents(events ...Event) error
	Close() error
}

type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
