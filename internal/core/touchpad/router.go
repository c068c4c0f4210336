// Package touchpad relays contacts inside a sub-region of the sensor as a
// separate multitouch touchpad.
package touchpad

import (
	"context"
	"fmt"

	"touchkbd/internal/core/geometry"
	"touchkbd/internal/core/input"
	"touchkbd/internal/core/mtstate"
)

// relayed lists the slot fields copied to the touchpad.
var relayed = map[uint16]struct{}{
	input.AbsMTTrackingID: {},
	input.AbsMTPressure:   {},
	input.AbsMTPositionX:  {},
	input.AbsMTPositionY:  {},
	input.AbsMTTouchMajor: {},
	input.AbsMTTouchMinor: {},
}

// ButtonCodes are the key codes the touchpad reports, in the order they are
// written each frame.
var ButtonCodes = []uint16{
	input.BtnTouch,
	input.BtnToolFinger,
	input.BtnToolDoubleTap,
	input.BtnToolTripleTap,
	input.BtnToolQuadTap,
}

type Config struct {
	Remap     geometry.Remap
	SlotCount int
}

type Router struct {
	remap   geometry.Remap
	sink    input.Sink
	logger  input.Logger
	decoder *mtstate.Decoder

	members []bool
	buttons []bool
	stopped bool
}

func NewRouter(cfg Config, sink input.Sink, logger input.Logger) (*Router, error) {
	if sink == nil {
		return nil, fmt.Errorf("sink is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}
	if cfg.Remap.Region.Width() <= 0 || cfg.Remap.Region.Height() <= 0 {
		return nil, fmt.Errorf("touchpad region %+v is empty", cfg.Remap.Region)
	}

	decoder := mtstate.NewDecoder(cfg.SlotCount)
	return &Router{
		remap:   cfg.Remap,
		sink:    sink,
		logger:  logger,
		decoder: decoder,
		members: make([]bool, decoder.SlotCount()),
		buttons: make([]bool, len(ButtonCodes)),
	}, nil
}

// Run relays frames from src until ctx is done or src fails.
func (r *Router) Run(ctx context.Context, src input.Source) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		event, ok, err := src.Next(ctx, -1)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read touch source: %w", err)
		}
		if !ok {
			continue
		}
		r.HandleEvent(event)
	}
}

// HandleEvent feeds one raw event and writes the touchpad frame when the
// source frame completes.
func (r *Router) HandleEvent(event input.Event) {
	if _, complete := r.decoder.Consume(event); !complete {
		return
	}
	if err := r.sink.WriteEvents(r.Frame()...); err != nil {
		r.logger.Warn("Touchpad frame write failed", "err", err)
	}
}

// Frame builds the touchpad events for the decoder's current slot state.
func (r *Router) Frame() []input.Event {
	var out []input.Event
	count := 0

	for i := range r.members {
		slot := r.decoder.Slot(i)
		x, y := slot.Abs(input.AbsMTPositionX), slot.Abs(input.AbsMTPositionY)
		tid := slot.TrackingID()
		selectSlot := input.Event{Type: input.EventTypeAbs, Code: input.AbsMTSlot, Value: int32(i)}

		// A lifted contact leaves the region even though its stale position
		// may still be inside.
		if tid == input.InvalidTrackingID || !r.remap.Region.Contains(x, y) {
			if r.members[i] {
				out = append(out, selectSlot, abs(input.AbsMTTrackingID, input.InvalidTrackingID))
				r.members[i] = false
			}
			continue
		}

		out = append(out, selectSlot)
		entered := !r.members[i]
		if entered {
			out = append(out, abs(input.AbsMTTrackingID, tid))
			r.members[i] = true
		}
		out = r.relay(out, slot, entered)
		count++
	}

	out = r.appendButtons(out, count)
	return append(out, input.SynReport())
}

func (r *Router) relay(out []input.Event, slot *mtstate.Slot, entered bool) []input.Event {
	for _, key := range slot.Keys() {
		if key.Type != input.EventTypeAbs {
			continue
		}
		if _, ok := relayed[key.Code]; !ok {
			continue
		}
		if key.Code == input.AbsMTTrackingID && entered {
			continue
		}

		value, _ := slot.Value(key)
		code := key.Code
		switch code {
		case input.AbsMTPositionX:
			code, value = r.mapAxis(geometry.AxisX, value)
		case input.AbsMTPositionY:
			code, value = r.mapAxis(geometry.AxisY, value)
		}
		out = append(out, abs(code, value))
	}
	return out
}

func (r *Router) mapAxis(axis geometry.Axis, value int32) (uint16, int32) {
	out, mapped := r.remap.Map(axis, value)
	if out == geometry.AxisX {
		return input.AbsMTPositionX, mapped
	}
	return input.AbsMTPositionY, mapped
}

func (r *Router) appendButtons(out []input.Event, count int) []input.Event {
	want := []bool{count > 0, count == 1, count == 2, count == 3, count == 4}
	for i, code := range ButtonCodes {
		if r.buttons[i] == want[i] {
			continue
		}
		r.buttons[i] = want[i]
		out = append(out, input.KeyEvent(code, want[i]))
	}
	return out
}

// Members reports which slots are currently inside the region.
func (r *Router) Members() []bool {
	out := make([]bool, len(r.members))
	copy(out, r.members)
	return out
}

// Stop lifts every contact still on the touchpad and closes the sink.
func (r *Router) Stop() error {
	if r.stopped {
		return nil
	}
	r.stopped = true

	var out []input.Event
	for i, member := range r.members {
		if !member {
			continue
		}
		out = append(out,
			input.Event{Type: input.EventTypeAbs, Code: input.AbsMTSlot, Value: int32(i)},
			abs(input.AbsMTTrackingID, input.InvalidTrackingID),
		)
		r.members[i] = false
	}
	out = r.appendButtons(out, 0)
	if len(out) > 0 {
		out = append(out, input.SynReport())
		if err := r.sink.WriteEvents(out...); err != nil {
			r.logger.Warn("Failed to lift touchpad contacts", "err", err)
		}
	}
	return r.sink.Close()
}

func abs(code uint16, value int32) input.Event {
	return input.Event{Type: input.EventTypeAbs, Code: code, Value: value}
}
