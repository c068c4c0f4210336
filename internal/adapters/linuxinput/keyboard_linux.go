package linuxinput

import (
	"fmt"
	"sort"

	"touchkbd/internal/core/input"

	evdev "github.com/holoplot/go-evdev"
)

type evdevInjector struct {
	dev *evdev.InputDevice
}

func (e *evdevInjector) WriteEvents(events ...input.Event) error {
	for _, event := range events {
		ev := evdev.InputEvent{
			Type:  evdev.EvType(event.Type),
			Code:  evdev.EvCode(event.Code),
			Value: event.Value,
		}
		if err := e.dev.WriteOne(&ev); err != nil {
			return err
		}
	}
	return nil
}

func (e *evdevInjector) Close() error {
	if e.dev == nil {
		return nil
	}
	return e.dev.Close()
}

// NewKeyboard creates a uinput keyboard able to emit exactly codes. Codes
// must be declared here; the kernel drops keys enabled later.
func NewKeyboard(name string, codes []uint16) (input.Sink, error) {
	if len(codes) == 0 {
		return nil, fmt.Errorf("keyboard has no key codes")
	}

	id := evdev.InputID{
		BusType: uint16(evdev.BUS_USB),
		Vendor:  googleVendorID,
		Product: dummyProductID,
		Version: deviceVersion,
	}
	capabilities := map[evdev.EvType][]evdev.EvCode{
		evdev.EV_KEY: keyCapabilities(codes),
	}

	dev, err := evdev.CreateDevice(name, id, capabilities)
	if err != nil {
		return nil, fmt.Errorf("create keyboard device: %w", err)
	}
	return &evdevInjector{dev: dev}, nil
}

func keyCapabilities(codes []uint16) []evdev.EvCode {
	seen := make(map[evdev.EvCode]struct{}, len(codes))
	out := make([]evdev.EvCode, 0, len(codes))
	for _, code := range codes {
		c := evdev.EvCode(code)
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i] < out[j]
	})
	return out
}
