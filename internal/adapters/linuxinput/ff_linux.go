package linuxinput

import (
	"errors"
	"fmt"
	"os"
	"time"
	"unsafe"

	"touchkbd/internal/core/input"

	"golang.org/x/sys/unix"
)

const maxDriverInput = 0xffff

// FFDriver drives one force-feedback vibrator.
type FFDriver struct {
	file *os.File
	path string
}

// OpenFFDriver opens a vibrator and sets its gain to the maximum. A failed
// gain write is logged and the driver is still returned.
func OpenFFDriver(path string, logger input.Logger) (*FFDriver, error) {
	file, err := os.OpenFile(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open haptic device %s: %w", path, err)
	}
	d := &FFDriver{file: file, path: path}
	if err := d.write(input.EventTypeFF, ffGain, maxDriverInput); err != nil {
		logger.Warn("Failed to set FF gain", "path", path, "err", err)
	}
	return d, nil
}

// Upload stores a rumble effect and returns its id.
func (d *FFDriver) Upload(magnitude float64, duration time.Duration) (int, error) {
	if magnitude < 0 || magnitude > 1 {
		return -1, fmt.Errorf("magnitude %g out of range [0,1]", magnitude)
	}
	effect := rumbleEffect{
		Type:            ffRumble,
		ID:              -1,
		StrongMagnitude: uint16(magnitude * maxDriverInput),
		ReplayLength:    uint16(duration / time.Millisecond),
	}
	data, err := pack(&effect)
	if err != nil {
		return -1, fmt.Errorf("encode effect: %w", err)
	}
	if err := ioctlPtr(int(d.file.Fd()), eviocsff, unsafe.Pointer(&data[0])); err != nil {
		return -1, fmt.Errorf("upload effect to %s: %w", d.path, err)
	}
	if err := unpack(data, &effect); err != nil {
		return -1, fmt.Errorf("decode effect: %w", err)
	}
	return int(effect.ID), nil
}

func (d *FFDriver) Play(effect int) error {
	if effect < 0 {
		return fmt.Errorf("invalid effect id %d", effect)
	}
	if err := d.write(input.EventTypeFF, uint16(effect), 1); err != nil {
		return fmt.Errorf("play effect on %s: %w", d.path, err)
	}
	return nil
}

func (d *FFDriver) Close() error {
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	if errors.Is(err, os.ErrClosed) {
		return nil
	}
	return err
}

func (d *FFDriver) write(typ, code uint16, value int32) error {
	data, err := encodeEvent(typ, code, value)
	if err != nil {
		return err
	}
	_, err = d.file.Write(data)
	return err
}
