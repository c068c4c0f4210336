package linuxinput

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"unsafe"

	"touchkbd/internal/core/input"

	evdev "github.com/holoplot/go-evdev"
	"golang.org/x/sys/unix"
)

const (
	googleVendorID = 0x18d1
	dummyProductID = 0x00ff
	deviceVersion  = 1
	uinputPath     = "/dev/uinput"
)

type TouchpadConfig struct {
	Name string
	// SourcePath is the device whose absolute axes are cloned.
	SourcePath string
	Width      int32
	Height     int32
	// SwapAxes is set when the output X axis is the sensor's Y axis.
	SwapAxes bool
	Buttons  []uint16
}

// Touchpad is a uinput multitouch device written through raw uinput
// ioctls so absolute ranges can be declared.
type Touchpad struct {
	file   *os.File
	mu     sync.Mutex
	closed bool
}

func NewTouchpad(cfg TouchpadConfig, logger input.Logger) (*Touchpad, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("touchpad size %dx%d is empty", cfg.Width, cfg.Height)
	}
	axes, err := sourceAxes(cfg.SourcePath)
	if err != nil {
		return nil, err
	}
	if _, ok := axes[input.AbsMTSlot]; !ok {
		return nil, fmt.Errorf("%s is not a multitouch device", cfg.SourcePath)
	}
	resizeAxes(axes, cfg.Width, cfg.Height, cfg.SwapAxes)

	file, err := os.OpenFile(uinputPath, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0o660)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", uinputPath, err)
	}
	fd := int(file.Fd())

	if err := enableTouchpad(fd, cfg.Buttons, axes); err != nil {
		_ = file.Close()
		return nil, err
	}
	if err := setupTouchpad(fd, cfg.Name, axes, logger); err != nil {
		_ = file.Close()
		return nil, err
	}
	if err := ioctlInt(fd, uiDevCreate, 0); err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("create touchpad device: %w", err)
	}

	logger.Info("Created touchpad device", "name", cfg.Name, "width", cfg.Width, "height", cfg.Height, "axes", len(axes))
	return &Touchpad{file: file}, nil
}

// resizeAxes sets the X/Y ranges to the touchpad size. Resolutions follow
// the sensor axis each output axis is taken from.
func resizeAxes(axes map[uint16]AbsInfo, width, height int32, swap bool) {
	xres, yres := axisResolution(axes, input.AbsMTPositionX, input.AbsX), axisResolution(axes, input.AbsMTPositionY, input.AbsY)
	if swap {
		xres, yres = yres, xres
	}
	for _, code := range []uint16{input.AbsX, input.AbsMTPositionX} {
		if info, ok := axes[code]; ok {
			info.Minimum, info.Maximum, info.Resolution = 0, width, xres
			axes[code] = info
		}
	}
	for _, code := range []uint16{input.AbsY, input.AbsMTPositionY} {
		if info, ok := axes[code]; ok {
			info.Minimum, info.Maximum, info.Resolution = 0, height, yres
			axes[code] = info
		}
	}
}

func axisResolution(axes map[uint16]AbsInfo, codes ...uint16) int32 {
	for _, code := range codes {
		if info, ok := axes[code]; ok && info.Resolution != 0 {
			return info.Resolution
		}
	}
	return 0
}

// sourceAxes reads every absolute axis the source reports along with its
// range.
func sourceAxes(path string) (map[uint16]AbsInfo, error) {
	dev, err := openInputDevice(path)
	if err != nil {
		return nil, fmt.Errorf("open touch source %s: %w", path, err)
	}
	codes := dev.CapableEvents(evdev.EV_ABS)
	_ = dev.Close()

	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open touch source %s: %w", path, err)
	}
	defer unix.Close(fd)

	axes := make(map[uint16]AbsInfo, len(codes))
	for _, code := range codes {
		info, err := readAbsInfo(fd, uint16(code))
		if err != nil {
			return nil, err
		}
		axes[uint16(code)] = info
	}
	return axes, nil
}

func enableTouchpad(fd int, buttons []uint16, axes map[uint16]AbsInfo) error {
	if err := ioctlInt(fd, uiSetEvBit, int(input.EventTypeKey)); err != nil {
		return err
	}
	for _, code := range buttons {
		if err := ioctlInt(fd, uiSetKeyBit, int(code)); err != nil {
			return err
		}
	}
	if err := ioctlInt(fd, uiSetEvBit, int(input.EventTypeAbs)); err != nil {
		return err
	}
	for code := range axes {
		if err := ioctlInt(fd, uiSetAbsBit, int(code)); err != nil {
			return err
		}
	}
	return ioctlInt(fd, uiSetPropBit, inputPropPointer)
}

func setupTouchpad(fd int, name string, axes map[uint16]AbsInfo, logger input.Logger) error {
	id := inputID{BusType: uint16(evdev.BUS_USB), Vendor: googleVendorID, Product: dummyProductID, Version: deviceVersion}

	err := setupModern(fd, name, id, axes)
	if err == nil {
		return nil
	}
	if !errors.Is(err, unix.EINVAL) && !errors.Is(err, unix.ENOTTY) {
		return err
	}

	// Kernels before 4.5 only take the legacy device record.
	logger.Debug("UI_DEV_SETUP unsupported, writing legacy uinput_user_dev", "err", err)
	dev := uinputUserDev{
		Name: deviceName(name),
		ID:   id,
	}
	for code, info := range axes {
		if int(code) >= absCnt {
			continue
		}
		dev.AbsMin[code] = info.Minimum
		dev.AbsMax[code] = info.Maximum
		dev.AbsFuzz[code] = info.Fuzz
		dev.AbsFlat[code] = info.Flat
	}
	data, err := pack(&dev)
	if err != nil {
		return fmt.Errorf("encode uinput device: %w", err)
	}
	if _, err := unix.Write(fd, data); err != nil {
		return fmt.Errorf("write uinput device: %w", err)
	}
	return nil
}

func setupModern(fd int, name string, id inputID, axes map[uint16]AbsInfo) error {
	for code, info := range axes {
		data, err := pack(&uinputAbsSetup{Code: code, Info: info})
		if err != nil {
			return fmt.Errorf("encode abs setup: %w", err)
		}
		if err := ioctlPtr(fd, uiAbsSetup, unsafe.Pointer(&data[0])); err != nil {
			return fmt.Errorf("UI_ABS_SETUP(%#x): %w", code, err)
		}
	}

	data, err := pack(&uinputSetup{ID: id, Name: deviceName(name)})
	if err != nil {
		return fmt.Errorf("encode device setup: %w", err)
	}
	if err := ioctlPtr(fd, uiDevSetup, unsafe.Pointer(&data[0])); err != nil {
		return fmt.Errorf("UI_DEV_SETUP: %w", err)
	}
	return nil
}

func (t *Touchpad) WriteEvents(events ...input.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return os.ErrClosed
	}

	buf := make([]byte, 0, len(events)*24)
	for _, event := range events {
		data, err := encodeEvent(event.Type, event.Code, event.Value)
		if err != nil {
			return err
		}
		buf = append(buf, data...)
	}
	if _, err := t.file.Write(buf); err != nil {
		return fmt.Errorf("write touchpad events: %w", err)
	}
	return nil
}

func (t *Touchpad) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	destroyErr := ioctlInt(int(t.file.Fd()), uiDevDestroy, 0)
	return errors.Join(destroyErr, t.file.Close())
}
