//go:build linux

package linuxinput

import (
	"fmt"
	"os"
	"sort"
	"strings"

	evdev "github.com/holoplot/go-evdev"
)

type DeviceInfo struct {
	Path          string
	Name          string
	IsVirtual     bool
	IsMultitouch  bool
	HasPressure   bool
	ForceFeedback bool
}

// Tags lists the capabilities worth showing next to a device.
func (d DeviceInfo) Tags() []string {
	var tags []string
	if d.IsMultitouch {
		tags = append(tags, "multitouch")
	}
	if d.HasPressure {
		tags = append(tags, "pressure")
	}
	if d.ForceFeedback {
		tags = append(tags, "ff")
	}
	if d.IsVirtual {
		tags = append(tags, "virtual")
	}
	return tags
}

func ListInputDevices() ([]DeviceInfo, error) {
	paths, err := evdev.ListDevicePaths()
	if err != nil {
		return nil, err
	}

	sort.Slice(paths, func(i, j int) bool {
		return paths[i].Path < paths[j].Path
	})

	devices := make([]DeviceInfo, 0, len(paths))
	for _, path := range paths {
		dev, err := openInputDevice(path.Path)
		if err != nil {
			continue
		}
		devices = append(devices, describeDevice(dev, path.Name))
		_ = dev.Close()
	}

	return devices, nil
}

// FindTouchDevice returns the first physical multitouch device.
func FindTouchDevice() (string, error) {
	devices, err := ListInputDevices()
	if err != nil {
		return "", err
	}
	for _, dev := range devices {
		if dev.IsMultitouch && !dev.IsVirtual {
			return dev.Path, nil
		}
	}
	return "", fmt.Errorf("no multitouch input device found; use --list-devices and then pass --device")
}

func describeDevice(dev *evdev.InputDevice, fallbackName string) DeviceInfo {
	name := fallbackName
	if actualName, err := dev.Name(); err == nil && actualName != "" {
		name = actualName
	}
	return DeviceInfo{
		Path:          dev.Path(),
		Name:          name,
		IsVirtual:     deviceIsVirtual(dev, name),
		IsMultitouch:  deviceIsMultitouch(dev),
		HasPressure:   deviceHasAbs(dev, evdev.ABS_MT_PRESSURE),
		ForceFeedback: len(dev.CapableEvents(evdev.EV_FF)) > 0,
	}
}

func openInputDevice(path string) (*evdev.InputDevice, error) {
	return evdev.OpenWithFlags(path, os.O_RDONLY)
}

func deviceHasAbs(device *evdev.InputDevice, code evdev.EvCode) bool {
	for _, c := range device.CapableEvents(evdev.EV_ABS) {
		if c == code {
			return true
		}
	}
	return false
}

func deviceIsMultitouch(device *evdev.InputDevice) bool {
	return deviceHasAbs(device, evdev.ABS_MT_SLOT) &&
		deviceHasAbs(device, evdev.ABS_MT_TRACKING_ID) &&
		deviceHasAbs(device, evdev.ABS_MT_POSITION_X) &&
		deviceHasAbs(device, evdev.ABS_MT_POSITION_Y)
}

func deviceIsVirtual(device *evdev.InputDevice, name string) bool {
	id, err := device.InputID()
	if err == nil && id.BusType == uint16(evdev.BUS_VIRTUAL) {
		return true
	}
	lower := strings.ToLower(name)
	for _, token := range []string{"virtual", "uinput", "touchkbd"} {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}
