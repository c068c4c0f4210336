package linuxinput

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/lunixbochs/struc"
	"golang.org/x/sys/unix"
)

const (
	uinputMaxNameSize = 80
	absCnt            = 0x40

	uiSetEvBit   = 0x40045564
	uiSetKeyBit  = 0x40045565
	uiSetAbsBit  = 0x40045567
	uiSetPropBit = 0x4004556e
	uiDevCreate  = 0x5501
	uiDevDestroy = 0x5502
	uiDevSetup   = 0x405c5503
	uiAbsSetup   = 0x401c5504

	eviocgabsBase = 0x80184540
	eviocsff      = 0x40304580

	inputPropPointer   = 0x00
	inputPropButtonpad = 0x02

	ffRumble = 0x50
	ffGain   = 0x60
)

var packOptions = &struc.Options{Order: binary.LittleEndian}

type inputID struct {
	BusType uint16
	Vendor  uint16
	Product uint16
	Version uint16
}

// AbsInfo mirrors struct input_absinfo.
type AbsInfo struct {
	Value      int32
	Minimum    int32
	Maximum    int32
	Fuzz       int32
	Flat       int32
	Resolution int32
}

type uinputUserDev struct {
	Name       [uinputMaxNameSize]byte
	ID         inputID
	EffectsMax uint32
	AbsMax     [absCnt]int32
	AbsMin     [absCnt]int32
	AbsFuzz    [absCnt]int32
	AbsFlat    [absCnt]int32
}

// uinputSetup mirrors struct uinput_setup.
type uinputSetup struct {
	ID         inputID
	Name       [uinputMaxNameSize]byte
	EffectsMax uint32
}

// uinputAbsSetup mirrors struct uinput_abs_setup.
type uinputAbsSetup struct {
	Code uint16
	Pad  uint16
	Info AbsInfo
}

type rawInputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// rumbleEffect is struct ff_effect with the rumble member of the union.
type rumbleEffect struct {
	Type            uint16
	ID              int16
	Direction       uint16
	TriggerButton   uint16
	TriggerInterval uint16
	ReplayLength    uint16
	ReplayDelay     uint16
	Pad             uint16
	StrongMagnitude uint16
	WeakMagnitude   uint16
	Rest            [28]byte
}

func pack(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := struc.PackWithOptions(&buf, v, packOptions); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unpack(data []byte, v any) error {
	return struc.UnpackWithOptions(bytes.NewReader(data), v, packOptions)
}

func ioctlInt(fd int, req uint, value int) error {
	if err := unix.IoctlSetInt(fd, req, value); err != nil {
		return fmt.Errorf("ioctl %#x(%d): %w", req, value, err)
	}
	return nil
}

func ioctlPtr(fd int, req uint, data unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), uintptr(req), uintptr(data))
	if errno != 0 {
		return errno
	}
	return nil
}

func readAbsInfo(fd int, code uint16) (AbsInfo, error) {
	var info AbsInfo
	if err := ioctlPtr(fd, eviocgabsBase+uint(code), unsafe.Pointer(&info)); err != nil {
		return AbsInfo{}, fmt.Errorf("EVIOCGABS(%#x): %w", code, err)
	}
	return info, nil
}

func deviceName(name string) [uinputMaxNameSize]byte {
	var fixed [uinputMaxNameSize]byte
	copy(fixed[:uinputMaxNameSize-1], name)
	return fixed
}

func encodeEvent(typ, code uint16, value int32) ([]byte, error) {
	return pack(&rawInputEvent{Type: typ, Code: code, Value: value})
}
