package linuxinput

import (
	"encoding/binary"
	"testing"

	"touchkbd/internal/core/input"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKernelStructSizes(t *testing.T) {
	cases := map[string]struct {
		value any
		size  int
	}{
		"input_event":      {&rawInputEvent{}, 24},
		"uinput_user_dev":  {&uinputUserDev{}, 1116},
		"uinput_setup":     {&uinputSetup{}, 92},
		"uinput_abs_setup": {&uinputAbsSetup{}, 28},
		"ff_effect":        {&rumbleEffect{}, 48},
	}
	for name, tc := range cases {
		data, err := pack(tc.value)
		require.NoError(t, err, name)
		assert.Len(t, data, tc.size, name)
	}
}

func TestEncodeEventLayout(t *testing.T) {
	data, err := encodeEvent(0x03, 0x35, -2)
	require.NoError(t, err)
	require.Len(t, data, 24)
	assert.Equal(t, uint16(0x03), binary.LittleEndian.Uint16(data[16:]))
	assert.Equal(t, uint16(0x35), binary.LittleEndian.Uint16(data[18:]))
	assert.Equal(t, int32(-2), int32(binary.LittleEndian.Uint32(data[20:])))
}

func TestRumbleEffectLayout(t *testing.T) {
	data, err := pack(&rumbleEffect{Type: ffRumble, ID: -1, ReplayLength: 4, StrongMagnitude: 0xffff})
	require.NoError(t, err)
	assert.Equal(t, uint16(ffRumble), binary.LittleEndian.Uint16(data[0:]))
	assert.Equal(t, uint16(0xffff), binary.LittleEndian.Uint16(data[2:]))
	assert.Equal(t, uint16(4), binary.LittleEndian.Uint16(data[10:]))
	assert.Equal(t, uint16(0xffff), binary.LittleEndian.Uint16(data[16:]))

	var decoded rumbleEffect
	binary.LittleEndian.PutUint16(data[2:], 7)
	require.NoError(t, unpack(data, &decoded))
	assert.Equal(t, int16(7), decoded.ID)
}

func TestDeviceNameIsTerminated(t *testing.T) {
	long := make([]byte, 100)
	for i := range long {
		long[i] = 'a'
	}
	name := deviceName(string(long))
	assert.Equal(t, byte(0), name[uinputMaxNameSize-1])
	assert.Equal(t, byte('a'), name[0])
}

func TestKeyCapabilitiesSortsAndDedupes(t *testing.T) {
	got := keyCapabilities([]uint16{57, 30, 57, 2})
	require.Len(t, got, 3)
	assert.EqualValues(t, 2, got[0])
	assert.EqualValues(t, 30, got[1])
	assert.EqualValues(t, 57, got[2])
}

func TestDeviceInfoTags(t *testing.T) {
	info := DeviceInfo{IsMultitouch: true, ForceFeedback: true}
	assert.Equal(t, []string{"multitouch", "ff"}, info.Tags())
	assert.Empty(t, DeviceInfo{}.Tags())
}

func TestResizeAxesFollowsRotatedResolution(t *testing.T) {
	source := func() map[uint16]AbsInfo {
		return map[uint16]AbsInfo{
			input.AbsX:           {Maximum: 4000, Resolution: 20},
			input.AbsY:           {Maximum: 2000, Resolution: 10},
			input.AbsMTPositionX: {Maximum: 4000, Resolution: 20},
			input.AbsMTPositionY: {Maximum: 2000, Resolution: 10},
			input.AbsMTPressure:  {Maximum: 255},
		}
	}

	axes := source()
	resizeAxes(axes, 800, 600, false)
	assert.Equal(t, AbsInfo{Maximum: 800, Resolution: 20}, axes[input.AbsMTPositionX])
	assert.Equal(t, AbsInfo{Maximum: 600, Resolution: 10}, axes[input.AbsMTPositionY])
	assert.Equal(t, AbsInfo{Maximum: 255}, axes[input.AbsMTPressure])

	axes = source()
	resizeAxes(axes, 600, 800, true)
	assert.Equal(t, AbsInfo{Maximum: 600, Resolution: 10}, axes[input.AbsMTPositionX])
	assert.Equal(t, AbsInfo{Maximum: 800, Resolution: 20}, axes[input.AbsMTPositionY])
	assert.Equal(t, AbsInfo{Maximum: 600, Resolution: 10}, axes[input.AbsX])
	assert.Equal(t, AbsInfo{Maximum: 800, Resolution: 20}, axes[input.AbsY])
}
