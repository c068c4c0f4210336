package geometry

type Axis int

const (
	AxisX Axis = iota
	AxisY
)

// Remap translates sensor positions inside a region into the local
// coordinates of a virtual device, undoing the sensor rotation.
type Remap struct {
	Region   Rect
	Rotation Rotation
	InvertX  bool
	InvertY  bool
}

// OutputSize is the extent of the virtual device axes.
func (m Remap) OutputSize() (width, height int32) {
	if m.Rotation.SwapsAxes() {
		return m.Region.Height(), m.Region.Width()
	}
	return m.Region.Width(), m.Region.Height()
}

// Map converts a value on the given sensor axis to the output axis and value.
func (m Remap) Map(axis Axis, value int32) (Axis, int32) {
	w, h := m.Region.Width(), m.Region.Height()

	out := axis
	switch axis {
	case AxisX:
		value -= m.Region.MinX
		switch m.Rotation {
		case Rotate90:
			out = AxisY
		case Rotate180:
			value = w - value
		case Rotate270:
			out = AxisY
			value = w - value
		}
	case AxisY:
		value -= m.Region.MinY
		switch m.Rotation {
		case Rotate90:
			out = AxisX
			value = h - value
		case Rotate180:
			value = h - value
		case Rotate270:
			out = AxisX
		}
	}

	ow, oh := m.OutputSize()
	if out == AxisX && m.InvertX {
		value = ow - value
	}
	if out == AxisY && m.InvertY {
		value = oh - value
	}
	return out, value
}

// HapticAxis projects a sensor position onto the surface x axis so the
// caller can tell which half of the surface was touched.
func HapticAxis(rotation Rotation, surfaceWidth, x, y int32) int32 {
	switch rotation {
	case Rotate90:
		return surfaceWidth - y
	case Rotate180:
		return surfaceWidth - x
	case Rotate270:
		return y
	default:
		return x
	}
}
