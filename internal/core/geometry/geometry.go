// Package geometry maps the physical key layout onto sensor coordinates.
//
// Layout and region positions are authored in millimetres relative to the
// visible surface. The sensor reports positions in its own units, possibly
// rotated relative to how the surface is mounted. HWConfig converts between
// the two.
package geometry

import "fmt"

// Rotation is the clockwise mounting rotation of the sensor in degrees.
type Rotation int

const (
	Rotate0   Rotation = 0
	Rotate90  Rotation = 90
	Rotate180 Rotation = 180
	Rotate270 Rotation = 270
)

func ParseRotation(degrees int) (Rotation, error) {
	switch Rotation(degrees) {
	case Rotate0, Rotate90, Rotate180, Rotate270:
		return Rotation(degrees), nil
	default:
		return 0, fmt.Errorf("invalid rotation %d (expected 0|90|180|270)", degrees)
	}
}

// SwapsAxes reports whether the surface x axis runs along the sensor y axis.
func (r Rotation) SwapsAxes() bool {
	return r == Rotate90 || r == Rotate270
}

type HWConfig struct {
	ResolutionX  int32
	ResolutionY  int32
	WidthMM      float64
	HeightMM     float64
	LeftMarginMM float64
	TopMarginMM  float64
	Rotation     Rotation
}

func (h HWConfig) Validate() error {
	if h.ResolutionX <= 0 || h.ResolutionY <= 0 {
		return fmt.Errorf("resolution must be positive, got %dx%d", h.ResolutionX, h.ResolutionY)
	}
	if h.WidthMM <= 0 || h.HeightMM <= 0 {
		return fmt.Errorf("physical size must be positive, got %gx%g mm", h.WidthMM, h.HeightMM)
	}
	if _, err := ParseRotation(int(h.Rotation)); err != nil {
		return err
	}
	return nil
}

func (h HWConfig) pitch() (float64, float64) {
	return float64(h.ResolutionX) / h.WidthMM, float64(h.ResolutionY) / h.HeightMM
}

// SurfaceWidth is the extent of the surface x axis in sensor units.
func (h HWConfig) SurfaceWidth() int32 {
	if h.Rotation.SwapsAxes() {
		return h.ResolutionY
	}
	return h.ResolutionX
}

// RectMM is a rectangle on the surface in millimetres, origin top-left,
// before margins are applied.
type RectMM struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// ToDevice converts a surface rectangle into sensor coordinates.
func (h HWConfig) ToDevice(r RectMM) (Rect, error) {
	px, py := h.pitch()
	l, t := h.LeftMarginMM, h.TopMarginMM
	w, ht := h.WidthMM, h.HeightMM

	var x1, x2, y1, y2 float64
	switch h.Rotation {
	case Rotate0:
		x1 = (l + r.X) * px
		x2 = (l + r.X + r.Width) * px
		y1 = (t + r.Y) * py
		y2 = (t + r.Y + r.Height) * py
	case Rotate90:
		x1 = (t + r.Y) * px
		x2 = (t + r.Y + r.Height) * px
		y1 = (ht - (l + r.X + r.Width)) * py
		y2 = (ht - (l + r.X)) * py
	case Rotate180:
		x1 = (w - (l + r.X + r.Width)) * px
		x2 = (w - (l + r.X)) * px
		y1 = (ht - (t + r.Y + r.Height)) * py
		y2 = (ht - (t + r.Y)) * py
	case Rotate270:
		x1 = (w - (t + r.Y + r.Height)) * px
		x2 = (w - (t + r.Y)) * px
		y1 = (l + r.X) * py
		y2 = (l + r.X + r.Width) * py
	default:
		return Rect{}, fmt.Errorf("invalid rotation %d", h.Rotation)
	}
	return Rect{MinX: int32(x1), MaxX: int32(x2), MinY: int32(y1), MaxY: int32(y2)}, nil
}

// Rect is an axis-aligned rectangle in sensor coordinates. Bounds are
// inclusive.
type Rect struct {
	MinX int32
	MinY int32
	MaxX int32
	MaxY int32
}

func (r Rect) Contains(x, y int32) bool {
	return x >= r.MinX && x <= r.MaxX && y >= r.MinY && y <= r.MaxY
}

func (r Rect) Width() int32  { return r.MaxX - r.MinX }
func (r Rect) Height() int32 { return r.MaxY - r.MinY }
