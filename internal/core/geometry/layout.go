package geometry

import (
	"fmt"
	"sort"
)

type KeyRegion struct {
	Name string
	Code uint16
	// ShiftedCode is emitted instead of Code while the modifier is held.
	// Zero means the key has no shifted variant.
	ShiftedCode uint16
	Bounds      Rect
}

// Resolve returns the code to emit for the key given the modifier state.
func (k KeyRegion) Resolve(modifier bool) uint16 {
	if modifier && k.ShiftedCode != 0 {
		return k.ShiftedCode
	}
	return k.Code
}

// Layout is an ordered list of key regions. Lookups return the first match.
type Layout struct {
	Regions []KeyRegion
}

func (l *Layout) Find(x, y int32) (int, bool) {
	for i := range l.Regions {
		if l.Regions[i].Bounds.Contains(x, y) {
			return i, true
		}
	}
	return -1, false
}

// Codes lists every code the layout can emit, sorted and deduplicated.
func (l *Layout) Codes() []uint16 {
	seen := make(map[uint16]struct{}, len(l.Regions)*2)
	for _, region := range l.Regions {
		seen[region.Code] = struct{}{}
		if region.ShiftedCode != 0 {
			seen[region.ShiftedCode] = struct{}{}
		}
	}
	codes := make([]uint16, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}

// KeySpec is one layout row in surface millimetres.
type KeySpec struct {
	Name        string
	Code        uint16
	ShiftedName string
	ShiftedCode uint16
	Rect        RectMM
}

func BuildLayout(hw HWConfig, specs []KeySpec) (*Layout, error) {
	layout := &Layout{Regions: make([]KeyRegion, 0, len(specs))}
	for i, spec := range specs {
		if spec.Rect.Width <= 0 || spec.Rect.Height <= 0 {
			return nil, fmt.Errorf("key %d (%s): size must be positive", i, spec.Name)
		}
		bounds, err := hw.ToDevice(spec.Rect)
		if err != nil {
			return nil, fmt.Errorf("key %d (%s): %w", i, spec.Name, err)
		}
		layout.Regions = append(layout.Regions, KeyRegion{
			Name:        spec.Name,
			Code:        spec.Code,
			ShiftedCode: spec.ShiftedCode,
			Bounds:      bounds,
		})
	}
	return layout, nil
}
