package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"touchkbd/internal/core/geometry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const hwCSV = `resolution_x, resolution_y, width_mm, height_mm, left_margin_mm, top_margin_mm, rotation_cw
4000, 2000, 200, 100, 5.5, 2, 0
`

var testCodes = map[string]uint16{
	"KEY_A":     30,
	"KEY_B":     48,
	"KEY_FN":    464,
	"KEY_SPACE": 57,
	"KEY_HOME":  102,
}

func testParser(name string) (uint16, error) {
	if code, ok := testCodes[strings.ToUpper(name)]; ok {
		return code, nil
	}
	return 0, fmt.Errorf("unknown key %q", name)
}

func TestLoadHWConfigCSV(t *testing.T) {
	path := writeFile(t, t.TempDir(), "hw.csv", hwCSV)
	hw, err := LoadHWConfigCSV(path)
	require.NoError(t, err)
	assert.Equal(t, geometry.HWConfig{
		ResolutionX:  4000,
		ResolutionY:  2000,
		WidthMM:      200,
		HeightMM:     100,
		LeftMarginMM: 5.5,
		TopMarginMM:  2,
		Rotation:     geometry.Rotate0,
	}, hw)
}

func TestLoadHWConfigCSVErrors(t *testing.T) {
	cases := map[string]string{
		"missing column": "resolution_x,resolution_y\n1,2\n",
		"no row":         strings.SplitN(hwCSV, "\n", 2)[0] + "\n",
		"bad number":     strings.Replace(hwCSV, "4000", "wide", 1),
		"bad rotation":   strings.Replace(hwCSV, ", 0\n", ", 45\n", 1),
		"zero size":      strings.Replace(hwCSV, "200, 100", "0, 100", 1),
		"empty":          "",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "hw.csv", body)
			_, err := LoadHWConfigCSV(path)
			assert.Error(t, err)
		})
	}

	_, err := LoadHWConfigCSV(filepath.Join(t.TempDir(), "absent.csv"))
	assert.Error(t, err)
}

func TestLoadLayoutCSV(t *testing.T) {
	path := writeFile(t, t.TempDir(), "layout.csv", `x,y,width,height,name,code,name_fn,code_fn
# top row
10,10,15,15,KEY_A,30,KEY_HOME,102
25,10,15,15,KEY_B,,,
40,10,15,15,KEY_FN,0,,0
10,25,60,15,KEY_SPACE,KEY_SPACE
`)

	specs, err := LoadLayoutCSV(path, testParser)
	require.NoError(t, err)
	require.Len(t, specs, 4)

	assert.Equal(t, geometry.KeySpec{
		Name:        "KEY_A",
		Code:        30,
		ShiftedName: "KEY_HOME",
		ShiftedCode: 102,
		Rect:        geometry.RectMM{X: 10, Y: 10, Width: 15, Height: 15},
	}, specs[0])
	assert.Equal(t, uint16(48), specs[1].Code)
	assert.Zero(t, specs[1].ShiftedCode)
	assert.Equal(t, uint16(464), specs[2].Code)
	assert.Zero(t, specs[2].ShiftedCode)
	assert.Equal(t, uint16(57), specs[3].Code)
	assert.InDelta(t, 60, specs[3].Rect.Width, 1e-9)
}

func TestLoadLayoutCSVErrors(t *testing.T) {
	header := "x,y,width,height,name,code\n"
	cases := map[string]string{
		"no keys":      header,
		"missing code": "x,y,width,height,name\n1,1,1,1,KEY_A\n",
		"unknown name": header + "1,1,1,1,KEY_NOPE,\n",
		"bad width":    header + "1,1,w,1,KEY_A,30\n",
		"no name":      header + "1,1,1,1,,\n",
		"bad fn":       "x,y,width,height,name,code,name_fn,code_fn\n1,1,1,1,KEY_A,30,KEY_NOPE,\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "layout.csv", body)
			_, err := LoadLayoutCSV(path, testParser)
			assert.Error(t, err)
		})
	}
}

func TestLoadLayoutMapsOntoSensor(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "layout.csv", "x,y,width,height,name,code\n0,0,20,10,KEY_A,30\n")
	hw := geometry.HWConfig{ResolutionX: 2000, ResolutionY: 1000, WidthMM: 200, HeightMM: 100}

	layout, err := LoadLayout(path, hw, testParser)
	require.NoError(t, err)
	require.Len(t, layout.Regions, 1)
	assert.Equal(t, geometry.Rect{MinX: 0, MinY: 0, MaxX: 200, MaxY: 100}, layout.Regions[0].Bounds)
	assert.Equal(t, []uint16{30}, layout.Codes())
}
