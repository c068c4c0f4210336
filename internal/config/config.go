// Package config loads touchkbd settings, key layouts and sensor geometry.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"touchkbd/internal/core/geometry"
	"touchkbd/internal/core/haptic"
	"touchkbd/internal/core/keyboard"
	"touchkbd/internal/core/mtstate"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	DefaultDevicePath       = "/dev/touch_keyboard"
	DefaultKeyboardName     = "virtual-keyboard"
	DefaultTouchpadName     = "virtual-touchpad"
	DefaultLeftVibrator     = "/dev/left_vibrator"
	DefaultRightVibrator    = "/dev/right_vibrator"
	DefaultLayoutFile       = "layout.csv"
	DefaultHardwareFile     = "touch-hw.csv"
	DefaultModifierKey      = "KEY_FN"
	DefaultSpaceKey         = "KEY_SPACE"
	defaultTouchpadXMinMM   = 68
	defaultTouchpadXMaxMM   = 155
	defaultTouchpadYMinMM   = 98.5
	defaultTouchpadYMaxMM   = 133
	defaultHapticDurationMS = 4
)

type Config struct {
	Device   string         `toml:"device" json:"device" yaml:"device"`
	Layout   string         `toml:"layout" json:"layout" yaml:"layout"`
	Hardware HardwareConfig `toml:"hardware" json:"hardware" yaml:"hardware"`
	Keyboard KeyboardConfig `toml:"keyboard" json:"keyboard" yaml:"keyboard"`
	Touchpad TouchpadConfig `toml:"touchpad" json:"touchpad" yaml:"touchpad"`
	Haptic   HapticConfig   `toml:"haptic" json:"haptic" yaml:"haptic"`
	Logging  LoggingConfig  `toml:"logging" json:"logging" yaml:"logging"`

	// dir resolves relative file references.
	dir string
}

// HardwareConfig describes the sensor. When File is set the geometry is read
// from that CSV and the inline fields are ignored.
type HardwareConfig struct {
	File         string  `toml:"file" json:"file,omitempty" yaml:"file,omitempty"`
	ResolutionX  int     `toml:"resolution_x" json:"resolution_x" yaml:"resolution_x"`
	ResolutionY  int     `toml:"resolution_y" json:"resolution_y" yaml:"resolution_y"`
	WidthMM      float64 `toml:"width_mm" json:"width_mm" yaml:"width_mm"`
	HeightMM     float64 `toml:"height_mm" json:"height_mm" yaml:"height_mm"`
	LeftMarginMM float64 `toml:"left_margin_mm" json:"left_margin_mm" yaml:"left_margin_mm"`
	TopMarginMM  float64 `toml:"top_margin_mm" json:"top_margin_mm" yaml:"top_margin_mm"`
	Rotation     int     `toml:"rotation_cw" json:"rotation_cw" yaml:"rotation_cw"`
}

type KeyboardConfig struct {
	DeviceName     string `toml:"device_name" json:"device_name" yaml:"device_name"`
	Backend        string `toml:"backend" json:"backend" yaml:"backend"`
	EventDelayMS   int    `toml:"event_delay_ms" json:"event_delay_ms" yaml:"event_delay_ms"`
	MinTapPressure int    `toml:"min_tap_pressure" json:"min_tap_pressure" yaml:"min_tap_pressure"`
	MaxTapPressure int    `toml:"max_tap_pressure" json:"max_tap_pressure" yaml:"max_tap_pressure"`
	MinTapDiameter int    `toml:"min_tap_diameter" json:"min_tap_diameter" yaml:"min_tap_diameter"`
	MaxTapDiameter int    `toml:"max_tap_diameter" json:"max_tap_diameter" yaml:"max_tap_diameter"`
	ModifierKey    string `toml:"modifier_key" json:"modifier_key" yaml:"modifier_key"`
	SpaceKey       string `toml:"space_key" json:"space_key" yaml:"space_key"`
	Slots          int    `toml:"slots" json:"slots" yaml:"slots"`
}

type TouchpadConfig struct {
	Enabled    bool    `toml:"enabled" json:"enabled" yaml:"enabled"`
	DeviceName string  `toml:"device_name" json:"device_name" yaml:"device_name"`
	XMinMM     float64 `toml:"x_min_mm" json:"x_min_mm" yaml:"x_min_mm"`
	XMaxMM     float64 `toml:"x_max_mm" json:"x_max_mm" yaml:"x_max_mm"`
	YMinMM     float64 `toml:"y_min_mm" json:"y_min_mm" yaml:"y_min_mm"`
	YMaxMM     float64 `toml:"y_max_mm" json:"y_max_mm" yaml:"y_max_mm"`
	InvertX    bool    `toml:"invert_x" json:"invert_x" yaml:"invert_x"`
	InvertY    bool    `toml:"invert_y" json:"invert_y" yaml:"invert_y"`
}

type HapticConfig struct {
	Enabled    bool    `toml:"enabled" json:"enabled" yaml:"enabled"`
	LeftPath   string  `toml:"left_path" json:"left_path" yaml:"left_path"`
	RightPath  string  `toml:"right_path" json:"right_path" yaml:"right_path"`
	Magnitude  float64 `toml:"magnitude" json:"magnitude" yaml:"magnitude"`
	DurationMS int     `toml:"duration_ms" json:"duration_ms" yaml:"duration_ms"`
}

type LoggingConfig struct {
	Level  string `toml:"level" json:"level" yaml:"level"`
	Format string `toml:"format" json:"format" yaml:"format"`
}

func Default() *Config {
	return &Config{
		Device: DefaultDevicePath,
		Layout: DefaultLayoutFile,
		Hardware: HardwareConfig{
			File: DefaultHardwareFile,
		},
		Keyboard: KeyboardConfig{
			DeviceName:     DefaultKeyboardName,
			Backend:        "uinput",
			EventDelayMS:   int(keyboard.DefaultEventDelay / time.Millisecond),
			MinTapPressure: keyboard.DefaultMinTapPressure,
			MaxTapPressure: keyboard.DefaultMaxTapPressure,
			MinTapDiameter: keyboard.DefaultMinTapDiameter,
			MaxTapDiameter: keyboard.DefaultMaxTapDiameter,
			ModifierKey:    DefaultModifierKey,
			SpaceKey:       DefaultSpaceKey,
			Slots:          mtstate.DefaultSlotCount,
		},
		Touchpad: TouchpadConfig{
			Enabled:    true,
			DeviceName: DefaultTouchpadName,
			XMinMM:     defaultTouchpadXMinMM,
			XMaxMM:     defaultTouchpadXMaxMM,
			YMinMM:     defaultTouchpadYMinMM,
			YMaxMM:     defaultTouchpadYMaxMM,
		},
		Haptic: HapticConfig{
			Enabled:    true,
			LeftPath:   DefaultLeftVibrator,
			RightPath:  DefaultRightVibrator,
			Magnitude:  haptic.DefaultMagnitude,
			DurationMS: defaultHapticDurationMS,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path, applies it over the defaults and validates the result.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	cfg.dir = filepath.Dir(path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := decode(path, data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	default:
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if err := validateSchema(c); err != nil {
		return err
	}
	if c.Keyboard.MinTapPressure > c.Keyboard.MaxTapPressure {
		return fmt.Errorf("keyboard.min_tap_pressure %d exceeds max_tap_pressure %d", c.Keyboard.MinTapPressure, c.Keyboard.MaxTapPressure)
	}
	if c.Keyboard.MinTapDiameter > c.Keyboard.MaxTapDiameter {
		return fmt.Errorf("keyboard.min_tap_diameter %d exceeds max_tap_diameter %d", c.Keyboard.MinTapDiameter, c.Keyboard.MaxTapDiameter)
	}
	if c.Touchpad.XMinMM >= c.Touchpad.XMaxMM || c.Touchpad.YMinMM >= c.Touchpad.YMaxMM {
		return fmt.Errorf("touchpad region is empty")
	}
	return nil
}

// Path resolves a file reference relative to the config file.
func (c *Config) Path(ref string) string {
	if ref == "" || filepath.IsAbs(ref) || c.dir == "" {
		return ref
	}
	return filepath.Join(c.dir, ref)
}

// SetDir sets the directory relative file references resolve against.
func (c *Config) SetDir(dir string) {
	c.dir = dir
}

// LayoutPath is the resolved layout CSV path.
func (c *Config) LayoutPath() string {
	return c.Path(c.Layout)
}

// HW returns the sensor geometry, reading the hardware CSV when configured.
func (c *Config) HW() (geometry.HWConfig, error) {
	if c.Hardware.File != "" {
		return LoadHWConfigCSV(c.Path(c.Hardware.File))
	}
	rotation, err := geometry.ParseRotation(c.Hardware.Rotation)
	if err != nil {
		return geometry.HWConfig{}, err
	}
	hw := geometry.HWConfig{
		ResolutionX:  int32(c.Hardware.ResolutionX),
		ResolutionY:  int32(c.Hardware.ResolutionY),
		WidthMM:      c.Hardware.WidthMM,
		HeightMM:     c.Hardware.HeightMM,
		LeftMarginMM: c.Hardware.LeftMarginMM,
		TopMarginMM:  c.Hardware.TopMarginMM,
		Rotation:     rotation,
	}
	if err := hw.Validate(); err != nil {
		return geometry.HWConfig{}, fmt.Errorf("hardware: %w", err)
	}
	return hw, nil
}

// TouchpadRegion is the touchpad rectangle on the surface.
func (c *Config) TouchpadRegion() geometry.RectMM {
	return geometry.RectMM{
		X:      c.Touchpad.XMinMM,
		Y:      c.Touchpad.YMinMM,
		Width:  c.Touchpad.XMaxMM - c.Touchpad.XMinMM,
		Height: c.Touchpad.YMaxMM - c.Touchpad.YMinMM,
	}
}

func (c *Config) EventDelay() time.Duration {
	return time.Duration(c.Keyboard.EventDelayMS) * time.Millisecond
}

func (c *Config) HapticDuration() time.Duration {
	return time.Duration(c.Haptic.DurationMS) * time.Millisecond
}
