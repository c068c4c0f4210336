// Package haptic plays a short vibration on the motor nearest a key press.
package haptic

import (
	"errors"
	"time"

	"touchkbd/internal/core/geometry"
	"touchkbd/internal/core/input"
)

const (
	DefaultMagnitude = 1.0
	DefaultDuration  = 4 * time.Millisecond
)

// Actuator is one force-feedback motor.
type Actuator interface {
	Upload(magnitude float64, duration time.Duration) (int, error)
	Play(effect int) error
	Close() error
}

type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

type Config struct {
	Rotation geometry.Rotation
	// SurfaceWidth is the sensor extent along the surface x axis.
	SurfaceWidth int32
	Magnitude    float64
	Duration     time.Duration
}

type motor struct {
	actuator Actuator
	effect   int
}

type Manager struct {
	cfg    Config
	logger input.Logger
	motors [2]*motor
}

// NewManager uploads the key press effect to each available motor. A nil
// actuator or a failed upload leaves that side silent.
func NewManager(cfg Config, left, right Actuator, logger input.Logger) *Manager {
	if cfg.Magnitude <= 0 {
		cfg.Magnitude = DefaultMagnitude
	}
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}

	m := &Manager{cfg: cfg, logger: logger}
	for side, actuator := range [2]Actuator{left, right} {
		if actuator == nil {
			logger.Warn("Haptic motor unavailable", "side", Side(side))
			continue
		}
		effect, err := actuator.Upload(cfg.Magnitude, cfg.Duration)
		if err != nil {
			logger.Warn("Haptic effect upload failed", "side", Side(side), "err", err)
			_ = actuator.Close()
			continue
		}
		m.motors[side] = &motor{actuator: actuator, effect: effect}
	}
	return m
}

// SideFor picks the motor for a touch at sensor position (x, y).
func (m *Manager) SideFor(x, y int32) Side {
	val := geometry.HapticAxis(m.cfg.Rotation, m.cfg.SurfaceWidth, x, y)
	if val < m.cfg.SurfaceWidth/2 {
		return Left
	}
	return Right
}

func (m *Manager) FingerDown(x, y int32) {
	side := m.SideFor(x, y)
	mot := m.motors[side]
	if mot == nil {
		return
	}
	if err := mot.actuator.Play(mot.effect); err != nil {
		m.logger.Debug("Haptic playback failed", "side", side, "err", err)
	}
}

func (m *Manager) Close() error {
	var errs []error
	for i, mot := range m.motors {
		if mot == nil {
			continue
		}
		errs = append(errs, mot.actuator.Close())
		m.motors[i] = nil
	}
	return errors.Join(errs...)
}
