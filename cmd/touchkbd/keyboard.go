package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"touchkbd/internal/config"
	"touchkbd/internal/core/geometry"
	"touchkbd/internal/core/haptic"
	"touchkbd/internal/core/input"
	"touchkbd/internal/core/keyboard"
)

var errReload = errors.New("settings changed")

// Virtual device constructors; tests swap them out.
var (
	createKeyboardSink = newKeyboardSink
	createTouchpadSink = newTouchpadSink
)

type keyObserver func(code uint16, down bool)

func loadLayout(cfg *config.Config) (geometry.HWConfig, *geometry.Layout, error) {
	hw, err := cfg.HW()
	if err != nil {
		return geometry.HWConfig{}, nil, err
	}
	layout, err := config.LoadLayout(cfg.LayoutPath(), hw, parseKeyCode)
	if err != nil {
		return geometry.HWConfig{}, nil, err
	}
	return hw, layout, nil
}

func optionalKeyCode(name string) (uint16, error) {
	if name == "" {
		return 0, nil
	}
	return parseKeyCode(name)
}

func engineConfig(cfg *config.Config, layout *geometry.Layout) (keyboard.Config, error) {
	modifier, err := optionalKeyCode(cfg.Keyboard.ModifierKey)
	if err != nil {
		return keyboard.Config{}, fmt.Errorf("keyboard.modifier_key: %w", err)
	}
	space, err := optionalKeyCode(cfg.Keyboard.SpaceKey)
	if err != nil {
		return keyboard.Config{}, fmt.Errorf("keyboard.space_key: %w", err)
	}
	return keyboard.Config{
		Layout:         layout,
		SlotCount:      cfg.Keyboard.Slots,
		EventDelay:     cfg.EventDelay(),
		ModifierCode:   modifier,
		SpaceCode:      space,
		MinTapPressure: int32(cfg.Keyboard.MinTapPressure),
		MaxTapPressure: int32(cfg.Keyboard.MaxTapPressure),
		MinTapDiameter: int32(cfg.Keyboard.MinTapDiameter),
		MaxTapDiameter: int32(cfg.Keyboard.MaxTapDiameter),
	}, nil
}

// openHaptics returns nil when feedback is disabled or no motor could be
// opened.
func openHaptics(cfg *config.Config, hw geometry.HWConfig, logger *slog.Logger) *haptic.Manager {
	if !cfg.Haptic.Enabled {
		return nil
	}
	open := func(path string) haptic.Actuator {
		if path == "" {
			return nil
		}
		actuator, err := openActuator(path, logger)
		if err != nil {
			logger.Warn("Haptic motor unavailable", "path", path, "err", err)
			return nil
		}
		return actuator
	}
	left, right := open(cfg.Haptic.LeftPath), open(cfg.Haptic.RightPath)
	if left == nil && right == nil {
		return nil
	}
	return haptic.NewManager(haptic.Config{
		Rotation:     hw.Rotation,
		SurfaceWidth: hw.SurfaceWidth(),
		Magnitude:    cfg.Haptic.Magnitude,
		Duration:     cfg.HapticDuration(),
	}, left, right, logger)
}

// runKeyboard runs the keyboard until ctx is done. With --watch, a change to
// the settings or layout releases held keys and starts over with the new
// settings.
func runKeyboard(ctx context.Context, opts options, cfg *config.Config, logger *slog.Logger, observer keyObserver) error {
	for {
		err := runKeyboardOnce(ctx, opts, cfg, logger, observer)
		if !errors.Is(err, errReload) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}

		next, err := loadSettings(opts)
		if err != nil {
			logger.Error("Reload failed, keeping previous settings", "err", err)
			continue
		}
		cfg = next
		logger.Info("Reloaded settings")
	}
}

func runKeyboardOnce(ctx context.Context, opts options, cfg *config.Config, logger *slog.Logger, observer keyObserver) error {
	hw, layout, err := loadLayout(cfg)
	if err != nil {
		return err
	}
	engineCfg, err := engineConfig(cfg, layout)
	if err != nil {
		return err
	}
	engineCfg.Observer = observer

	devicePath, err := resolveDevicePath(cfg.Device)
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	reloaded := make(chan struct{})
	if opts.watch {
		watched := []string{opts.configPath, cfg.LayoutPath()}
		if cfg.Hardware.File != "" {
			watched = append(watched, cfg.Path(cfg.Hardware.File))
		}
		watcher, err := config.Watch(runCtx, watched...)
		if err != nil {
			return err
		}
		go func() {
			for {
				select {
				case name := <-watcher.Changes():
					logger.Info("File changed", "path", name)
					close(reloaded)
					cancel()
					return
				case err := <-watcher.Errors():
					logger.Warn("Watch error", "err", err)
				case <-watcher.Done():
					return
				}
			}
		}()
	}

	src, err := openTouchSource(devicePath, logger)
	if err != nil {
		return err
	}

	sink, err := createKeyboardSink(cfg.Keyboard.Backend, cfg.Keyboard.DeviceName, layout.Codes(), logger)
	if err != nil {
		_ = src.Close()
		return err
	}

	haptics := openHaptics(cfg, hw, logger)
	if haptics != nil {
		engineCfg.Haptics = haptics
		defer haptics.Close()
	}

	engine, err := keyboard.NewEngine(engineCfg, sink, logger)
	if err != nil {
		_ = sink.Close()
		_ = src.Close()
		return err
	}

	logger.Info("Keyboard ready", "device", devicePath, "keys", len(layout.Regions), "backend", cfg.Keyboard.Backend)
	runErr := engine.Run(runCtx, src)
	return finishKeyboard(engine, src, runErr, reloaded, logger)
}

func finishKeyboard(engine *keyboard.Engine, src input.Source, runErr error, reloaded <-chan struct{}, logger *slog.Logger) error {
	if err := engine.Stop(); err != nil {
		logger.Warn("Failed to close keyboard device", "err", err)
	}
	if err := src.Close(); err != nil {
		logger.Debug("Failed to close touch source", "err", err)
	}
	if runErr != nil {
		return runErr
	}
	select {
	case <-reloaded:
		return errReload
	default:
		return nil
	}
}
