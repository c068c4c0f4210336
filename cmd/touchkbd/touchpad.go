package main

import (
	"context"
	"log/slog"

	"touchkbd/internal/config"
	"touchkbd/internal/core/geometry"
	"touchkbd/internal/core/touchpad"
)

func touchpadRemap(cfg *config.Config, hw geometry.HWConfig) (geometry.Remap, error) {
	region, err := hw.ToDevice(cfg.TouchpadRegion())
	if err != nil {
		return geometry.Remap{}, err
	}
	return geometry.Remap{
		Region:   region,
		Rotation: hw.Rotation,
		InvertX:  cfg.Touchpad.InvertX,
		InvertY:  cfg.Touchpad.InvertY,
	}, nil
}

func runTouchpad(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if !cfg.Touchpad.Enabled {
		logger.Info("Touchpad disabled")
		<-ctx.Done()
		return nil
	}

	hw, err := cfg.HW()
	if err != nil {
		return err
	}
	remap, err := touchpadRemap(cfg, hw)
	if err != nil {
		return err
	}
	devicePath, err := resolveDevicePath(cfg.Device)
	if err != nil {
		return err
	}

	src, err := openTouchSource(devicePath, logger)
	if err != nil {
		return err
	}

	width, height := remap.OutputSize()
	sink, err := createTouchpadSink(cfg.Touchpad.DeviceName, devicePath, width, height, remap.Rotation.SwapsAxes(), touchpad.ButtonCodes, logger)
	if err != nil {
		_ = src.Close()
		return err
	}
	router, err := touchpad.NewRouter(touchpad.Config{Remap: remap, SlotCount: cfg.Keyboard.Slots}, sink, logger)
	if err != nil {
		_ = sink.Close()
		_ = src.Close()
		return err
	}

	logger.Info("Touchpad ready", "device", devicePath, "region", remap.Region, "width", width, "height", height)
	runErr := router.Run(ctx, src)
	if err := router.Stop(); err != nil {
		logger.Warn("Failed to close touchpad device", "err", err)
	}
	_ = src.Close()
	return runErr
}
