//go:build linux

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"touchkbd/internal/adapters/linuxinput"
	"touchkbd/internal/adapters/x11input"
	"touchkbd/internal/core/haptic"
	"touchkbd/internal/core/input"

	"golang.org/x/sys/unix"
)

func parseKeyCode(value string) (uint16, error) {
	return linuxinput.ParseCode(value)
}

func formatCodeName(code uint16) string {
	return linuxinput.FormatCodeName(code)
}

func parseBackendChoice(value string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(value))
	if backend == "" {
		backend = "auto"
	}
	switch backend {
	case "auto", "uinput", "x11":
		return backend, nil
	default:
		return "", fmt.Errorf("invalid --backend %q (linux supports auto|uinput|x11)", value)
	}
}

// resolveBackend prefers uinput and falls back to XTEST when /dev/uinput is
// not writable inside an X11 session.
func resolveBackend(configured string) string {
	choice, err := parseBackendChoice(configured)
	if err != nil || choice != "auto" {
		return choice
	}
	if unix.Access("/dev/uinput", unix.W_OK) == nil {
		return "uinput"
	}
	if strings.TrimSpace(os.Getenv("DISPLAY")) != "" {
		return "x11"
	}
	return "uinput"
}

func resolveDevicePath(path string) (string, error) {
	if path == "" || path == "auto" {
		return linuxinput.FindTouchDevice()
	}
	return path, nil
}

func openTouchSource(path string, logger *slog.Logger) (input.Source, error) {
	src, err := linuxinput.OpenSource(path, logger)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func newKeyboardSink(backend, name string, codes []uint16, logger *slog.Logger) (input.Sink, error) {
	switch resolveBackend(backend) {
	case "x11":
		logger.Info("Backend", "name", "x11")
		kb, err := x11input.NewKeyboard(codes, logger)
		if err != nil {
			return nil, err
		}
		return kb, nil
	default:
		logger.Info("Backend", "name", "uinput")
		return linuxinput.NewKeyboard(name, codes)
	}
}

func newTouchpadSink(name, sourcePath string, width, height int32, swapAxes bool, buttons []uint16, logger *slog.Logger) (input.Sink, error) {
	pad, err := linuxinput.NewTouchpad(linuxinput.TouchpadConfig{
		Name:       name,
		SourcePath: sourcePath,
		Width:      width,
		Height:     height,
		SwapAxes:   swapAxes,
		Buttons:    buttons,
	}, logger)
	if err != nil {
		return nil, err
	}
	return pad, nil
}

func openActuator(path string, logger *slog.Logger) (haptic.Actuator, error) {
	driver, err := linuxinput.OpenFFDriver(path, logger)
	if err != nil {
		return nil, err
	}
	return driver, nil
}

func listInputDevices(w io.Writer) error {
	devices, err := linuxinput.ListInputDevices()
	if err != nil {
		return err
	}
	for _, dev := range devices {
		tags := dev.Tags()
		if len(tags) == 0 {
			tags = []string{"other"}
		}
		fmt.Fprintf(w, "%s: %s [%s]\n", dev.Path, dev.Name, strings.Join(tags, ", "))
	}
	return nil
}

func permissionDeniedHint() string {
	return "Permission denied opening input devices. Run as root or add udev rules for the touch sensor, /dev/uinput and the vibrators. For X11 output ensure DISPLAY is set."
}
