//go:build !linux

package main

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"touchkbd/internal/core/haptic"
	"touchkbd/internal/core/input"
)

var errUnsupported = fmt.Errorf("touch keyboard is only supported on linux")

func parseKeyCode(value string) (uint16, error) {
	return 0, fmt.Errorf("unsupported platform: cannot resolve %q", value)
}

func formatCodeName(code uint16) string {
	return fmt.Sprintf("%d", code)
}

func parseBackendChoice(value string) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(value))
	if backend == "" || backend == "auto" {
		return "auto", nil
	}
	return "", fmt.Errorf("invalid --backend %q (unsupported platform)", value)
}

func resolveDevicePath(string) (string, error) {
	return "", errUnsupported
}

func openTouchSource(string, *slog.Logger) (input.Source, error) {
	return nil, errUnsupported
}

func newKeyboardSink(string, string, []uint16, *slog.Logger) (input.Sink, error) {
	return nil, errUnsupported
}

func newTouchpadSink(string, string, int32, int32, bool, []uint16, *slog.Logger) (input.Sink, error) {
	return nil, errUnsupported
}

func openActuator(string, *slog.Logger) (haptic.Actuator, error) {
	return nil, errUnsupported
}

func listInputDevices(io.Writer) error {
	return fmt.Errorf("input device listing is not supported on this platform")
}

func permissionDeniedHint() string {
	return "Permission denied opening input devices."
}
