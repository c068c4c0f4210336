package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"touchkbd/internal/config"
)

const (
	modeBoth     = "both"
	modeKeyboard = "keyboard"
	modeTouchpad = "touchpad"
)

type options struct {
	configPath  string
	devicePath  string
	layoutPath  string
	mode        string
	backend     string
	logLevel    string
	logFormat   string
	watch       bool
	ui          bool
	listDevices bool
	writeConfig bool
}

type lineSinkWriter struct {
	sink  func(line string)
	mu    sync.Mutex
	lines bytes.Buffer
}

func (w *lineSinkWriter) Write(p []byte) (int, error) {
	if w.sink == nil {
		return len(p), nil
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	total := len(p)
	for len(p) > 0 {
		idx := bytes.IndexByte(p, '\n')
		if idx == -1 {
			_, _ = w.lines.Write(p)
			break
		}
		_, _ = w.lines.Write(p[:idx])
		line := strings.TrimSpace(w.lines.String())
		w.lines.Reset()
		if line != "" {
			w.sink(line)
		}
		p = p[idx+1:]
	}
	return total, nil
}

// newSlogLogger writes to out, and additionally line by line to sink when
// one is given.
func newSlogLogger(out io.Writer, level slog.Level, format, role string, sink func(line string)) *slog.Logger {
	if sink != nil {
		out = io.MultiWriter(out, &lineSinkWriter{sink: sink})
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler).With("role", role)
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warning", "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid --log-level %q (expected debug|info|warning|error)", value)
	}
}

func parseLogFormat(value string) (string, error) {
	switch format := strings.ToLower(strings.TrimSpace(value)); format {
	case "text", "json":
		return format, nil
	default:
		return "", fmt.Errorf("invalid --log-format %q (expected text|json)", value)
	}
}

func parseMode(value string) (string, error) {
	switch mode := strings.ToLower(strings.TrimSpace(value)); mode {
	case "", modeBoth:
		return modeBoth, nil
	case modeKeyboard, modeTouchpad:
		return mode, nil
	default:
		return "", fmt.Errorf("invalid --mode %q (expected both|keyboard|touchpad)", value)
	}
}

func parseOptions(args []string, stderr io.Writer) (options, error) {
	var opts options
	flags := flag.NewFlagSet("touchkbd", flag.ContinueOnError)
	flags.SetOutput(stderr)

	var modeRaw string
	flags.StringVar(&opts.configPath, "config", config.DefaultPath(), "Settings file (.toml, .yaml or .json). Missing file means defaults.")
	flags.StringVar(&opts.devicePath, "device", "", "Touch sensor event device, e.g. /dev/input/event4, or \"auto\". Overrides the settings file.")
	flags.StringVar(&opts.layoutPath, "layout", "", "Key layout CSV. Overrides the settings file.")
	flags.StringVar(&modeRaw, "mode", modeBoth, "What to run: both|keyboard|touchpad. both starts one process per device.")
	flags.StringVar(&opts.backend, "backend", "", "Keyboard output: auto|uinput|x11. Overrides the settings file.")
	flags.BoolVar(&opts.watch, "watch", false, "Restart the keyboard when the settings or layout file changes.")
	flags.BoolVar(&opts.ui, "ui", false, "Show the layout preview window (keyboard only).")
	flags.BoolVar(&opts.listDevices, "list-devices", false, "Print available input devices and exit.")
	flags.BoolVar(&opts.writeConfig, "write-config", false, "Write the effective settings to --config and exit.")
	flags.StringVar(&opts.logLevel, "log-level", "", "Log verbosity: debug, info, warning, error. Overrides the settings file.")
	flags.StringVar(&opts.logFormat, "log-format", "", "Log format: text or json. Overrides the settings file.")

	if err := flags.Parse(args); err != nil {
		return opts, err
	}
	if flags.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %s", strings.Join(flags.Args(), " "))
	}

	mode, err := parseMode(modeRaw)
	if err != nil {
		return opts, err
	}
	opts.mode = mode
	if opts.logLevel != "" {
		if _, err := parseLogLevel(opts.logLevel); err != nil {
			return opts, err
		}
	}
	if opts.logFormat != "" {
		if _, err := parseLogFormat(opts.logFormat); err != nil {
			return opts, err
		}
	}
	if opts.backend != "" {
		if _, err := parseBackendChoice(opts.backend); err != nil {
			return opts, err
		}
	}
	if opts.ui && opts.mode == modeTouchpad {
		return opts, fmt.Errorf("--ui needs the keyboard; use --mode keyboard or both")
	}
	return opts, nil
}

// loadSettings reads the settings file and applies command line overrides.
func loadSettings(opts options) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return nil, err
	}
	if opts.devicePath != "" {
		cfg.Device = opts.devicePath
	}
	if opts.layoutPath != "" {
		cfg.Layout = opts.layoutPath
	}
	if opts.backend != "" {
		cfg.Keyboard.Backend = opts.backend
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if opts.logFormat != "" {
		cfg.Logging.Format = opts.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isPermissionError(err error) bool {
	return errors.Is(err, os.ErrPermission) || errors.Is(err, syscall.EPERM) || errors.Is(err, syscall.EACCES)
}

func run(args []string, stderr io.Writer) int {
	opts, err := parseOptions(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, err)
		return 2
	}

	if opts.listDevices {
		if err := listInputDevices(os.Stdout); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		return 0
	}

	cfg, err := loadSettings(opts)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	if opts.writeConfig {
		if err := config.Save(opts.configPath, cfg); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		fmt.Fprintln(stderr, "Wrote", opts.configPath)
		return 0
	}

	level, _ := parseLogLevel(cfg.Logging.Level)
	role := opts.mode
	if role == modeBoth {
		role = "supervisor"
	}
	logger := newSlogLogger(stderr, level, cfg.Logging.Format, role, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	switch {
	case opts.ui:
		err = runUI(ctx, opts, cfg, level)
	case opts.mode == modeKeyboard:
		err = runKeyboard(ctx, opts, cfg, logger, nil)
	case opts.mode == modeTouchpad:
		err = runTouchpad(ctx, cfg, logger)
	default:
		err = supervise(ctx, args, logger)
	}
	if err != nil {
		if isPermissionError(err) {
			fmt.Fprintln(stderr, permissionDeniedHint())
			return 1
		}
		fmt.Fprintln(stderr, err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}
