package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

const childStopGrace = 2 * time.Second

// childArgs rewrites the command line for a single-mode child process.
func childArgs(args []string, mode string) []string {
	out := make([]string, 0, len(args)+2)
	for i := 0; i < len(args); i++ {
		name, hasValue := flagName(args[i])
		switch name {
		case "mode":
			if !hasValue && i+1 < len(args) {
				i++
			}
			continue
		case "ui", "watch":
			if mode != modeKeyboard || name == "ui" {
				continue
			}
		}
		out = append(out, args[i])
	}
	return append(out, "--mode", mode)
}

func flagName(arg string) (string, bool) {
	if !strings.HasPrefix(arg, "-") {
		return "", false
	}
	name := strings.TrimLeft(arg, "-")
	if idx := strings.IndexByte(name, '='); idx >= 0 {
		return name[:idx], true
	}
	return name, false
}

type childResult struct {
	mode string
	err  error
}

// supervise runs one child process per mode and stops the rest as soon as
// any of them exits.
func supervise(ctx context.Context, args []string, logger *slog.Logger, modes ...string) error {
	if len(modes) == 0 {
		modes = []string{modeKeyboard, modeTouchpad}
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan childResult, len(modes))
	started := 0
	for _, mode := range modes {
		cmd := exec.CommandContext(ctx, exe, childArgs(args, mode)...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		cmd.Cancel = func() error {
			return cmd.Process.Signal(syscall.SIGTERM)
		}
		cmd.WaitDelay = childStopGrace

		if err := cmd.Start(); err != nil {
			cancel()
			drainChildren(results, started)
			return fmt.Errorf("start %s process: %w", mode, err)
		}
		started++
		logger.Info("Started process", "mode", mode, "pid", cmd.Process.Pid)

		go func(mode string) {
			results <- childResult{mode: mode, err: cmd.Wait()}
		}(mode)
	}

	first := <-results
	parentDone := ctx.Err() != nil
	cancel()
	drainChildren(results, started-1)

	if parentDone {
		logger.Info("Stopped")
		return nil
	}
	if first.err != nil {
		return fmt.Errorf("%s process exited: %w", first.mode, first.err)
	}
	logger.Warn("Process exited, stopping the rest", "mode", first.mode)
	return nil
}

func drainChildren(results <-chan childResult, n int) {
	for i := 0; i < n; i++ {
		<-results
	}
}
