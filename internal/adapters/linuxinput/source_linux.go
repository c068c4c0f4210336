package linuxinput

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"syscall"
	"time"

	"touchkbd/internal/core/input"

	evdev "github.com/holoplot/go-evdev"
)

const sourceBuffer = 256

type eventReader interface {
	ReadSlice(count int) ([]evdev.InputEvent, error)
	Close() error
}

// Source reads raw events from an evdev device. A reader goroutine owns
// the device; Next hands its events to the caller's loop.
type Source struct {
	path   string
	reader eventReader
	logger input.Logger

	events chan input.Event
	errs   chan error

	stopCh   chan struct{}
	stopOnce sync.Once
	readerWG sync.WaitGroup
}

// OpenSource opens path without grabbing it, so the keyboard and touchpad
// processes can both read the same device.
func OpenSource(path string, logger input.Logger) (*Source, error) {
	dev, err := evdev.OpenWithFlags(path, os.O_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("open touch source %s: %w", path, err)
	}
	if !deviceIsMultitouch(dev) {
		_ = dev.Close()
		return nil, fmt.Errorf("%s does not report multitouch slots", path)
	}
	if err := dev.NonBlock(); err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("failed to set nonblocking mode for %s: %w", path, err)
	}
	name, _ := dev.Name()
	logger.Info("Opened touch source", "path", path, "name", name)
	return newSource(path, dev, logger), nil
}

func newSource(path string, reader eventReader, logger input.Logger) *Source {
	s := &Source{
		path:   path,
		reader: reader,
		logger: logger,
		events: make(chan input.Event, sourceBuffer),
		errs:   make(chan error, 1),
		stopCh: make(chan struct{}),
	}
	s.readerWG.Add(1)
	go s.readLoop()
	return s
}

// Next waits up to timeout for an event. A negative timeout waits
// indefinitely. ok is false when the timeout elapsed.
func (s *Source) Next(ctx context.Context, timeout time.Duration) (input.Event, bool, error) {
	select {
	case event := <-s.events:
		return event, true, nil
	default:
	}

	var timerC <-chan time.Time
	if timeout >= 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timerC = timer.C
	}

	select {
	case event := <-s.events:
		return event, true, nil
	case err := <-s.errs:
		select {
		case event := <-s.events:
			s.errs <- err
			return event, true, nil
		default:
		}
		return input.Event{}, false, err
	case <-timerC:
		return input.Event{}, false, nil
	case <-s.stopCh:
		return input.Event{}, false, os.ErrClosed
	case <-ctx.Done():
		return input.Event{}, false, ctx.Err()
	}
}

func (s *Source) Close() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.stopCh)
		err = s.reader.Close()
		s.readerWG.Wait()
	})
	return err
}

func (s *Source) readLoop() {
	defer s.readerWG.Done()

	for {
		events, err := s.reader.ReadSlice(64)
		if err != nil {
			if s.stopped() {
				return
			}
			if isDeviceClosedError(err) {
				s.fail(fmt.Errorf("touch source %s disappeared: %w", s.path, err))
				return
			}
			if isWouldBlockError(err) {
				if !s.sleepWithStop(2 * time.Millisecond) {
					return
				}
				continue
			}
			s.logger.Warn("Read failed", "path", s.path, "err", err)
			if !s.sleepWithStop(100 * time.Millisecond) {
				return
			}
			continue
		}

		for _, event := range events {
			select {
			case s.events <- input.Event{
				Type:  uint16(event.Type),
				Code:  uint16(event.Code),
				Value: event.Value,
			}:
			case <-s.stopCh:
				return
			}
		}
	}
}

func (s *Source) fail(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

func (s *Source) stopped() bool {
	select {
	case <-s.stopCh:
		return true
	default:
		return false
	}
}

func (s *Source) sleepWithStop(duration time.Duration) bool {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-s.stopCh:
		return false
	case <-timer.C:
		return true
	}
}

func isDeviceClosedError(err error) bool {
	return errors.Is(err, syscall.EBADF) || errors.Is(err, syscall.ENODEV) || errors.Is(err, os.ErrClosed)
}

func isWouldBlockError(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}
