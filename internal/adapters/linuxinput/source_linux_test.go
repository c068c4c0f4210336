package linuxinput

import (
	"context"
	"errors"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"touchkbd/internal/core/input"

	evdev "github.com/holoplot/go-evdev"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type fakeReader struct {
	mu      sync.Mutex
	batches [][]evdev.InputEvent
	final   error
	closed  bool
}

func (r *fakeReader) ReadSlice(int) ([]evdev.InputEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, syscall.EBADF
	}
	if len(r.batches) > 0 {
		batch := r.batches[0]
		r.batches = r.batches[1:]
		return batch, nil
	}
	if r.final != nil {
		return nil, r.final
	}
	return nil, syscall.EAGAIN
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func absEvent(code evdev.EvCode, value int32) evdev.InputEvent {
	return evdev.InputEvent{Type: evdev.EV_ABS, Code: code, Value: value}
}

func TestSourceDeliversEventsInOrder(t *testing.T) {
	reader := &fakeReader{batches: [][]evdev.InputEvent{
		{absEvent(evdev.ABS_MT_SLOT, 0), absEvent(evdev.ABS_MT_TRACKING_ID, 4)},
		{{Type: evdev.EV_SYN, Code: evdev.SYN_REPORT}},
	}}
	src := newSource("/dev/fake", reader, noopLogger{})
	defer src.Close()

	want := []input.Event{
		{Type: input.EventTypeAbs, Code: input.AbsMTSlot, Value: 0},
		{Type: input.EventTypeAbs, Code: input.AbsMTTrackingID, Value: 4},
		input.SynReport(),
	}
	for _, w := range want {
		got, ok, err := src.Next(context.Background(), time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, w, got)
	}
}

func TestSourceTimeout(t *testing.T) {
	src := newSource("/dev/fake", &fakeReader{}, noopLogger{})
	defer src.Close()

	start := time.Now()
	_, ok, err := src.Next(context.Background(), 20*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestSourceHonorsContext(t *testing.T) {
	src := newSource("/dev/fake", &fakeReader{}, noopLogger{})
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, ok, err := src.Next(ctx, -1)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSourceReportsDisappearingDevice(t *testing.T) {
	reader := &fakeReader{
		batches: [][]evdev.InputEvent{{absEvent(evdev.ABS_MT_SLOT, 1)}},
		final:   syscall.ENODEV,
	}
	src := newSource("/dev/fake", reader, noopLogger{})
	defer src.Close()

	event, ok, err := src.Next(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int32(1), event.Value)

	_, ok, err = src.Next(context.Background(), time.Second)
	assert.False(t, ok)
	assert.ErrorIs(t, err, syscall.ENODEV)
}

func TestSourceCloseStopsReader(t *testing.T) {
	reader := &fakeReader{}
	src := newSource("/dev/fake", reader, noopLogger{})

	done := make(chan error, 1)
	go func() {
		_, _, err := src.Next(context.Background(), -1)
		done <- err
	}()

	require.NoError(t, src.Close())
	select {
	case err := <-done:
		assert.True(t, errors.Is(err, os.ErrClosed))
	case <-time.After(time.Second):
		t.Fatal("Next did not return after Close")
	}
	require.NoError(t, src.Close())
}
