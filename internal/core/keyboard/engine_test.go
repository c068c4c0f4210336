package keyboard

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"touchkbd/internal/core/geometry"
	"touchkbd/internal/core/input"
	"touchkbd/internal/core/input/inputtest"
	"touchkbd/internal/core/mtstate"
)

const (
	codeA     uint16 = 30
	codeB     uint16 = 48
	codeSpace uint16 = 57
	codeOne   uint16 = 2
	codeF1    uint16 = 59
	codeFn    uint16 = 0x1d0
)

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

type recordingLogger struct {
	mu     sync.Mutex
	warns  []string
	errors []string
}

func (l *recordingLogger) Debug(string, ...any) {}
func (l *recordingLogger) Info(string, ...any)  {}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

type recordingHaptics struct {
	touches [][2]int32
}

func (h *recordingHaptics) FingerDown(x, y int32) {
	h.touches = append(h.touches, [2]int32{x, y})
}

func testLayout() *geometry.Layout {
	return &geometry.Layout{Regions: []geometry.KeyRegion{
		{Name: "a", Code: codeA, Bounds: geometry.Rect{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}},
		{Name: "b", Code: codeB, Bounds: geometry.Rect{MinX: 101, MinY: 0, MaxX: 200, MaxY: 100}},
		{Name: "space", Code: codeSpace, Bounds: geometry.Rect{MinX: 0, MinY: 101, MaxX: 200, MaxY: 200}},
		{Name: "fn", Code: codeFn, Bounds: geometry.Rect{MinX: 201, MinY: 0, MaxX: 300, MaxY: 100}},
		{Name: "1", Code: codeOne, ShiftedCode: codeF1, Bounds: geometry.Rect{MinX: 201, MinY: 101, MaxX: 300, MaxY: 200}},
	}}
}

func testConfig() Config {
	return Config{
		Layout:         testLayout(),
		EventDelay:     DefaultEventDelay,
		ModifierCode:   codeFn,
		SpaceCode:      codeSpace,
		MinTapPressure: DefaultMinTapPressure,
		MaxTapPressure: DefaultMaxTapPressure,
		MinTapDiameter: DefaultMinTapDiameter,
		MaxTapDiameter: DefaultMaxTapDiameter,
	}
}

func newTestEngine(t *testing.T, cfg Config, logger input.Logger) (*Engine, *inputtest.Recorder) {
	t.Helper()
	sink := inputtest.NewRecorder(cfg.Layout.Codes()...)
	engine, err := NewEngine(cfg, sink, logger)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return engine, sink
}

var t0 = time.Unix(1_700_000_000, 0)

func at(ms int) time.Time {
	return t0.Add(time.Duration(ms) * time.Millisecond)
}

func touch(x, y, pressure int32) mtstate.Finger {
	return mtstate.Finger{X: x, Y: y, Pressure: pressure, TouchMajor: mtstate.Missing}
}

func key(code uint16, down bool) input.Event {
	return input.KeyEvent(code, down)
}

func assertEvents(t *testing.T, got []input.Event, want ...input.Event) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("got %d events %#v, want %d %#v", len(got), got, len(want), want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d = %#v, want %#v (all: %#v)", i, got[i], want[i], got)
		}
	}
}

func TestValidTapEmitsDownAfterDelayAndUpAfterLift(t *testing.T) {
	engine, sink := newTestEngine(t, testConfig(), noopLogger{})

	engine.ProcessSnapshot(at(0), mtstate.Snapshot{1: touch(50, 50, 70)})
	engine.Drain(at(49))
	assertEvents(t, sink.Snapshot())

	engine.Drain(at(50))
	assertEvents(t, sink.Snapshot(), key(codeA, true), input.SynReport())

	engine.ProcessSnapshot(at(80), mtstate.Snapshot{})
	engine.Drain(at(129))
	assertEvents(t, sink.Snapshot(), key(codeA, true), input.SynReport())

	engine.Drain(at(130))
	assertEvents(t, sink.Snapshot(),
		key(codeA, true), input.SynReport(),
		key(codeA, false), input.SynReport(),
	)
	if engine.Pending() != 0 {
		t.Fatalf("expected empty queue, got %d", engine.Pending())
	}
}

func TestHighPressureTapLiftedEarlyEmitsNothing(t *testing.T) {
	engine, sink := newTestEngine(t, testConfig(), noopLogger{})

	engine.ProcessSnapshot(at(0), mtstate.Snapshot{1: touch(50, 50, 70)})
	engine.ProcessSnapshot(at(10), mtstate.Snapshot{1: touch(50, 50, 150)})
	engine.ProcessSnapshot(at(20), mtstate.Snapshot{})
	engine.Drain(at(500))

	assertEvents(t, sink.Snapshot())
	if engine.Pending() != 0 {
		t.Fatalf("expected empty queue, got %d", engine.Pending())
	}
}

func TestHighPressureTapHeldPastDeadlineIsDropped(t *testing.T) {
	engine, sink := newTestEngine(t, testConfig(), noopLogger{})

	engine.ProcessSnapshot(at(0), mtstate.Snapshot{1: touch(50, 50, 150)})
	engine.Drain(at(50))
	engine.ProcessSnapshot(at(60), mtstate.Snapshot{})
	engine.Drain(at(500))

	assertEvents(t, sink.Snapshot())
}

func TestLowPressureTapIsDropped(t *testing.T) {
	engine, sink := newTestEngine(t, testConfig(), noopLogger{})

	engine.ProcessSnapshot(at(0), mtstate.Snapshot{1: touch(50, 50, 20)})
	engine.Drain(at(50))
	engine.ProcessSnapshot(at(60), mtstate.Snapshot{})
	engine.Drain(at(500))

	assertEvents(t, sink.Snapshot())
}

func TestMovedOffKeyBeforeDeadlineCancelsDown(t *testing.T) {
	engine, sink := newTestEngine(t, testConfig(), noopLogger{})

	engine.ProcessSnapshot(at(0), mtstate.Snapshot{1: touch(50, 50, 70)})
	engine.ProcessSnapshot(at(20), mtstate.Snapshot{1: touch(150, 50, 70)})
	if engine.Pending() != 0 {
		t.Fatalf("expected pending down to be removed, got %d", engine.Pending())
	}
	if rec := engine.fingers[1]; rec == nil || rec.status != RejectedMovedOffKey {
		t.Fatalf("expected moved-off-key rejection, got %#v", rec)
	}

	engine.Drain(at(100))
	engine.ProcessSnapshot(at(120), mtstate.Snapshot{1: touch(50, 50, 70)})
	engine.ProcessSnapshot(at(130), mtstate.Snapshot{})
	engine.Drain(at(500))

	assertEvents(t, sink.Snapshot())
}

func TestMovedOffKeyAfterDownSendsUp(t *testing.T) {
	engine, sink := newTestEngine(t, testConfig(), noopLogger{})

	engine.ProcessSnapshot(at(0), mtstate.Snapshot{1: touch(50, 50, 70)})
	engine.Drain(at(50))
	engine.ProcessSnapshot(at(70), mtstate.Snapshot{1: touch(150, 50, 70)})
	engine.Drain(at(119))
	assertEvents(t, sink.Snapshot(), key(codeA, true), input.SynReport())

	engine.Drain(at(120))
	engine.ProcessSnapshot(at(130), mtstate.Snapshot{})
	engine.Drain(at(500))
	assertEvents(t, sink.Snapshot(),
		key(codeA, true), input.SynReport(),
		key(codeA, false), input.SynReport(),
	)
}

func TestTouchdownOffKeyIsIgnored(t *testing.T) {
	haptics := &recordingHaptics{}
	cfg := testConfig()
	cfg.Haptics = haptics
	engine, sink := newTestEngine(t, cfg, noopLogger{})

	engine.ProcessSnapshot(at(0), mtstate.Snapshot{1: touch(500, 500, 70)})
	if engine.Pending() != 0 {
		t.Fatalf("expected no pending events, got %d", engine.Pending())
	}
	if rec := engine.fingers[1]; rec == nil || rec.status != RejectedTouchdownOffKey {
		t.Fatalf("expected touchdown-off-key rejection, got %#v", rec)
	}

	engine.ProcessSnapshot(at(10), mtstate.Snapshot{1: touch(50, 50, 70)})
	engine.ProcessSnapshot(at(20), mtstate.Snapshot{})
	engine.Drain(at(500))

	assertEvents(t, sink.Snapshot())
	if len(engine.fingers) != 0 {
		t.Fatalf("expected finger record to be discarded")
	}
	if len(haptics.touches) != 0 {
		t.Fatalf("expected no haptic feedback off key, got %v", haptics.touches)
	}
}

func TestLiftBeforeDeadlineStillEmitsValidTap(t *testing.T) {
	engine, sink := newTestEngine(t, testConfig(), noopLogger{})

	engine.ProcessSnapshot(at(0), mtstate.Snapshot{1: touch(50, 50, 70)})
	engine.ProcessSnapshot(at(10), mtstate.Snapshot{})
	engine.Drain(at(50))
	assertEvents(t, sink.Snapshot(), key(codeA, true), input.SynReport())

	engine.Drain(at(60))
	assertEvents(t, sink.Snapshot(),
		key(codeA, true), input.SynReport(),
		key(codeA, false), input.SynReport(),
	)
}

func TestDownAndUpDueTogetherShareOneSync(t *testing.T) {
	engine, sink := newTestEngine(t, testConfig(), noopLogger{})

	engine.ProcessSnapshot(at(0), mtstate.Snapshot{1: touch(50, 50, 70)})
	engine.ProcessSnapshot(at(10), mtstate.Snapshot{})
	engine.Drain(at(100))

	assertEvents(t, sink.Snapshot(), key(codeA, true), key(codeA, false), input.SynReport())
}

func TestSpaceIsExemptFromUpperBoundOnly(t *testing.T) {
	engine, sink := newTestEngine(t, testConfig(), noopLogger{})

	engine.ProcessSnapshot(at(0), mtstate.Snapshot{1: touch(50, 150, 400)})
	engine.Drain(at(50))
	assertEvents(t, sink.Snapshot(), key(codeSpace, true), input.SynReport())

	engine.ProcessSnapshot(at(60), mtstate.Snapshot{})
	engine.Drain(at(110))
	sink.Reset()

	engine.ProcessSnapshot(at(200), mtstate.Snapshot{2: touch(50, 150, 10)})
	engine.Drain(at(250))
	engine.ProcessSnapshot(at(260), mtstate.Snapshot{})
	engine.Drain(at(500))
	assertEvents(t, sink.Snapshot())
}

func TestDiameterIsUsedWhenPressureIsNotReported(t *testing.T) {
	engine, sink := newTestEngine(t, testConfig(), noopLogger{})

	engine.ProcessSnapshot(at(0), mtstate.Snapshot{
		1: {X: 50, Y: 50, Pressure: mtstate.Missing, TouchMajor: 500},
		2: {X: 150, Y: 50, Pressure: mtstate.Missing, TouchMajor: 5000},
		3: {X: 150, Y: 50, Pressure: mtstate.Missing, TouchMajor: 100},
	})
	engine.Drain(at(50))

	assertEvents(t, sink.Snapshot(), key(codeA, true), input.SynReport())
}

func TestModifierSelectsShiftedCode(t *testing.T) {
	engine, sink := newTestEngine(t, testConfig(), noopLogger{})

	engine.ProcessSnapshot(at(0), mtstate.Snapshot{1: touch(250, 50, 70)})
	if !engine.ModifierActive() {
		t.Fatalf("expected modifier to be active at detection time")
	}

	engine.ProcessSnapshot(at(5), mtstate.Snapshot{
		1: touch(250, 50, 70),
		2: touch(250, 150, 70),
	})
	engine.Drain(at(60))
	assertEvents(t, sink.Snapshot(), key(codeFn, true), key(codeF1, true), input.SynReport())

	engine.ProcessSnapshot(at(70), mtstate.Snapshot{2: touch(250, 150, 70)})
	if engine.ModifierActive() {
		t.Fatalf("expected modifier to clear when its key lifts")
	}
	engine.ProcessSnapshot(at(80), mtstate.Snapshot{})
	engine.Drain(at(200))
	assertEvents(t, sink.Snapshot(),
		key(codeFn, true), key(codeF1, true), input.SynReport(),
		key(codeFn, false), key(codeF1, false), input.SynReport(),
	)

	sink.Reset()
	engine.ProcessSnapshot(at(300), mtstate.Snapshot{3: touch(250, 150, 70)})
	engine.ProcessSnapshot(at(310), mtstate.Snapshot{})
	engine.Drain(at(500))
	assertEvents(t, sink.Snapshot(), key(codeOne, true), key(codeOne, false), input.SynReport())
}

func TestModifierClearedWhenRejected(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(), noopLogger{})

	engine.ProcessSnapshot(at(0), mtstate.Snapshot{1: touch(250, 50, 70)})
	engine.ProcessSnapshot(at(10), mtstate.Snapshot{1: touch(250, 150, 70)})
	if engine.ModifierActive() {
		t.Fatalf("expected modifier to clear on rejection")
	}
}

func TestModifierClearedWhenInvalidTapLifts(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(), noopLogger{})

	engine.ProcessSnapshot(at(0), mtstate.Snapshot{1: touch(250, 50, 500)})
	engine.Drain(at(50))
	engine.ProcessSnapshot(at(60), mtstate.Snapshot{})
	if engine.ModifierActive() {
		t.Fatalf("expected modifier to clear after invalid tap lifted")
	}
}

func TestReusedTrackingIDGetsFreshRecord(t *testing.T) {
	engine, sink := newTestEngine(t, testConfig(), noopLogger{})

	engine.ProcessSnapshot(at(0), mtstate.Snapshot{1: touch(50, 50, 70)})
	engine.ProcessSnapshot(at(10), mtstate.Snapshot{})
	engine.ProcessSnapshot(at(20), mtstate.Snapshot{1: touch(150, 50, 70)})
	engine.Drain(at(60))
	assertEvents(t, sink.Snapshot(), key(codeA, true), key(codeA, false), input.SynReport())

	engine.Drain(at(70))
	engine.ProcessSnapshot(at(80), mtstate.Snapshot{})
	engine.Drain(at(200))
	assertEvents(t, sink.Snapshot(),
		key(codeA, true), key(codeA, false), input.SynReport(),
		key(codeB, true), input.SynReport(),
		key(codeB, false), input.SynReport(),
	)
}

func TestOrphanedEventIsLoggedAndSkipped(t *testing.T) {
	logger := &recordingLogger{}
	engine, sink := newTestEngine(t, testConfig(), logger)

	engine.queue.push(pendingEvent{code: codeA, down: true, deadline: at(0), tid: 42, finger: 7})
	engine.Drain(at(0))

	assertEvents(t, sink.Snapshot())
	if len(logger.errors) != 1 {
		t.Fatalf("expected one diagnostic, got %v", logger.errors)
	}
}

func TestWriteFailureIsLoggedAndLoopContinues(t *testing.T) {
	logger := &recordingLogger{}
	engine, sink := newTestEngine(t, testConfig(), logger)

	engine.ProcessSnapshot(at(0), mtstate.Snapshot{
		1: touch(50, 50, 70),
		2: touch(150, 50, 70),
	})
	sink.FailNextWrite(errors.New("boom"))
	engine.Drain(at(50))
	assertEvents(t, sink.Snapshot(), key(codeB, true), input.SynReport())
	if len(logger.warns) != 1 {
		t.Fatalf("expected one warning, got %v", logger.warns)
	}

	engine.ProcessSnapshot(at(60), mtstate.Snapshot{})
	engine.Drain(at(500))
	assertEvents(t, sink.Snapshot(),
		key(codeB, true), input.SynReport(),
		key(codeB, false), input.SynReport(),
	)
}

func TestHapticsNotifiedOnKeyLanding(t *testing.T) {
	haptics := &recordingHaptics{}
	cfg := testConfig()
	cfg.Haptics = haptics
	engine, _ := newTestEngine(t, cfg, noopLogger{})

	engine.ProcessSnapshot(at(0), mtstate.Snapshot{1: touch(50, 60, 70)})
	engine.ProcessSnapshot(at(5), mtstate.Snapshot{1: touch(51, 60, 70)})

	if len(haptics.touches) != 1 || haptics.touches[0] != [2]int32{50, 60} {
		t.Fatalf("unexpected haptic notifications: %v", haptics.touches)
	}
}

func TestStopReleasesHeldKeysBeforeClosingSink(t *testing.T) {
	var observed []input.Event
	cfg := testConfig()
	cfg.Observer = func(code uint16, down bool) {
		observed = append(observed, key(code, down))
	}
	engine, sink := newTestEngine(t, cfg, noopLogger{})

	engine.ProcessSnapshot(at(0), mtstate.Snapshot{1: touch(50, 50, 70)})
	engine.Drain(at(50))

	if err := engine.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if !sink.IsClosed() {
		t.Fatalf("expected sink to be closed")
	}
	assertEvents(t, sink.Snapshot(),
		key(codeA, true), input.SynReport(),
		key(codeA, false), input.SynReport(),
	)
	assertEvents(t, observed, key(codeA, true), key(codeA, false))
	if err := engine.Stop(); err != nil {
		t.Fatalf("second Stop() error = %v", err)
	}
}

func TestWaitTimeout(t *testing.T) {
	logger := &recordingLogger{}
	engine, _ := newTestEngine(t, testConfig(), logger)

	if got := engine.waitTimeout(at(0)); got >= 0 {
		t.Fatalf("expected indefinite wait with empty queue, got %v", got)
	}

	engine.ProcessSnapshot(at(0), mtstate.Snapshot{1: touch(50, 50, 70)})
	if got := engine.waitTimeout(at(20)); got != 31*time.Millisecond {
		t.Fatalf("waitTimeout() = %v, want 31ms", got)
	}
	if len(logger.warns) != 0 {
		t.Fatalf("unexpected warnings: %v", logger.warns)
	}

	if got := engine.waitTimeout(at(80)); got != time.Millisecond {
		t.Fatalf("waitTimeout() = %v, want 1ms", got)
	}
	if len(logger.warns) != 1 {
		t.Fatalf("expected missed deadline warning, got %v", logger.warns)
	}
}

func TestNewEngineValidatesConfig(t *testing.T) {
	sink := inputtest.NewRecorder()

	cfg := testConfig()
	cfg.Layout = &geometry.Layout{}
	if _, err := NewEngine(cfg, sink, noopLogger{}); err == nil {
		t.Fatalf("expected error for empty layout")
	}

	cfg = testConfig()
	cfg.MinTapPressure = 200
	if _, err := NewEngine(cfg, sink, noopLogger{}); err == nil {
		t.Fatalf("expected error for empty pressure range")
	}

	if _, err := NewEngine(testConfig(), nil, noopLogger{}); err == nil {
		t.Fatalf("expected error for nil sink")
	}
	if _, err := NewEngine(testConfig(), sink, nil); err == nil {
		t.Fatalf("expected error for nil logger")
	}
}

func TestRunEmitsTapFromSource(t *testing.T) {
	engine, sink := newTestEngine(t, testConfig(), noopLogger{})
	src := inputtest.NewChanSource(64)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- engine.Run(ctx, src)
	}()

	src.Feed(inputtest.Frame(0, 5, 50, 50, 70)...)
	time.Sleep(10 * time.Millisecond)
	src.Feed(inputtest.Lift(0)...)

	want := []input.Event{
		key(codeA, true), input.SynReport(),
		key(codeA, false), input.SynReport(),
	}
	deadline := time.Now().Add(time.Second)
	for len(sink.Snapshot()) < len(want) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
	assertEvents(t, sink.Snapshot(), want...)
}

func TestRunReturnsSourceError(t *testing.T) {
	engine, _ := newTestEngine(t, testConfig(), noopLogger{})
	src := inputtest.NewChanSource(1)
	_ = src.Close()

	err := engine.Run(context.Background(), src)
	if !errors.Is(err, inputtest.ErrClosed) {
		t.Fatalf("Run() error = %v, want ErrClosed", err)
	}
}
