// Package keyboard turns touches on a key layout into key events.
//
// Each contact that lands on a key schedules a key down a short delay after
// arrival. The delay gives the engine time to see the contact's pressure and
// size settle and to notice a contact sliding off the key, in which case the
// pending down is cancelled. A key down that reached the sink is always
// followed by a key up.
package keyboard

import (
	"context"
	"fmt"
	"sort"
	"time"

	"touchkbd/internal/core/geometry"
	"touchkbd/internal/core/input"
	"touchkbd/internal/core/mtstate"
)

const (
	DefaultEventDelay     = 50 * time.Millisecond
	DefaultMinTapPressure = 50
	DefaultMaxTapPressure = 110
	DefaultMinTapDiameter = 300
	DefaultMaxTapDiameter = 3000

	minWait = time.Millisecond
)

// Haptics is notified when a contact lands on a key.
type Haptics interface {
	FingerDown(x, y int32)
}

type Config struct {
	Layout     *geometry.Layout
	SlotCount  int
	EventDelay time.Duration

	// ModifierCode is the key that selects shifted codes while held. Zero
	// disables the modifier.
	ModifierCode uint16
	// SpaceCode keys are exempt from the upper tap threshold.
	SpaceCode uint16

	MinTapPressure int32
	MaxTapPressure int32
	MinTapDiameter int32
	MaxTapDiameter int32

	Haptics Haptics
	// Observer, when set, sees every key event written to the sink.
	Observer func(code uint16, down bool)
	// Now defaults to time.Now.
	Now func() time.Time
}

type Engine struct {
	cfg    Config
	sink   input.Sink
	logger input.Logger
	now    func() time.Time

	decoder  *mtstate.Decoder
	fingers  map[int32]*fingerRecord
	queue    pendingQueue
	modifier bool
	serial   uint64
	// held counts downs that reached the sink without a matching up.
	held map[uint16]int

	stopped bool
}

func NewEngine(cfg Config, sink input.Sink, logger input.Logger) (*Engine, error) {
	if cfg.Layout == nil || len(cfg.Layout.Regions) == 0 {
		return nil, fmt.Errorf("layout has no keys")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}
	if cfg.EventDelay < 0 {
		return nil, fmt.Errorf("event delay must be >= 0")
	}
	if cfg.MinTapPressure > cfg.MaxTapPressure {
		return nil, fmt.Errorf("tap pressure range [%d, %d] is empty", cfg.MinTapPressure, cfg.MaxTapPressure)
	}
	if cfg.MinTapDiameter > cfg.MaxTapDiameter {
		return nil, fmt.Errorf("tap diameter range [%d, %d] is empty", cfg.MinTapDiameter, cfg.MaxTapDiameter)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Engine{
		cfg:     cfg,
		sink:    sink,
		logger:  logger,
		now:     now,
		decoder: mtstate.NewDecoder(cfg.SlotCount),
		fingers: make(map[int32]*fingerRecord),
		held:    make(map[uint16]int),
	}, nil
}

// Run reads raw events from src until ctx is done or src fails. It is the
// only goroutine allowed to touch the engine while it runs.
func (e *Engine) Run(ctx context.Context, src input.Source) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		event, ok, err := src.Next(ctx, e.waitTimeout(e.now()))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read touch source: %w", err)
		}

		now := e.now()
		if ok {
			snap, complete := e.decoder.Consume(event)
			if !complete {
				continue
			}
			e.ProcessSnapshot(now, snap)
		}
		e.Drain(now)
	}
}

// waitTimeout returns how long Run may block before the earliest pending
// event is due, or -1 when nothing is pending.
func (e *Engine) waitTimeout(now time.Time) time.Duration {
	deadline, ok := e.queue.nextDeadline()
	if !ok {
		return -1
	}
	wait := deadline.Sub(now) + minWait
	if wait <= 0 {
		e.logger.Warn("Missed pending key deadline", "late", -wait)
		return minWait
	}
	return wait
}

// NextDeadline reports when the earliest pending event is due.
func (e *Engine) NextDeadline() (time.Time, bool) {
	return e.queue.nextDeadline()
}

// Pending reports the number of scheduled key events.
func (e *Engine) Pending() int {
	return e.queue.len()
}

// ModifierActive reports whether the modifier key is currently held.
func (e *Engine) ModifierActive() bool {
	return e.modifier
}

// ProcessSnapshot updates contact state from one decoded frame and
// schedules key events.
func (e *Engine) ProcessSnapshot(now time.Time, snap mtstate.Snapshot) {
	tids := make([]int32, 0, len(snap))
	for tid := range snap {
		tids = append(tids, tid)
	}
	sort.Slice(tids, func(i, j int) bool { return tids[i] < tids[j] })

	for _, tid := range tids {
		finger := snap[tid]
		rec, ok := e.fingers[tid]
		if !ok {
			e.arrive(now, tid, finger)
			continue
		}
		if rec.rejected() {
			continue
		}
		e.update(now, tid, rec, finger)
	}

	departed := make([]int32, 0)
	for tid := range e.fingers {
		if _, ok := snap[tid]; !ok {
			departed = append(departed, tid)
		}
	}
	sort.Slice(departed, func(i, j int) bool { return departed[i] < departed[j] })
	for _, tid := range departed {
		e.depart(now, tid, e.fingers[tid])
		delete(e.fingers, tid)
	}
}

func (e *Engine) arrive(now time.Time, tid int32, finger mtstate.Finger) {
	e.serial++
	rec := &fingerRecord{
		serial:        e.serial,
		arrived:       now,
		maxPressure:   finger.Pressure,
		maxTouchMajor: finger.TouchMajor,
		region:        -1,
	}
	e.fingers[tid] = rec

	idx, ok := e.cfg.Layout.Find(finger.X, finger.Y)
	if !ok {
		rec.status = RejectedTouchdownOffKey
		e.logger.Debug("Rejected contact", "tid", tid, "reason", rec.status, "x", finger.X, "y", finger.Y)
		return
	}

	region := e.cfg.Layout.Regions[idx]
	rec.region = idx
	rec.code = region.Resolve(e.modifier)
	e.queue.push(pendingEvent{
		code:     rec.code,
		down:     true,
		deadline: now.Add(e.cfg.EventDelay),
		tid:      tid,
		finger:   rec.serial,
	})
	if e.isModifier(rec.code) {
		e.modifier = true
	}
	e.logger.Debug("Contact landed on key", "tid", tid, "key", region.Name, "code", rec.code)

	if e.cfg.Haptics != nil {
		e.cfg.Haptics.FingerDown(finger.X, finger.Y)
	}
}

func (e *Engine) update(now time.Time, tid int32, rec *fingerRecord, finger mtstate.Finger) {
	rec.maxPressure = max(rec.maxPressure, finger.Pressure)
	rec.maxTouchMajor = max(rec.maxTouchMajor, finger.TouchMajor)

	if e.cfg.Layout.Regions[rec.region].Bounds.Contains(finger.X, finger.Y) {
		return
	}

	rec.status = RejectedMovedOffKey
	removed := e.queue.removeFinger(rec.serial)
	e.logger.Debug("Rejected contact", "tid", tid, "reason", rec.status, "cancelled", removed)
	if rec.downSent {
		e.scheduleUp(now, tid, rec)
	}
	if e.isModifier(rec.code) {
		e.modifier = false
	}
}

func (e *Engine) depart(now time.Time, tid int32, rec *fingerRecord) {
	if rec.rejected() {
		return
	}

	if !rec.downSent {
		if !e.queue.hasDown(rec.serial) {
			// The down was dropped as an invalid tap.
			if e.isModifier(rec.code) {
				e.modifier = false
			}
			return
		}
		// Pressure and size can no longer change, so an invalid tap is
		// cancelled here rather than left to fire without its record.
		if !e.tapValid(rec) {
			e.queue.removeFinger(rec.serial)
			e.logger.Debug("Tap rejected on lift", "tid", tid, "pressure", rec.maxPressure, "diameter", rec.maxTouchMajor)
			if e.isModifier(rec.code) {
				e.modifier = false
			}
			return
		}
		e.queue.guaranteeDown(rec.serial)
	}

	if !e.queue.hasGuaranteedUp(rec.serial) {
		e.scheduleUp(now, tid, rec)
	}
	if e.isModifier(rec.code) {
		e.modifier = false
	}
}

func (e *Engine) scheduleUp(now time.Time, tid int32, rec *fingerRecord) {
	e.queue.push(pendingEvent{
		code:       rec.code,
		down:       false,
		deadline:   now.Add(e.cfg.EventDelay),
		tid:        tid,
		finger:     rec.serial,
		guaranteed: true,
	})
}

func (e *Engine) isModifier(code uint16) bool {
	return e.cfg.ModifierCode != 0 && code == e.cfg.ModifierCode
}

func (e *Engine) tapValid(rec *fingerRecord) bool {
	upper := e.cfg.Layout.Regions[rec.region].Code != e.cfg.SpaceCode
	if rec.maxPressure != mtstate.Missing {
		return rec.maxPressure >= e.cfg.MinTapPressure && (!upper || rec.maxPressure <= e.cfg.MaxTapPressure)
	}
	return rec.maxTouchMajor >= e.cfg.MinTapDiameter && (!upper || rec.maxTouchMajor <= e.cfg.MaxTapDiameter)
}

// lookup returns the live record that scheduled ev, if any.
func (e *Engine) lookup(ev pendingEvent) (*fingerRecord, bool) {
	rec, ok := e.fingers[ev.tid]
	if !ok || rec.serial != ev.finger {
		return nil, false
	}
	return rec, true
}

// Drain writes every pending event due at now, earliest first, followed by
// a single SYN_REPORT when anything was written.
func (e *Engine) Drain(now time.Time) {
	emitted := false
	for {
		ev, ok := e.queue.popDue(now)
		if !ok {
			break
		}

		rec, live := e.lookup(ev)
		if ev.down {
			switch {
			case live && !ev.guaranteed:
				if !e.tapValid(rec) {
					e.logger.Debug(
						"Tap rejected",
						"tid", ev.tid,
						"pressure", rec.maxPressure,
						"diameter", rec.maxTouchMajor,
					)
					continue
				}
			case !live && !ev.guaranteed:
				e.logger.Error("Pending key event has no contact", "tid", ev.tid, "code", ev.code, "down", ev.down)
				continue
			}
		}

		if err := e.sink.WriteEvents(input.KeyEvent(ev.code, ev.down)); err != nil {
			e.logger.Warn("Key event write failed", "code", ev.code, "down", ev.down, "err", err)
			continue
		}
		emitted = true
		e.track(ev.code, ev.down)
		if ev.down && live {
			rec.downSent = true
		}
	}

	if emitted {
		if err := e.sink.WriteEvents(input.SynReport()); err != nil {
			e.logger.Warn("Sync write failed", "err", err)
		}
	}
}

func (e *Engine) track(code uint16, down bool) {
	if down {
		e.held[code]++
	} else if e.held[code] > 0 {
		e.held[code]--
		if e.held[code] == 0 {
			delete(e.held, code)
		}
	}
	if e.cfg.Observer != nil {
		e.cfg.Observer(code, down)
	}
}

// Stop releases keys still held on the sink and closes it. It must not be
// called while Run is executing.
func (e *Engine) Stop() error {
	if e.stopped {
		return nil
	}
	e.stopped = true

	codes := make([]uint16, 0, len(e.held))
	for code := range e.held {
		codes = append(codes, code)
	}
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })

	if len(codes) > 0 {
		events := make([]input.Event, 0, len(codes)+1)
		for _, code := range codes {
			events = append(events, input.KeyEvent(code, false))
		}
		events = append(events, input.SynReport())
		if err := e.sink.WriteEvents(events...); err != nil {
			e.logger.Warn("Failed to release held keys", "err", err)
		}
		if e.cfg.Observer != nil {
			for _, code := range codes {
				e.cfg.Observer(code, false)
			}
		}
	}

	e.held = make(map[uint16]int)
	e.queue = pendingQueue{}
	e.fingers = make(map[int32]*fingerRecord)
	e.modifier = false
	return e.sink.Close()
}
