package channel

import (
	"sync"
	"time"
)

// TypingIdleWindow is how long after the last keystroke the stop-typing
// signal fires.
const TypingIdleWindow = time.Second

// TypingEmitter debounces local typing activity: the first keystroke of a
// burst emits typing=true immediately, and typing=false fires once the
// idle window elapses with no further keystrokes. Every keystroke resets
// the idle timer, so a burst produces exactly one stop signal.
type TypingEmitter struct {
	mu     sync.Mutex
	idle   time.Duration
	emit   func(active bool)
	timer  *time.Timer
	active bool
}

// NewTypingEmitter creates an emitter with the given idle window.
func NewTypingEmitter(idle time.Duration, emit func(active bool)) *TypingEmitter {
	if idle <= 0 {
		idle = TypingIdleWindow
	}
	return &TypingEmitter{idle: idle, emit: emit}
}

// Keystroke records one local keystroke.
func (e *TypingEmitter) Keystroke() {
	e.mu.Lock()
	first := !e.active
	e.active = true
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(e.idle, e.idleElapsed)
	e.mu.Unlock()

	if first {
		e.emit(true)
	}
}

// Cancel drops any scheduled stop signal without emitting. Used on screen
// unmount, where the connection is going away anyway.
func (e *TypingEmitter) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	e.active = false
}

func (e *TypingEmitter) idleElapsed() {
	e.mu.Lock()
	wasActive := e.active
	e.active = false
	e.timer = nil
	e.mu.Unlock()

	if wasActive {
		e.emit(false)
	}
}

// TypingState tracks the counterpart's typing indicator idempotently:
// duplicate or out-of-order set calls have no additional effect.
type TypingState struct {
	mu     sync.Mutex
	active bool
}

// Set updates the indicator and reports whether the value changed.
func (s *TypingState) Set(active bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == active {
		return false
	}
	s.active = active
	return true
}

// Active returns the current indicator value.
func (s *TypingState) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}
