package client

import (
	gosync "sync"
	"time"
)

// PushFunc delivers the latest local text to the host.
type PushFunc func(text string)

// Scheduler batches rapid local edits into at most one push per idle
// window. N edits collapse to the latest text; last-write-wins is safe
// because the local surface is the sole authority for intra-keystroke
// state.
//
// While a side effect that will itself mutate the text is in flight (an
// image being persisted and its path substituted, for example), fired
// pushes are deferred and re-armed on a short tick instead of sent, so the
// pending substitution is never overwritten. A pending push stays
// cancellable (superseded by a newer edit) until it fires; once the push
// function is invoked it is not.
type Scheduler struct {
	interval  time.Duration
	retryTick time.Duration
	push      PushFunc

	mu          gosync.Mutex
	timer       *time.Timer
	pendingText string
	hasPending  bool
	sideEffects int
	afterPush   []func()
	closed      bool
}

// NewScheduler creates a scheduler. interval is the debounce window;
// retryTick is how often a blocked push re-checks the side-effect latch.
func NewScheduler(interval, retryTick time.Duration, push PushFunc) *Scheduler {
	if interval <= 0 {
		interval = 300 * time.Millisecond
	}
	if retryTick <= 0 {
		retryTick = 50 * time.Millisecond
	}
	return &Scheduler{
		interval:  interval,
		retryTick: retryTick,
		push:      push,
	}
}

// NoteEdit records a local edit, superseding any pending text and
// (re)arming the debounce window.
func (s *Scheduler) NoteEdit(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.pendingText = text
	s.hasPending = true

	if s.timer == nil {
		s.timer = time.AfterFunc(s.interval, s.fire)
	} else {
		s.timer.Reset(s.interval)
	}
}

// Flush pushes any pending text immediately, ahead of an explicit commit
// action. Returns true when a push happened. A raised side-effect latch
// still defers the push, since the latch holder's substitution must land
// first; in that case the retry tick stays armed.
func (s *Scheduler) Flush() bool {
	s.mu.Lock()

	if s.closed || !s.hasPending {
		s.mu.Unlock()
		return false
	}
	if s.sideEffects > 0 {
		s.rearmLocked(s.retryTick)
		s.mu.Unlock()
		return false
	}

	text := s.takePendingLocked()
	followups := s.takeAfterPushLocked()
	s.mu.Unlock()

	s.push(text)
	for _, fn := range followups {
		fn()
	}
	return true
}

// FlushThen runs fn after any pending push has landed. With nothing
// pending, fn runs immediately. While the side-effect latch is raised the
// pending push is deferred and fn is queued behind it, preserving
// push-before-followup order; a save issued mid-substitution waits for the
// substituted text to go out first.
func (s *Scheduler) FlushThen(fn func()) {
	s.mu.Lock()

	if s.closed || !s.hasPending {
		s.mu.Unlock()
		if fn != nil {
			fn()
		}
		return
	}
	if s.sideEffects > 0 {
		if fn != nil {
			s.afterPush = append(s.afterPush, fn)
		}
		s.rearmLocked(s.retryTick)
		s.mu.Unlock()
		return
	}

	text := s.takePendingLocked()
	followups := s.takeAfterPushLocked()
	s.mu.Unlock()

	s.push(text)
	for _, f := range followups {
		f()
	}
	if fn != nil {
		fn()
	}
}

// BeginSideEffect raises the backpressure latch.
func (s *Scheduler) BeginSideEffect() {
	s.mu.Lock()
	s.sideEffects++
	s.mu.Unlock()
}

// EndSideEffect lowers the latch. When the last holder releases and a push
// is pending, the push is re-armed on the retry tick.
func (s *Scheduler) EndSideEffect() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sideEffects > 0 {
		s.sideEffects--
	}
	if s.sideEffects == 0 && s.hasPending && !s.closed {
		s.rearmLocked(s.retryTick)
	}
}

// IsBlocked reports whether the side-effect latch is raised.
func (s *Scheduler) IsBlocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sideEffects > 0
}

// HasPending reports whether a push is waiting to fire.
func (s *Scheduler) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasPending
}

// Close stops the scheduler. Pending text is dropped; the surface still
// holds its own content, so no local edit is lost.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.hasPending = false
	s.afterPush = nil
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// fire runs when the debounce window elapses.
func (s *Scheduler) fire() {
	s.mu.Lock()

	if s.closed || !s.hasPending {
		s.mu.Unlock()
		return
	}
	if s.sideEffects > 0 {
		// Deferred, not dropped: re-check once the tick elapses. Bounded
		// only by the side effect's own completion.
		s.rearmLocked(s.retryTick)
		s.mu.Unlock()
		return
	}

	text := s.takePendingLocked()
	followups := s.takeAfterPushLocked()
	s.mu.Unlock()

	s.push(text)
	for _, fn := range followups {
		fn()
	}
}

// takePendingLocked consumes the pending text. Caller holds the lock.
func (s *Scheduler) takePendingLocked() string {
	text := s.pendingText
	s.hasPending = false
	s.pendingText = ""
	return text
}

// takeAfterPushLocked consumes queued followups. Caller holds the lock.
func (s *Scheduler) takeAfterPushLocked() []func() {
	followups := s.afterPush
	s.afterPush = nil
	return followups
}

// rearmLocked schedules fire after d. Caller holds the lock.
func (s *Scheduler) rearmLocked(d time.Duration) {
	if s.timer == nil {
		s.timer = time.AfterFunc(d, s.fire)
	} else {
		s.timer.Reset(d)
	}
}
