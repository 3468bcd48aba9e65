package client

import (
	gosync "sync"
	"time"
)

// SurfaceConfig configures one surface.
type SurfaceConfig struct {
	// Windows bounds the echo-suppression heuristics.
	Windows Windows

	// DebounceInterval is the idle window for batching local edits.
	DebounceInterval time.Duration

	// RetryTick is how often a blocked push re-checks the latch.
	RetryTick time.Duration

	// Push delivers local text to the host.
	Push func(text string)

	// Render displays inbound text on the surface.
	Render func(text string)
}

// Surface is the per-surface client runtime: it owns the echo guard and
// the sync scheduler. Local edits debounce into pushes; inbound updates
// either render or are suppressed as echo.
type Surface struct {
	id    string
	guard *EchoGuard
	sched *Scheduler

	render func(string)

	mu   gosync.Mutex
	text string
}

// NewSurface creates a surface runtime.
func NewSurface(id string, cfg SurfaceConfig, opts ...GuardOption) *Surface {
	s := &Surface{
		id:     id,
		guard:  NewEchoGuard(cfg.Windows, opts...),
		render: cfg.Render,
	}

	push := func(text string) {
		// Hash goes on record before the bytes leave, so the broadcast
		// echo cannot outrun it.
		s.guard.NoteSent(text)
		if cfg.Push != nil {
			cfg.Push(text)
		}
	}
	s.sched = NewScheduler(cfg.DebounceInterval, cfg.RetryTick, push)
	return s
}

// ID returns the surface identifier.
func (s *Surface) ID() string { return s.id }

// Edit records a local edit: the surface's copy updates immediately and a
// debounced push is (re)armed.
func (s *Surface) Edit(text string) {
	s.mu.Lock()
	s.text = text
	s.mu.Unlock()

	s.guard.NoteLocalEdit()
	s.sched.NoteEdit(text)
}

// HandleUpdate processes an inbound update from the host. Echoes of this
// surface's own edits are dropped; external content renders and replaces
// the local copy. Returns true when the update rendered.
func (s *Surface) HandleUpdate(text string) bool {
	if !s.guard.ShouldRender(text) {
		return false
	}

	s.mu.Lock()
	s.text = text
	s.mu.Unlock()

	if s.render != nil {
		s.render(text)
	}
	return true
}

// Save flushes any pending debounced push first, in order, then invokes
// the host save request. While the side-effect latch is raised the save
// waits behind the deferred push, so the host never persists text a
// substitution is about to rewrite.
func (s *Surface) Save(save func()) {
	s.sched.FlushThen(save)
}

// BeginSideEffect raises the backpressure latch while an in-flight side
// effect is about to mutate this surface's text.
func (s *Surface) BeginSideEffect() { s.sched.BeginSideEffect() }

// EndSideEffect lowers the latch.
func (s *Surface) EndSideEffect() { s.sched.EndSideEffect() }

// Text returns the surface's current local copy.
func (s *Surface) Text() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.text
}

// Close releases the surface's timers.
func (s *Surface) Close() {
	s.sched.Close()
}
