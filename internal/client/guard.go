package client

import (
	gosync "sync"
	"time"

	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/sync"
)

// EchoGuard wraps EchoState with a clock and a lock, giving one surface a
// concrete yes/no on every inbound update.
type EchoGuard struct {
	mu      gosync.Mutex
	state   EchoState
	windows Windows
	now     func() time.Time
}

// GuardOption configures an EchoGuard.
type GuardOption func(*EchoGuard)

// WithGuardClock injects a clock. Tests use this to step time explicitly.
func WithGuardClock(now func() time.Time) GuardOption {
	return func(g *EchoGuard) {
		g.now = now
	}
}

// NewEchoGuard creates an echo guard with the given windows.
func NewEchoGuard(w Windows, opts ...GuardOption) *EchoGuard {
	g := &EchoGuard{
		windows: w,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NoteLocalEdit records that the user just edited locally.
func (g *EchoGuard) NoteLocalEdit() {
	g.mu.Lock()
	g.state = NoteLocalEdit(g.state, g.now())
	g.mu.Unlock()
}

// NoteSent records a self-authored push of the given text.
func (g *EchoGuard) NoteSent(text string) {
	g.mu.Lock()
	g.state = NoteSent(g.state, sync.HashText(text), g.now())
	g.mu.Unlock()
}

// ShouldRender decides whether an inbound update carries genuinely external
// content. Returns false when the update is an echo of this surface's own
// edit or raced with an in-flight keystroke.
func (g *EchoGuard) ShouldRender(incoming string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	var action Action
	g.state, action = OnInbound(g.state, sync.HashText(incoming), g.now(), g.windows)
	return action == ActionRender
}
