package client

import (
	"time"

	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/sync"
)

// Action is what a surface should do with an inbound update.
type Action int

const (
	// ActionRender means the update is genuinely external content.
	ActionRender Action = iota

	// ActionSuppress means the update merely reflects this surface's own
	// just-sent edit, or raced with an in-flight keystroke.
	ActionSuppress
)

// String returns the action name.
func (a Action) String() string {
	if a == ActionSuppress {
		return "suppress"
	}
	return "render"
}

// EchoState is the per-surface record used to recognize self-echo.
// It is a plain value; all transitions are pure functions so the
// suppression logic is testable without timers or surfaces.
type EchoState struct {
	// SentHash is the content hash of the most recent self-authored push.
	SentHash sync.ContentHash

	// SentAt is when that push was issued.
	SentAt time.Time

	// EditedAt is when the user last edited locally.
	EditedAt time.Time
}

// Windows bounds the suppression heuristics. Both windows are short fixed
// durations so genuinely external changes are never permanently ignored.
type Windows struct {
	// Grace is how long a self-authored hash suppresses a matching inbound
	// update.
	Grace time.Duration

	// Recency is how long after a local keystroke any inbound update is
	// held back, guarding against races with in-flight edits.
	Recency time.Duration
}

// DefaultWindows returns the tuned defaults. These are UX heuristics, not
// correctness constants; configuration may override them.
func DefaultWindows() Windows {
	return Windows{
		Grace:   2 * time.Second,
		Recency: time.Second,
	}
}

// NoteLocalEdit records a local edit at the given time.
func NoteLocalEdit(s EchoState, now time.Time) EchoState {
	s.EditedAt = now
	return s
}

// NoteSent records a self-authored push of content with the given hash.
func NoteSent(s EchoState, hash sync.ContentHash, now time.Time) EchoState {
	s.SentHash = hash
	s.SentAt = now
	return s
}

// OnInbound decides what to do with an inbound update carrying the given
// content hash, returning the next state and the action to take.
func OnInbound(s EchoState, hash sync.ContentHash, now time.Time, w Windows) (EchoState, Action) {
	if !s.SentAt.IsZero() && hash == s.SentHash && now.Sub(s.SentAt) <= w.Grace {
		return s, ActionSuppress
	}
	if !s.EditedAt.IsZero() && now.Sub(s.EditedAt) <= w.Recency {
		return s, ActionSuppress
	}
	return s, ActionRender
}
