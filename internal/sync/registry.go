package sync

import (
	"errors"
	"fmt"
	gosync "sync"

	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/document"
	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/logging"
)

// Registry errors.
var (
	// ErrSurfaceRegistered indicates a surface is already tracked for a document.
	ErrSurfaceRegistered = errors.New("surface already registered")

	// ErrSurfaceNotFound indicates a surface is not tracked for a document.
	ErrSurfaceNotFound = errors.New("surface not registered")
)

// SurfaceID identifies one open rendering view. Many surfaces may share one
// document identity (split panes).
type SurfaceID string

// Sender pushes content to one surface. Implementations belong to the
// transport layer; the registry only decides whether a push should happen.
type Sender interface {
	Send(id document.Identity, text string) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(id document.Identity, text string) error

// Send calls the function.
func (f SenderFunc) Send(id document.Identity, text string) error {
	return f(id, text)
}

type surfaceKey struct {
	doc     document.Identity
	surface SurfaceID
}

// Registry tracks every open rendering surface per document together with
// the last content pushed to each. Identical content is never re-pushed to
// the same surface except through ForceUpdate (the explicit "ready" path).
type Registry struct {
	log *logging.Logger

	mu       gosync.RWMutex
	surfaces map[document.Identity]map[SurfaceID]Sender
	lastSent map[surfaceKey]string
}

// NewRegistry creates an empty surface registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		log:      log.WithComponent("registry"),
		surfaces: make(map[document.Identity]map[SurfaceID]Sender),
		lastSent: make(map[surfaceKey]string),
	}
}

// Register starts tracking a surface for a document. Nothing is pushed;
// content flows on the first update or an explicit ready.
func (r *Registry) Register(doc document.Identity, surface SurfaceID, sender Sender) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	byDoc, ok := r.surfaces[doc]
	if !ok {
		byDoc = make(map[SurfaceID]Sender)
		r.surfaces[doc] = byDoc
	}
	if _, exists := byDoc[surface]; exists {
		return fmt.Errorf("register %s on %s: %w", surface, doc, ErrSurfaceRegistered)
	}
	byDoc[surface] = sender
	r.log.Debug("registered surface %s for %s", surface, doc)
	return nil
}

// Unregister stops tracking a surface for a document and prunes its
// last-sent state.
func (r *Registry) Unregister(doc document.Identity, surface SurfaceID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if byDoc, ok := r.surfaces[doc]; ok {
		delete(byDoc, surface)
		if len(byDoc) == 0 {
			delete(r.surfaces, doc)
		}
	}
	delete(r.lastSent, surfaceKey{doc, surface})
}

// CloseSurface removes a surface from every document it is registered to.
func (r *Registry) CloseSurface(surface SurfaceID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for doc, byDoc := range r.surfaces {
		if _, ok := byDoc[surface]; ok {
			delete(byDoc, surface)
			if len(byDoc) == 0 {
				delete(r.surfaces, doc)
			}
			delete(r.lastSent, surfaceKey{doc, surface})
		}
	}
}

// Surfaces returns the surfaces registered for a document.
func (r *Registry) Surfaces(doc document.Identity) []SurfaceID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]SurfaceID, 0, len(r.surfaces[doc]))
	for s := range r.surfaces[doc] {
		ids = append(ids, s)
	}
	return ids
}

// UpdateSurface pushes text to one surface unless that exact text was the
// last thing pushed there. Returns true when a push happened. A failed push
// does not record the text, so the next update retries.
func (r *Registry) UpdateSurface(doc document.Identity, surface SurfaceID, text string) (bool, error) {
	r.mu.RLock()
	sender, ok := r.surfaces[doc][surface]
	last, hasLast := r.lastSent[surfaceKey{doc, surface}]
	r.mu.RUnlock()

	if !ok {
		return false, fmt.Errorf("update %s on %s: %w", surface, doc, ErrSurfaceNotFound)
	}
	if hasLast && last == text {
		return false, nil
	}
	return true, r.send(doc, surface, sender, text)
}

// ForceUpdate pushes text to one surface regardless of what was last sent.
// This is the single exception to the idempotence guard, used when a
// surface signals ready after a reconnect or navigation.
func (r *Registry) ForceUpdate(doc document.Identity, surface SurfaceID, text string) error {
	r.mu.RLock()
	sender, ok := r.surfaces[doc][surface]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("force update %s on %s: %w", surface, doc, ErrSurfaceNotFound)
	}
	return r.send(doc, surface, sender, text)
}

// LastSent returns the last content pushed to a surface, if any.
func (r *Registry) LastSent(doc document.Identity, surface SurfaceID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	text, ok := r.lastSent[surfaceKey{doc, surface}]
	return text, ok
}

// send performs the push and records the content on success.
func (r *Registry) send(doc document.Identity, surface SurfaceID, sender Sender, text string) error {
	if err := sender.Send(doc, text); err != nil {
		r.log.Warn("push to surface %s failed: %v", surface, err)
		return err
	}

	r.mu.Lock()
	r.lastSent[surfaceKey{doc, surface}] = text
	r.mu.Unlock()
	return nil
}
