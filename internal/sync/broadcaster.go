package sync

import (
	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/document"
	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/logging"
)

// Broadcaster fans fresh content out to every surface of a document except
// the edit's origin. The origin already renders that content locally;
// pushing it back would risk clobbering in-flight cursor state and feeding
// the surface's own echo guard.
//
// Callers invoke Broadcast strictly after a successful apply, so no surface
// ever observes text that later fails to persist. A broadcast computed
// against already-superseded text is harmless: the registry's idempotence
// guard absorbs it, and a correct broadcast follows the newer apply.
type Broadcaster struct {
	registry *Registry
	log      *logging.Logger
}

// NewBroadcaster creates a broadcaster over the given registry.
func NewBroadcaster(registry *Registry, log *logging.Logger) *Broadcaster {
	return &Broadcaster{
		registry: registry,
		log:      log.WithComponent("broadcaster"),
	}
}

// Broadcast pushes text to all surfaces of doc except origin. Pass an empty
// origin to include every surface (external reloads have no origin).
// Returns the number of surfaces that actually received a push; individual
// push failures are logged and do not stop the fan-out.
func (b *Broadcaster) Broadcast(doc document.Identity, text string, origin SurfaceID) int {
	updated := 0
	for _, surface := range b.registry.Surfaces(doc) {
		if origin != "" && surface == origin {
			continue
		}
		pushed, err := b.registry.UpdateSurface(doc, surface, text)
		if err != nil {
			b.log.Warn("broadcast to %s skipped surface %s: %v", doc, surface, err)
			continue
		}
		if pushed {
			updated++
		}
	}
	return updated
}
