package sync

import (
	"context"
	"errors"
	"fmt"
	gosync "sync"

	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/document"
	"github.com/fuhitonakagawa/markdown-for-humans-sub003/internal/logging"
)

// Applier errors.
var (
	// ErrApplyRejected indicates the host refused an edit, typically because
	// the document changed underneath it. The caller must not retry; the
	// next local edit applies against the fresh state naturally.
	ErrApplyRejected = errors.New("apply rejected")
)

// PendingEdit records one successfully applied edit. The queue exists only
// to reason about convergence back to a clean baseline; it never drives
// dirty state or retries.
type PendingEdit struct {
	Identity    document.Identity
	AppliedText string
}

// Applier converts full replacement texts into transactional edits against
// the document store. Applies for one document identity are serialized;
// applies for different documents may interleave freely.
type Applier struct {
	store *document.Store
	log   *logging.Logger

	mu       gosync.Mutex
	docLocks map[document.Identity]*gosync.Mutex
	pending  map[document.Identity][]PendingEdit
}

// NewApplier creates an applier over the given store.
func NewApplier(store *document.Store, log *logging.Logger) *Applier {
	return &Applier{
		store:    store,
		log:      log.WithComponent("applier"),
		docLocks: make(map[document.Identity]*gosync.Mutex),
		pending:  make(map[document.Identity][]PendingEdit),
	}
}

// Apply replaces the full text of the identified document.
//
// The no-op guard comes first: when newText equals the current text the call
// succeeds without touching the document, so repeated applies of the same
// text cause exactly one underlying mutation and no dirty-flag or undo
// churn. The returned bool reports whether a mutation actually happened.
//
// A revision conflict (concurrent external modification) surfaces as
// ErrApplyRejected; nothing is partially applied and nothing retries.
func (a *Applier) Apply(ctx context.Context, id document.Identity, newText string) (bool, error) {
	return a.apply(ctx, id, newText, nil)
}

// ApplyAt is Apply with an explicit base revision: the edit only lands if
// the document is still at baseRev. Collaborators that computed their text
// from an earlier read (the image-persistence flow, for example) use this
// to turn interleaved external modification into a clean rejection.
func (a *Applier) ApplyAt(ctx context.Context, id document.Identity, baseRev int64, newText string) (bool, error) {
	return a.apply(ctx, id, newText, &baseRev)
}

func (a *Applier) apply(ctx context.Context, id document.Identity, newText string, baseRev *int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	lock := a.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	doc, err := a.store.Get(id)
	if err != nil {
		return false, fmt.Errorf("apply %s: %w", id, err)
	}

	current, rev := doc.Text()
	if baseRev != nil && *baseRev != rev {
		// Staleness wins over the no-op guard: a collaborator that read
		// old text gets a rejection even when its output happens to
		// match the current text.
		a.log.Warn("apply rejected for %s: stale base revision %d, document at %d", id, *baseRev, rev)
		return false, fmt.Errorf("apply %s: %w", id, ErrApplyRejected)
	}
	if newText == current {
		a.log.Debug("apply no-op for %s at revision %d", id, rev)
		return false, nil
	}

	// The pending entry must exist before the replace lands: change
	// listeners fire inside ReplaceAt and may acknowledge immediately.
	a.recordPending(id, newText)

	newRev, err := doc.ReplaceAt(rev, newText)
	if err != nil {
		a.dropPending(id, newText)
		if errors.Is(err, document.ErrRevisionConflict) {
			a.log.Warn("apply rejected for %s: revision conflict at %d", id, rev)
			return false, fmt.Errorf("apply %s: %w", id, ErrApplyRejected)
		}
		return false, fmt.Errorf("apply %s: %w", id, err)
	}

	a.log.Debug("applied %s at revision %d", id, newRev)
	return true, nil
}

// Pending returns the queued pending edits for a document.
func (a *Applier) Pending(id document.Identity) []PendingEdit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]PendingEdit(nil), a.pending[id]...)
}

// AcknowledgeThrough trims the pending queue through the first entry whose
// applied text matches; a change notification carrying that text confirms
// everything up to it has landed.
func (a *Applier) AcknowledgeThrough(id document.Identity, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	queue := a.pending[id]
	for i, p := range queue {
		if p.AppliedText == text {
			remaining := queue[i+1:]
			if len(remaining) == 0 {
				delete(a.pending, id)
			} else {
				a.pending[id] = append([]PendingEdit(nil), remaining...)
			}
			return
		}
	}
}

// Forget drops the pending queue for a document. Called on close and on
// external reloads, where the queue no longer describes reality. The apply
// lock is kept: an in-flight Apply may still hold it.
func (a *Applier) Forget(id document.Identity) {
	a.mu.Lock()
	delete(a.pending, id)
	a.mu.Unlock()
}

// lockFor returns the per-document apply lock, creating it on first use.
func (a *Applier) lockFor(id document.Identity) *gosync.Mutex {
	a.mu.Lock()
	defer a.mu.Unlock()

	lock, ok := a.docLocks[id]
	if !ok {
		lock = &gosync.Mutex{}
		a.docLocks[id] = lock
	}
	return lock
}

// recordPending appends to the pending queue.
func (a *Applier) recordPending(id document.Identity, text string) {
	a.mu.Lock()
	a.pending[id] = append(a.pending[id], PendingEdit{Identity: id, AppliedText: text})
	a.mu.Unlock()
}

// dropPending removes the newest queued entry with the given text, undoing
// a recordPending whose replace failed.
func (a *Applier) dropPending(id document.Identity, text string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	queue := a.pending[id]
	for i := len(queue) - 1; i >= 0; i-- {
		if queue[i].AppliedText == text {
			a.pending[id] = append(queue[:i], queue[i+1:]...)
			if len(a.pending[id]) == 0 {
				delete(a.pending, id)
			}
			return
		}
	}
}
