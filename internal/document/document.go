package document

import (
	"errors"
	"path/filepath"
	"strings"
	"sync"
)

// Document errors.
var (
	// ErrRevisionConflict indicates a replace raced with another change.
	ErrRevisionConflict = errors.New("document revision conflict")

	// ErrNotFound indicates a document is not open in the store.
	ErrNotFound = errors.New("document not found")

	// ErrAlreadyOpen indicates a document is already open in the store.
	ErrAlreadyOpen = errors.New("document already open")
)

// Identity is the stable key for one logical file. Two URIs naming the same
// file map to the same Identity.
type Identity string

// String returns the identity as a string.
func (id Identity) String() string { return string(id) }

// IdentityForURI derives a stable identity from a buffer URI.
// Accepts both plain paths and file:// URIs.
func IdentityForURI(uri string) Identity {
	p := strings.TrimPrefix(uri, "file://")
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return Identity(filepath.ToSlash(filepath.Clean(p)))
}

// Change describes one applied mutation, delivered to change listeners.
type Change struct {
	// Identity is the document's stable key.
	Identity Identity

	// Text is the full document text after the change.
	Text string

	// Revision is the document revision after the change.
	Revision int64

	// External is true when the change came from outside the sync
	// pipeline (an on-disk modification reload).
	External bool
}

// ChangeListener receives change notifications.
// Listeners are invoked outside the document lock, in registration order.
type ChangeListener func(Change)

// Document is one open text buffer.
//
// The text is replaced only as a whole (transactional whole-document
// replace); revisions guard against interleaved external modification.
// Dirty state is never stored: it is derived by comparing the current text
// with the save baseline, so any edit sequence that converges back to the
// baseline reads as clean again.
type Document struct {
	identity Identity
	uri      string
	name     string

	mu        sync.RWMutex
	text      string
	baseline  string
	revision  int64
	listeners []ChangeListener
}

// New creates a document for the given URI with initial content.
// The initial content is also the save baseline.
func New(uri, text string) *Document {
	name := filepath.Base(strings.TrimPrefix(uri, "file://"))
	return &Document{
		identity: IdentityForURI(uri),
		uri:      uri,
		name:     name,
		text:     text,
		baseline: text,
	}
}

// Identity returns the document's stable key.
func (d *Document) Identity() Identity { return d.identity }

// URI returns the document's source URI.
func (d *Document) URI() string { return d.uri }

// Path returns the document's file path (the URI without a scheme).
func (d *Document) Path() string { return strings.TrimPrefix(d.uri, "file://") }

// Name returns the display name.
func (d *Document) Name() string { return d.name }

// Text returns the current text and its revision.
func (d *Document) Text() (string, int64) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.text, d.revision
}

// Revision returns the current revision.
func (d *Document) Revision() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.revision
}

// Dirty reports whether the text differs from the save baseline.
func (d *Document) Dirty() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.text != d.baseline
}

// OnChange registers a change listener.
func (d *Document) OnChange(l ChangeListener) {
	if l == nil {
		return
	}
	d.mu.Lock()
	d.listeners = append(d.listeners, l)
	d.mu.Unlock()
}

// ReplaceAt transactionally replaces the whole document text.
// The caller passes the revision it observed; if the document has moved on
// (for example an external modification was reloaded in between), the
// replace fails with ErrRevisionConflict and nothing changes.
func (d *Document) ReplaceAt(rev int64, text string) (int64, error) {
	d.mu.Lock()
	if rev != d.revision {
		d.mu.Unlock()
		return 0, ErrRevisionConflict
	}
	d.text = text
	d.revision++
	change := Change{
		Identity: d.identity,
		Text:     text,
		Revision: d.revision,
	}
	listeners := append([]ChangeListener(nil), d.listeners...)
	d.mu.Unlock()

	for _, l := range listeners {
		l(change)
	}
	return change.Revision, nil
}

// Reload installs externally modified content. Unlike ReplaceAt it cannot
// conflict: the disk is authoritative. The baseline moves with the text
// (the file on disk is by definition not dirty) and the revision bump makes
// any in-flight ReplaceAt reject.
func (d *Document) Reload(text string) int64 {
	d.mu.Lock()
	d.text = text
	d.baseline = text
	d.revision++
	change := Change{
		Identity: d.identity,
		Text:     text,
		Revision: d.revision,
		External: true,
	}
	listeners := append([]ChangeListener(nil), d.listeners...)
	d.mu.Unlock()

	for _, l := range listeners {
		l(change)
	}
	return change.Revision
}

// MarkSaved resets the save baseline to the current text.
func (d *Document) MarkSaved() {
	d.mu.Lock()
	d.baseline = d.text
	d.mu.Unlock()
}
