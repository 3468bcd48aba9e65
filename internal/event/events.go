package event

// Document event topics.
const (
	// TopicDocumentOpened is published when a document is opened.
	TopicDocumentOpened Topic = "document.opened"

	// TopicDocumentClosed is published when a document is closed.
	TopicDocumentClosed Topic = "document.closed"

	// TopicDocumentReplaced is published when a document's text is replaced.
	TopicDocumentReplaced Topic = "document.replaced"

	// TopicDocumentSaved is published when a document is saved to disk.
	TopicDocumentSaved Topic = "document.saved"

	// TopicDocumentReloaded is published when a document is reloaded after an
	// external modification.
	TopicDocumentReloaded Topic = "document.reloaded"
)

// Surface event topics.
const (
	// TopicSurfaceRegistered is published when a rendering surface attaches.
	TopicSurfaceRegistered Topic = "surface.registered"

	// TopicSurfaceClosed is published when a rendering surface detaches.
	TopicSurfaceClosed Topic = "surface.closed"
)

// Sync event topics.
const (
	// TopicSyncApplied is published after an edit is applied to a document.
	TopicSyncApplied Topic = "sync.applied"

	// TopicSyncRejected is published when the host rejects an edit.
	TopicSyncRejected Topic = "sync.rejected"

	// TopicSyncBroadcast is published after an update fan-out completes.
	TopicSyncBroadcast Topic = "sync.broadcast"
)

// DocumentOpened is published when a document is opened.
type DocumentOpened struct {
	// Identity is the document's stable key.
	Identity string

	// URI is the document's source URI.
	URI string
}

// EventTopic returns the topic for this event.
func (DocumentOpened) EventTopic() Topic { return TopicDocumentOpened }

// DocumentClosed is published when a document is closed.
type DocumentClosed struct {
	Identity string
}

// EventTopic returns the topic for this event.
func (DocumentClosed) EventTopic() Topic { return TopicDocumentClosed }

// DocumentReplaced is published when a document's text is replaced.
type DocumentReplaced struct {
	Identity string

	// Revision is the document revision after the replace.
	Revision int64

	// External is true when the replace came from outside the sync
	// pipeline (a reload).
	External bool
}

// EventTopic returns the topic for this event.
func (DocumentReplaced) EventTopic() Topic { return TopicDocumentReplaced }

// DocumentSaved is published when a document is saved to disk.
type DocumentSaved struct {
	Identity string
	Path     string
}

// EventTopic returns the topic for this event.
func (DocumentSaved) EventTopic() Topic { return TopicDocumentSaved }

// DocumentReloaded is published after an external modification is loaded.
type DocumentReloaded struct {
	Identity string
	Revision int64
}

// EventTopic returns the topic for this event.
func (DocumentReloaded) EventTopic() Topic { return TopicDocumentReloaded }

// SurfaceRegistered is published when a rendering surface attaches.
type SurfaceRegistered struct {
	Identity string
	Surface  string
}

// EventTopic returns the topic for this event.
func (SurfaceRegistered) EventTopic() Topic { return TopicSurfaceRegistered }

// SurfaceClosed is published when a rendering surface detaches.
type SurfaceClosed struct {
	Surface string
}

// EventTopic returns the topic for this event.
func (SurfaceClosed) EventTopic() Topic { return TopicSurfaceClosed }

// SyncApplied is published after an edit lands in a document.
type SyncApplied struct {
	Identity string
	Surface  string
	Revision int64
}

// EventTopic returns the topic for this event.
func (SyncApplied) EventTopic() Topic { return TopicSyncApplied }

// SyncRejected is published when the host refuses an edit.
type SyncRejected struct {
	Identity string
	Surface  string
	Reason   string
}

// EventTopic returns the topic for this event.
func (SyncRejected) EventTopic() Topic { return TopicSyncRejected }

// SyncBroadcast is published after an update fan-out completes.
type SyncBroadcast struct {
	Identity string

	// Origin is the surface excluded from the fan-out, if any.
	Origin string

	// Updated is the number of surfaces that received a push.
	Updated int
}

// EventTopic returns the topic for this event.
func (SyncBroadcast) EventTopic() Topic { return TopicSyncBroadcast }
