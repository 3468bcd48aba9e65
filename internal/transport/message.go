package transport

// MessageType identifies the kind of message on the wire.
type MessageType string

const (
	// MessageTypeEdit is sent by a surface when its debounced editor
	// content should replace the document.
	MessageTypeEdit MessageType = "edit"

	// MessageTypeReady is sent by a surface when its renderer is up and
	// wants the current content, pushed unconditionally.
	MessageTypeReady MessageType = "ready"

	// MessageTypeSave is sent by a surface to persist the document.
	MessageTypeSave MessageType = "save"

	// MessageTypeUpdate is sent by the host to replace a surface's
	// content. Carries the fence-encoded document plus ambient settings.
	MessageTypeUpdate MessageType = "update"

	// MessageTypeReject is sent by the host when an edit was refused.
	// Informational only; the surface keeps its local text.
	MessageTypeReject MessageType = "reject"

	// MessageTypeSaved is sent by the host to confirm a completed save.
	MessageTypeSaved MessageType = "saved"
)

// Message is the envelope for all WebSocket traffic. Inbound messages
// carry Type and Text; outbound ones add the document, the surface
// handle assigned at connect, and per-update settings.
type Message struct {
	// Type identifies what kind of message this is.
	Type MessageType `json:"type"`

	// Doc is the document identity this message concerns.
	Doc string `json:"doc,omitempty"`

	// Surface is the handle the host assigned to this connection.
	// Sent once in the initial update and echoed for diagnostics.
	Surface string `json:"surface,omitempty"`

	// Text is the fence-encoded document content.
	Text string `json:"text,omitempty"`

	// Reason explains a rejection.
	Reason string `json:"reason,omitempty"`

	// Settings carries ambient host settings (timing knobs, frontmatter
	// metadata) alongside an update.
	Settings map[string]any `json:"settings,omitempty"`
}
