// Package host wires the sync protocol together on the host side.
//
// A Service owns the document store, the edit applier, the surface
// registry and broadcaster, and the external file watcher. Transports
// deliver inbound surface messages (edit, ready, save) to it and implement
// the Conn interface for outbound pushes. Collaborators that rewrite
// document text (image persistence, renames) enter through ApplyMutation
// and share the exact same apply path as surface edits.
package host
