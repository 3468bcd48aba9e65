// Package transport serves the WebSocket endpoint rendering surfaces
// connect to. Each connection carries one document, selected with the
// ?doc= query parameter, and gets a host-assigned surface handle. The
// wire format is a small JSON envelope; see Message.
package transport
