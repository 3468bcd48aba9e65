// Package sync implements the host side of the bidirectional
// synchronization protocol: applying full-text edits transactionally,
// tracking open rendering surfaces and the last content pushed to each,
// and broadcasting fresh content to every surface except an edit's origin.
//
// The protocol leans on two properties instead of cross-surface ordering
// guarantees: applies are idempotent (a repeated text is a no-op), and
// pushes are suppressed when a surface already holds the exact content.
// Transient races between surfaces are absorbed by those guards rather
// than surfaced as errors.
package sync
