// Package client implements the surface-side half of the sync protocol:
// echo suppression and push scheduling.
//
// Each open rendering surface owns one EchoGuard and one Scheduler. The
// guard recognizes inbound updates that merely reflect the surface's own
// just-sent edit (hash plus recency, never message ordering) and drops
// them before they can clobber in-progress keystrokes. The scheduler
// debounces rapid local edits into single pushes, supports an immediate
// flush ahead of save, and defers pushes while a side effect that will
// itself mutate the text is in flight.
package client
