// Package event provides a synchronous, topic-based event bus used for
// cross-cutting wiring between the sync host's components.
//
// Topics are hierarchical dot-notation strings ("document.replaced",
// "sync.applied"). Subscriptions may use "*" to match one segment or "**"
// to match any number of segments. Events carry their own topic via the
// TopicProvider interface.
//
// Dispatch is synchronous in the publisher's goroutine: the host is an
// event-loop system, and ordering between an apply and its follow-up
// notifications matters more than parallelism. Handler panics are recovered
// so one misbehaving subscriber cannot take down the pipeline.
package event
