// Package core provides the foundational domain types and interfaces used by
// the orchestration core. It defines:
//
//   - Projects (the writing workspace switching between planning and writing)
//   - Sessions (stateful conversational containers with a concurrency status)
//   - Messages and Parts (append-only conversation records per thread)
//   - Tasks (durable, idempotent units of background work)
//   - Coded errors shared across components
//   - Pluggable store interfaces for durable persistence
//
// The package intentionally keeps implementation concerns (persistence,
// scheduling, concrete agents) out of scope, exposing small interfaces to
// enable custom backends and extensions.
package core
