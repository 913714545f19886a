// Package surgibot is the background execution core of an operating-room
// status board. It keeps a bursty, unreliable world (schedule edits, remote
// fetches, speech synthesis, flaky networks) away from the interactive
// rendering path: blocking work runs as jobs on a bounded worker pool,
// results come back over channels, and announcements pass a per-subject
// throttle before any sound is made.
//
// # Quick Start
//
//	b, err := surgibot.New(
//	    surgibot.WithStore(st),
//	    surgibot.WithSource(src),
//	)
//
// Call Start to launch the pool and drain loop, Refresh to request data,
// and drain Renders for display state.
//
// # Architecture
//
// Each concern lives in its own package: queue (bounded two-tier FIFO),
// worker (pool + exhaustive kind dispatch), cache (TTL/LRU/single-flight),
// debounce (per-subject coalescing), announce (throttler state machine),
// store (durable keyed tables), source (remote fetches), audio (speech),
// feed (push frames), server (the aggregator API). The Board in this
// package wires them together and owns nothing but in-flight bookkeeping
// and the render projection.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package surgibot
