// Package queue provides the bounded, in-process, two-tier job queue the
// worker pool pulls from.
//
// Interactive jobs drain before background jobs; a background job that has
// waited past the starvation threshold is served first, so the low tier is
// delayed but never starved. [Queue.Push] never blocks — at capacity it
// returns [ErrFull], which interactive callers treat as "skip this
// refresh". [Queue.PushWait] blocks until space frees and is the right call
// off the interactive path.
//
// A queued-but-unstarted job can be removed with [Queue.Remove]; a job a
// worker already popped is not the queue's to cancel.
package queue
