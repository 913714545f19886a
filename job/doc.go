// Package job defines the job entity, its closed kind set, and the result
// handle submitters wait on.
//
// # Job Entity
//
// A [Job] represents one unit of background work. It carries a typed
// payload and progresses through a state machine:
//
//	pending → running → completed
//	pending → running → failed
//	pending → cancelled
//
// There is no retrying state: the pool never retries, the submitter decides
// whether a failed job is worth resubmitting.
//
// # Kinds
//
// [Kind] is a sealed enumeration — fetch, synth_play, db_write — with one
// payload struct per kind ([FetchPayload], [SynthPlayPayload],
// [WritePayload]). The worker loop dispatches on it exhaustively, so a new
// kind cannot be added without teaching the pool to execute it.
//
// # Results
//
// Submitting yields a [Handle] resolving to exactly one [Result]. Await it
// directly, or drain the pool's shared results channel from a rendering
// loop — both observe the same single Result value.
package job
