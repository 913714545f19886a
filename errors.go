package surgibot

import (
	"errors"

	"github.com/opdacuont2563-hash/surgibot/cache"
	"github.com/opdacuont2563-hash/surgibot/job"
	"github.com/opdacuont2563-hash/surgibot/queue"
	"github.com/opdacuont2563-hash/surgibot/source"
	"github.com/opdacuont2563-hash/surgibot/store"
)

// ErrNoStore means a Board was built without a store.
var ErrNoStore = errors.New("surgibot: no store configured")

// Package-level aliases so API consumers can match errors without
// importing every subsystem. errors.Is works against either name.
var (
	// Store errors.
	ErrIO         = store.ErrIO
	ErrNotFound   = store.ErrNotFound
	ErrConstraint = store.ErrConstraint

	// Queue errors.
	ErrQueueFull   = queue.ErrFull
	ErrQueueClosed = queue.ErrClosed

	// Job errors.
	ErrCanceled = job.ErrCanceled
	ErrTimeout  = job.ErrTimeout

	// Cache errors.
	ErrLoad = cache.ErrLoad

	// Source errors.
	ErrUnavailable = source.ErrUnavailable
)
