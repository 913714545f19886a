// Package announce decides when a subject's event becomes a spoken
// announcement. Each subject (patient or room) carries an independent
// state machine guaranteeing at most one announcement per minimum
// interval, while a changed payload arriving too soon is deferred and
// fires once the interval expires instead of being dropped forever.
// Identical payloads inside the interval drop permanently.
package announce

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/opdacuont2563-hash/surgibot/id"
	"github.com/opdacuont2563-hash/surgibot/job"
)

// State is the observable per-subject phase.
type State string

const (
	// StateIdle means nothing recent: never announced, or the interval
	// has fully elapsed with nothing waiting.
	StateIdle State = "idle"
	// StatePending means a synth+play job for this subject is in flight.
	StatePending State = "pending"
	// StateAnnounced means the last announcement succeeded and its
	// minimum interval is still running.
	StateAnnounced State = "announced"
	// StateSuppressed means an event inside the interval was dropped as
	// a duplicate or is deferred awaiting the interval's expiry.
	StateSuppressed State = "suppressed"
)

// Decision is the outcome of offering one event.
type Decision string

const (
	// DecisionSubmitted means a synth+play job was handed to the queue.
	DecisionSubmitted Decision = "submitted"
	// DecisionSuppressed means the event was dropped as a duplicate.
	DecisionSuppressed Decision = "suppressed"
	// DecisionDeferred means a changed payload arrived too soon and will
	// fire when the interval expires, replacing any earlier deferral.
	DecisionDeferred Decision = "deferred"
	// DecisionFailed means the queue refused the job. The subject
	// re-qualifies on its next event; nothing is retried automatically.
	DecisionFailed Decision = "failed"
)

// SubmitFunc hands an approved announcement to the queue and returns the
// job ID used to correlate the eventual result. It must not block and must
// not call back into the Throttler.
type SubmitFunc func(ev Event) (id.JobID, error)

// Event is one qualifying trigger for a subject. Repeat and Gap ride
// along into the synth job; they do not affect duplicate detection,
// which looks at the lines alone.
type Event struct {
	Subject string
	Lines   []job.SpeechLine
	Repeat  int
	Gap     time.Duration
}

// Stats is a point-in-time census of subject states.
type Stats struct {
	Subjects int
	Pending  int
	Deferred int
}

type subjectState struct {
	lastAnnouncedAt time.Time
	lastHash        string
	suppressedUntil time.Time
	pendingJob      id.JobID
	pendingHash     string
	deferred        *Event
	deferredTimer   *time.Timer
	lastActivity    time.Time
}

// Throttler is safe for concurrent use. One instance serves all subjects;
// subjects never affect each other's decisions.
type Throttler struct {
	submit      SubmitFunc
	minInterval time.Duration
	inactivity  time.Duration
	logger      *slog.Logger

	mu       sync.Mutex
	subjects map[string]*subjectState
	running  bool
	closed   bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Option configures a Throttler.
type Option func(*Throttler)

// WithMinInterval sets the per-subject announcement floor.
func WithMinInterval(d time.Duration) Option {
	return func(t *Throttler) { t.minInterval = d }
}

// WithInactivity sets how long a quiet subject's state survives before
// the janitor drops it.
func WithInactivity(d time.Duration) Option {
	return func(t *Throttler) { t.inactivity = d }
}

// New creates a Throttler. Defaults: 5s minimum interval, 30m inactivity.
func New(submit SubmitFunc, logger *slog.Logger, opts ...Option) *Throttler {
	t := &Throttler{
		submit:      submit,
		minInterval: 5 * time.Second,
		inactivity:  30 * time.Minute,
		logger:      logger,
		subjects:    make(map[string]*subjectState),
		stopCh:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Offer runs one event through the subject's state machine. The returned
// error is non-nil only when the queue refused the submission.
func (t *Throttler) Offer(ev Event) (Decision, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return DecisionSuppressed, nil
	}

	now := time.Now()
	s := t.subjects[ev.Subject]
	if s == nil {
		s = &subjectState{}
		t.subjects[ev.Subject] = s
	}
	s.lastActivity = now

	h := hashLines(ev.Lines)

	// A synth job is already in flight for this subject.
	if !s.pendingJob.IsNil() {
		if h == s.pendingHash {
			return DecisionSuppressed, nil
		}
		deferred := ev
		s.deferred = &deferred
		return DecisionDeferred, nil
	}

	dup := s.lastHash != "" && h == s.lastHash
	tooSoon := !s.lastAnnouncedAt.IsZero() && now.Sub(s.lastAnnouncedAt) < t.minInterval

	switch {
	case dup && tooSoon:
		// Identical payload inside the interval: dropped for good. The
		// same text re-qualifies once the interval elapses, so recurring
		// announcements (the waiting-area reminder) sound every cycle.
		s.suppressedUntil = s.lastAnnouncedAt.Add(t.minInterval)
		return DecisionSuppressed, nil
	case tooSoon:
		// Changed payload inside the interval: defer it, last write
		// wins, and fire when the interval expires even if no further
		// event arrives.
		deferred := ev
		s.deferred = &deferred
		t.scheduleDeferredLocked(ev.Subject, s, s.lastAnnouncedAt.Add(t.minInterval).Sub(now))
		return DecisionDeferred, nil
	default:
		return t.submitLocked(s, ev, h)
	}
}

// OnResult feeds a synth+play outcome back into the subject's machine.
// Results of other kinds, or for jobs this Throttler did not submit, are
// ignored.
func (t *Throttler) OnResult(r job.Result) {
	if r.Kind != job.KindSynthPlay {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.subjects[r.Subject]
	if s == nil || s.pendingJob.IsNil() || s.pendingJob.String() != r.JobID.String() {
		return
	}
	s.pendingJob = id.Nil
	committed := s.pendingHash
	s.pendingHash = ""

	if r.Ok() {
		s.lastAnnouncedAt = r.CompletedAt
		s.lastHash = committed
		if s.deferred != nil {
			t.scheduleDeferredLocked(r.Subject, s, t.minInterval)
		}
		return
	}

	t.logger.Warn("announcement job failed",
		slog.String("subject", r.Subject),
		slog.String("error", r.Err.Error()),
	)

	// Failure leaves last_announced_at untouched, so the subject
	// re-qualifies on its next event. A deferred payload fires now.
	if s.deferred != nil {
		ev := *s.deferred
		s.deferred = nil
		if h := hashLines(ev.Lines); h != s.lastHash {
			_, _ = t.submitLocked(s, ev, h)
		}
	}
}

// State derives the subject's current phase.
func (t *Throttler) State(subject string) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.deriveLocked(t.subjects[subject], time.Now())
}

// Snapshot counts live subjects and their phases.
func (t *Throttler) Snapshot() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := Stats{Subjects: len(t.subjects)}
	for _, s := range t.subjects {
		if !s.pendingJob.IsNil() {
			st.Pending++
		}
		if s.deferred != nil {
			st.Deferred++
		}
	}
	return st
}

// Start launches the janitor that prunes subjects quiet for longer than
// the inactivity period.
func (t *Throttler) Start(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.running || t.closed {
		return nil
	}
	t.running = true

	t.wg.Add(1)
	go t.gcLoop()
	return nil
}

// Stop cancels deferred timers and the janitor. Later Offers are
// suppressed.
func (t *Throttler) Stop() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	for _, s := range t.subjects {
		if s.deferredTimer != nil {
			s.deferredTimer.Stop()
		}
	}
	t.mu.Unlock()

	close(t.stopCh)
	t.wg.Wait()
}

func (t *Throttler) submitLocked(s *subjectState, ev Event, h string) (Decision, error) {
	jobID, err := t.submit(ev)
	if err != nil {
		t.logger.Warn("announcement submit refused",
			slog.String("subject", ev.Subject),
			slog.String("error", err.Error()),
		)
		return DecisionFailed, err
	}
	s.pendingJob = jobID
	s.pendingHash = h
	return DecisionSubmitted, nil
}

func (t *Throttler) scheduleDeferredLocked(subject string, s *subjectState, delay time.Duration) {
	if s.deferredTimer != nil {
		s.deferredTimer.Stop()
	}
	if delay < 0 {
		delay = 0
	}
	s.deferredTimer = time.AfterFunc(delay, func() { t.fireDeferred(subject) })
}

func (t *Throttler) fireDeferred(subject string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return
	}
	s := t.subjects[subject]
	if s == nil || s.deferred == nil || !s.pendingJob.IsNil() {
		return
	}
	ev := *s.deferred
	s.deferred = nil
	s.deferredTimer = nil
	s.lastActivity = time.Now()

	h := hashLines(ev.Lines)
	if h == s.lastHash {
		return
	}
	_, _ = t.submitLocked(s, ev, h)
}

func (t *Throttler) deriveLocked(s *subjectState, now time.Time) State {
	switch {
	case s == nil:
		return StateIdle
	case !s.pendingJob.IsNil():
		return StatePending
	case s.deferred != nil:
		return StateSuppressed
	case now.Before(s.suppressedUntil):
		return StateSuppressed
	case !s.lastAnnouncedAt.IsZero() && now.Sub(s.lastAnnouncedAt) < t.minInterval:
		return StateAnnounced
	default:
		return StateIdle
	}
}

func (t *Throttler) gcLoop() {
	defer t.wg.Done()

	interval := t.inactivity / 4
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.stopCh:
			return
		case <-ticker.C:
			t.gc()
		}
	}
}

// gc drops subjects with no recent activity. A subject with a job in
// flight or a deferred payload is never pruned.
func (t *Throttler) gc() {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for subject, s := range t.subjects {
		if !s.pendingJob.IsNil() || s.deferred != nil {
			continue
		}
		if now.Sub(s.lastActivity) >= t.inactivity {
			delete(t.subjects, subject)
		}
	}
}

// hashLines fingerprints the spoken content. Two events announce the same
// thing exactly when their hashes match.
func hashLines(lines []job.SpeechLine) string {
	h := sha256.New()
	for _, l := range lines {
		h.Write([]byte(l.Lang))
		h.Write([]byte{0})
		h.Write([]byte(l.Text))
		h.Write([]byte{0x1f})
	}
	return hex.EncodeToString(h.Sum(nil))
}
