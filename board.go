package surgibot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/opdacuont2563-hash/surgibot/announce"
	"github.com/opdacuont2563-hash/surgibot/audio"
	"github.com/opdacuont2563-hash/surgibot/backoff"
	"github.com/opdacuont2563-hash/surgibot/cache"
	"github.com/opdacuont2563-hash/surgibot/debounce"
	"github.com/opdacuont2563-hash/surgibot/feed"
	"github.com/opdacuont2563-hash/surgibot/id"
	"github.com/opdacuont2563-hash/surgibot/job"
	"github.com/opdacuont2563-hash/surgibot/middleware"
	"github.com/opdacuont2563-hash/surgibot/queue"
	"github.com/opdacuont2563-hash/surgibot/source"
	"github.com/opdacuont2563-hash/surgibot/store"
	"github.com/opdacuont2563-hash/surgibot/worker"
)

const (
	// subjectSchedule keys whole-board refreshes in the debouncer.
	subjectSchedule = "schedule"
	// resourceList is the source resource the board projection is fed by.
	resourceList = "list"
	// announcePause separates the Thai and English lines of one
	// announcement.
	announcePause = 600 * time.Millisecond
)

// Render is one display-ready projection of the board: the rows of the
// last successful fetch, a staleness flag when a newer fetch has failed,
// and the time the rows were synced.
type Render struct {
	Rows     []source.Row
	Stale    bool
	SyncedAt time.Time
}

// Edit describes one row mutation requested by the UI.
type Edit struct {
	Table  string
	Key    string
	Fields map[string]any
	Delete bool
}

// Stats is a point-in-time census across the board's subsystems.
type Stats struct {
	Pool     worker.Stats
	Announce announce.Stats
	Cache    cache.Stats
}

// Board is the client orchestrator. It routes UI triggers through the
// debouncer, dispatches blocking work as jobs on the worker pool, drains
// results on a single goroutine, and evaluates the announcement throttler.
// It owns no business state beyond in-flight bookkeeping and the render
// projection.
//
// Create one with New and functional options, then Start it. The zero
// value is not usable.
type Board struct {
	cfg    Config
	logger *slog.Logger

	st      store.Store
	src     source.Source
	speaker *audio.Speaker
	lookup  *cache.Cache

	queue    *queue.Queue
	pool     *worker.Pool
	throttle *announce.Throttler
	refresh  *debounce.Debouncer[source.Query]
	coalesce *debounce.Debouncer[struct{}]
	extraMW  []middleware.Middleware

	feed *feed.Client

	renders   chan Render
	renderReq chan struct{}

	// Render projection. Touched only by the drain loop goroutine;
	// renderReq hands snapshot requests back to it.
	rows     []source.Row
	stale    bool
	syncedAt time.Time

	// In-flight edits, job ID → table. A landed write drops the lookup
	// memoizations keyed under its table.
	wmu    sync.Mutex
	writes map[id.JobID]string

	mu      sync.Mutex
	started bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// New creates a Board with the given options. A store is required;
// everything else has a working default.
func New(opts ...Option) (*Board, error) {
	b := &Board{
		cfg:       DefaultConfig(),
		logger:    slog.Default(),
		renders:   make(chan Render, 8),
		renderReq: make(chan struct{}, 1),
		writes:    make(map[id.JobID]string),
		stopCh:    make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(b); err != nil {
			return nil, err
		}
	}

	if b.st == nil {
		return nil, ErrNoStore
	}
	if b.src == nil {
		if b.cfg.SourceURL != "" {
			b.src = source.NewHTTP(b.cfg.SourceURL,
				source.WithToken(b.cfg.Token),
				source.WithRetries(b.cfg.FetchRetries),
				source.WithBackoff(backoff.NewExponentialWithJitter(b.cfg.FetchBackoff, 10*time.Second)),
				source.WithLogger(b.logger),
			)
		} else {
			b.src = source.Nop{}
		}
	}
	if b.lookup == nil {
		b.lookup = cache.New(
			cache.WithCapacity(b.cfg.CacheCapacity),
			cache.WithTTL(b.cfg.CacheTTL),
		)
	}

	b.queue = queue.New(
		queue.WithCapacity(b.cfg.QueueCapacity),
		queue.WithStarveAfter(b.cfg.StarveAfter),
	)

	mws := []middleware.Middleware{
		middleware.Recover(b.logger),
		middleware.Tracing(),
		middleware.Metrics(),
		middleware.Logging(b.logger),
		middleware.Timeout(b.logger),
	}
	mws = append(mws, b.extraMW...)

	executor := worker.NewExecutor(worker.Executors{
		Fetch:     b.executeFetch,
		SynthPlay: b.executeSynth,
		DBWrite:   b.executeWrite,
	}, b.logger, mws...)

	b.pool = worker.NewPool(b.queue, executor, b.logger,
		worker.WithWorkers(b.cfg.Workers))

	b.throttle = announce.New(b.submitAnnouncement, b.logger,
		announce.WithMinInterval(b.cfg.MinAnnounceInterval))

	b.refresh = debounce.New(b.cfg.Debounce, b.submitFetch)
	b.coalesce = debounce.New(b.cfg.RenderCoalesce,
		func(string, struct{}) { b.requestRender() })

	return b, nil
}

// Start launches the worker pool, the throttler janitor, the push feed
// when configured, and the drain loop. It returns immediately.
func (b *Board) Start(ctx context.Context) error {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = true
	b.mu.Unlock()

	if err := b.pool.Start(ctx); err != nil {
		return err
	}
	if err := b.throttle.Start(ctx); err != nil {
		return err
	}

	if b.cfg.FeedURL != "" {
		c, err := feed.Dial(ctx, b.cfg.FeedURL, b.cfg.Token,
			feed.WithClientLogger(b.logger))
		if err != nil {
			// Push is an optimization; polling still covers freshness.
			b.logger.Warn("feed unavailable, polling only",
				slog.String("error", err.Error()))
		} else {
			b.feed = c
		}
	}

	b.wg.Add(1)
	go b.drainLoop()

	b.logger.Info("board started",
		slog.Int("workers", b.cfg.Workers),
		slog.Bool("feed", b.feed != nil),
	)
	return nil
}

// Stop shuts the board down: trigger windows close first so no new work
// arrives, then the pool resolves every outstanding handle, the drain
// loop exits, Renders closes, and the store is released. When ctx expires
// before workers finish, running jobs have their contexts cancelled.
func (b *Board) Stop(ctx context.Context) error {
	b.mu.Lock()
	if !b.started {
		b.mu.Unlock()
		return nil
	}
	b.started = false
	b.mu.Unlock()

	b.refresh.Stop()
	b.coalesce.Stop()
	if b.feed != nil {
		_ = b.feed.Close()
	}
	b.throttle.Stop()

	err := b.pool.Stop(ctx)

	close(b.stopCh)
	b.wg.Wait()
	close(b.renders)

	if b.st != nil {
		if cerr := b.st.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	b.logger.Info("board stopped")
	return err
}

// Refresh requests fresh data for subject. Bursts inside the debounce
// window collapse into one fetch; a full queue skips the fetch entirely
// and the next trigger or poll tries again.
func (b *Board) Refresh(subject string) {
	b.refresh.Trigger(subject, source.Query{Resource: resourceList})
}

// RefreshQuery routes an arbitrary fetch through the same debounced path.
func (b *Board) RefreshQuery(subject string, q source.Query) {
	b.refresh.Trigger(subject, q)
}

// Edit submits a row mutation as an interactive db_write job. The handle
// resolves when the write lands; a successful write invalidates lookup
// entries keyed under the edited table and triggers a debounced refresh
// of the edited subject.
func (b *Board) Edit(e Edit) (*job.Handle, error) {
	j := job.New(job.WritePayload{
		Table:  e.Table,
		Key:    e.Key,
		Fields: e.Fields,
		Delete: e.Delete,
	}, job.WithSubject(e.Key), job.WithInteractive())

	// Registered before submit so the result cannot outrun the entry.
	b.wmu.Lock()
	b.writes[j.ID] = e.Table
	b.wmu.Unlock()

	h, err := b.pool.TrySubmit(j)
	if err != nil {
		b.wmu.Lock()
		delete(b.writes, j.ID)
		b.wmu.Unlock()
		return nil, err
	}
	return h, nil
}

// Announce offers an event to the throttler. At most one announcement
// per subject fires per MinAnnounceInterval; duplicates drop, changed
// payloads defer.
func (b *Board) Announce(ev announce.Event) (announce.Decision, error) {
	return b.throttle.Offer(ev)
}

// Renders is the display tap: at most one Render per coalescing window.
// The channel closes after Stop. A consumer that falls behind loses the
// oldest pending render, never the newest.
func (b *Board) Renders() <-chan Render { return b.renders }

// Lookup memoizes loader under key in the board's lookup cache.
func (b *Board) Lookup(ctx context.Context, key string, loader cache.Loader) (any, error) {
	return b.lookup.GetOrLoad(ctx, key, loader)
}

// Store returns the board's durable store.
func (b *Board) Store() store.Store { return b.st }

// Cache returns the board's lookup cache.
func (b *Board) Cache() *cache.Cache { return b.lookup }

// Pool returns the board's worker pool, the submission point for jobs
// built outside the board (the server persists through it).
func (b *Board) Pool() *worker.Pool { return b.pool }

// Throttler returns the announcement throttler. Offers made directly to
// it flow through the same pool and speaker as Announce.
func (b *Board) Throttler() *announce.Throttler { return b.throttle }

// Stats returns a point-in-time snapshot across subsystems.
func (b *Board) Stats() Stats {
	return Stats{
		Pool:     b.pool.Stats(),
		Announce: b.throttle.Snapshot(),
		Cache:    b.lookup.Snapshot(),
	}
}

// drainLoop is the interactive context: the single goroutine that
// consumes job results, feed frames, and the poll ticker, and builds
// render snapshots. It exits when the pool's results channel closes.
func (b *Board) drainLoop() {
	defer b.wg.Done()

	var pollC <-chan time.Time
	if b.cfg.PollInterval > 0 {
		ticker := time.NewTicker(b.cfg.PollInterval)
		defer ticker.Stop()
		pollC = ticker.C
	}

	var feedC <-chan *feed.Frame
	if b.feed != nil {
		feedC = b.feed.Frames()
	}

	for {
		select {
		case <-b.stopCh:
			return
		case r, ok := <-b.pool.Results():
			if !ok {
				return
			}
			b.onResult(r)
		case f, ok := <-feedC:
			if !ok {
				feedC = nil
				continue
			}
			b.onFrame(f)
		case <-pollC:
			b.Refresh(subjectSchedule)
		case <-b.renderReq:
			b.emitRender()
		}
	}
}

// onResult routes one completion by kind.
func (b *Board) onResult(r job.Result) {
	switch r.Kind {
	case job.KindFetch:
		b.onFetch(r)
	case job.KindSynthPlay:
		b.throttle.OnResult(r)
	case job.KindDBWrite:
		b.wmu.Lock()
		table, tracked := b.writes[r.JobID]
		delete(b.writes, r.JobID)
		b.wmu.Unlock()

		if r.Err != nil {
			b.logger.Error("write failed",
				slog.String("subject", r.Subject),
				slog.String("error", r.Err.Error()),
			)
			return
		}
		if tracked {
			b.lookup.InvalidatePrefix(table + ":")
		}
		// A refresh without a source has nothing to fetch.
		if _, absent := b.src.(source.Nop); !absent {
			b.Refresh(r.Subject)
		}
	}
}

// onFetch folds a fetch outcome into the render projection. Failures
// keep the last-known-good rows and raise the stale flag.
func (b *Board) onFetch(r job.Result) {
	if r.Err != nil {
		if !errors.Is(r.Err, source.ErrUnavailable) && !errors.Is(r.Err, job.ErrCanceled) {
			b.logger.Warn("fetch failed",
				slog.String("subject", r.Subject),
				slog.String("error", r.Err.Error()),
			)
		}
		b.stale = true
		b.scheduleRender()
		return
	}

	rows, ok := r.Value.([]source.Row)
	if !ok {
		b.logger.Error("fetch result carried unexpected value",
			slog.String("subject", r.Subject))
		return
	}
	b.rows = rows
	b.stale = false
	b.syncedAt = r.CompletedAt
	b.scheduleRender()
}

// onFrame reacts to one push frame. Data frames become debounced refresh
// triggers; the server already spoke announce frames.
func (b *Board) onFrame(f *feed.Frame) {
	switch f.Type {
	case feed.FrameUpdate, feed.FrameSnapshot:
		b.Refresh(subjectSchedule)
	}
}

// scheduleRender opens (or extends) the render coalescing window.
func (b *Board) scheduleRender() {
	b.coalesce.Trigger(subjectSchedule, struct{}{})
}

// requestRender asks the drain loop for a snapshot. Called from the
// coalescer's timer goroutine; the token channel keeps projection access
// on the loop goroutine.
func (b *Board) requestRender() {
	select {
	case b.renderReq <- struct{}{}:
	default:
	}
}

// emitRender publishes the current projection, discarding the oldest
// pending render when the consumer lags.
func (b *Board) emitRender() {
	rows := make([]source.Row, len(b.rows))
	copy(rows, b.rows)
	r := Render{Rows: rows, Stale: b.stale, SyncedAt: b.syncedAt}

	select {
	case b.renders <- r:
		return
	default:
	}
	select {
	case <-b.renders:
	default:
	}
	select {
	case b.renders <- r:
	default:
	}
}

// submitFetch is the refresh debouncer's action: one interactive fetch
// job per settled window.
func (b *Board) submitFetch(subject string, q source.Query) {
	j := job.New(job.FetchPayload{Resource: q.Resource, Params: q.Params},
		job.WithSubject(subject),
		job.WithInteractive(),
		job.WithTimeout(b.cfg.RequestTimeout),
	)
	if _, err := b.pool.TrySubmit(j); err != nil {
		b.logger.Debug("refresh skipped",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
	}
}

// submitAnnouncement hands a throttler-approved event to the pool as a
// synth_play job.
func (b *Board) submitAnnouncement(ev announce.Event) (id.JobID, error) {
	j := job.New(job.SynthPlayPayload{
		Lines:  ev.Lines,
		Pause:  announcePause,
		Repeat: ev.Repeat,
		Gap:    ev.Gap,
	}, job.WithSubject(ev.Subject))
	if _, err := b.pool.TrySubmit(j); err != nil {
		return id.Nil, err
	}
	return j.ID, nil
}

// executeFetch is the worker handler for fetch jobs.
func (b *Board) executeFetch(ctx context.Context, p job.FetchPayload) (any, error) {
	return b.src.Fetch(ctx, source.Query{Resource: p.Resource, Params: p.Params})
}

// executeSynth is the worker handler for synth_play jobs. Without a
// speaker the job succeeds silently; the throttler still records the
// announcement as made.
func (b *Board) executeSynth(ctx context.Context, p job.SynthPlayPayload) error {
	if b.speaker == nil {
		b.logger.Debug("announcement skipped, no speaker configured")
		return nil
	}

	lines := make([]audio.Line, 0, len(p.Lines))
	for _, l := range p.Lines {
		lines = append(lines, audio.Line{Text: l.Text, Lang: l.Lang})
	}
	return b.speaker.Speak(ctx, audio.Sequence{
		Lines:  lines,
		Pause:  p.Pause,
		Repeat: p.Repeat,
		Gap:    p.Gap,
	})
}

// executeWrite is the worker handler for db_write jobs. The result value
// is the written key.
func (b *Board) executeWrite(ctx context.Context, p job.WritePayload) (any, error) {
	switch {
	case p.Delete:
		if err := b.st.Delete(ctx, p.Table, p.Key); err != nil {
			return nil, err
		}
	case p.Unique:
		if err := b.st.Insert(ctx, p.Table, store.Row{Key: p.Key, Fields: p.Fields}); err != nil {
			return nil, err
		}
	default:
		if err := b.st.Put(ctx, p.Table, store.Row{Key: p.Key, Fields: p.Fields}); err != nil {
			return nil, err
		}
	}
	return p.Key, nil
}
