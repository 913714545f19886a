// Package server aggregates the live operating-room board: it applies
// update requests, sweeps lifecycle transitions, renders masked
// snapshots, and serves the HTTP and WebSocket API. Side effects of
// every change fan out the same way regardless of origin: the row is
// persisted through the worker pool, a frame is pushed to the feed hub,
// a surgery event is recorded, and qualifying changes are offered to the
// announcement throttler.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/opdacuont2563-hash/surgibot/announce"
	"github.com/opdacuont2563-hash/surgibot/cache"
	"github.com/opdacuont2563-hash/surgibot/feed"
	"github.com/opdacuont2563-hash/surgibot/job"
	"github.com/opdacuont2563-hash/surgibot/store"
)

// Submitter hands background work to the worker pool. *worker.Pool
// satisfies it.
type Submitter interface {
	TrySubmit(j *job.Job) (*job.Handle, error)
}

// Option configures a Server.
type Option func(*Server)

// WithAddr sets the listen address. Default ":8088".
func WithAddr(addr string) Option {
	return func(s *Server) { s.addr = addr }
}

// WithToken sets the shared API secret. Without one, every mutating
// route is disabled and no surface ever reveals a full hospital number.
func WithToken(token string) Option {
	return func(s *Server) { s.token = token }
}

// WithSubmitter wires the worker pool used for store writes.
func WithSubmitter(pool Submitter) Option {
	return func(s *Server) { s.pool = pool }
}

// WithAnnouncer wires the announcement throttler.
func WithAnnouncer(a Announcer) Option {
	return func(s *Server) { s.ann = a }
}

// WithLookupCache wires the cache that memoizes catalog lookups.
func WithLookupCache(c *cache.Cache) Option {
	return func(s *Server) { s.lookup = c }
}

// WithMetricsHandler mounts a handler at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithAnnounceSchedule sets the cron spec for the public waiting-area
// announcement. Default "*/20 * * * *"; empty disables it.
func WithAnnounceSchedule(spec string) Option {
	return func(s *Server) { s.announceSpec = spec }
}

// WithSweepInterval sets how often the lifecycle janitor runs.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Server) { s.sweepEvery = d }
}

// WithServerName sets the name sent in feed hello frames.
func WithServerName(name string) Option {
	return func(s *Server) { s.name = name }
}

// WithServerClock injects the server's time source for tests.
func WithServerClock(clock func() time.Time) Option {
	return func(s *Server) { s.clock = clock }
}

// Server owns the board state and its API surface. Store, pool,
// announcer, hub, and cache are all optional: a nil dependency skips
// that side effect, which keeps partial assemblies testable.
type Server struct {
	state  *State
	store  store.Store
	hub    *feed.Hub
	logger *slog.Logger

	pool    Submitter
	ann     Announcer
	lookup  *cache.Cache
	metrics http.Handler

	addr         string
	token        string
	name         string
	announceSpec string
	sweepEvery   time.Duration
	clock        func() time.Time
	startedAt    time.Time
}

// New assembles a Server around the board state.
func New(state *State, st store.Store, hub *feed.Hub, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		state:        state,
		store:        st,
		hub:          hub,
		logger:       logger,
		addr:         ":8088",
		name:         "surgibot",
		announceSpec: "*/20 * * * *",
		sweepEvery:   time.Second,
		clock:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.startedAt = s.clock()
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /api/list", s.handleList)
	mux.HandleFunc("GET /api/list_full", s.handleListFull)
	mux.HandleFunc("POST /api/update", s.handleUpdate)
	mux.HandleFunc("GET /api/icd10", s.handleICD10)
	mux.HandleFunc("GET /api/ws", s.handleWS)
	mux.HandleFunc("GET /ws", s.handleWS)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics)
	}
	return mux
}

// Run serves the API and drives the lifecycle janitor and the public
// announcement schedule until ctx ends.
func (s *Server) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		s.logger.Info("api listening", slog.String("addr", s.addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		s.runJanitor(gctx)
		return nil
	})

	if s.announceSpec != "" && s.ann != nil {
		g.Go(func() error {
			return s.runPublicAnnouncer(gctx)
		})
	}

	return g.Wait()
}

// runJanitor sweeps lifecycle clocks once per interval. Every resulting
// transition fans out exactly like a client-submitted update.
func (s *Server) runJanitor(ctx context.Context) {
	ticker := time.NewTicker(s.sweepEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, ch := range s.state.Sweep() {
				s.applyChange(ctx, ch)
			}
		}
	}
}

// Apply runs one update against the board and fans out its side
// effects. This is the single entry point shared by the HTTP handler
// and the board orchestrator.
func (s *Server) Apply(ctx context.Context, u Update) (Change, error) {
	ch, err := s.state.Apply(u)
	if err != nil {
		return Change{}, err
	}
	s.applyChange(ctx, ch)
	return ch, nil
}

// applyChange fans a board change out to persistence, the push feed,
// the surgery event log, and the announcement throttler.
func (s *Server) applyChange(ctx context.Context, ch Change) {
	if ch.Empty() {
		return
	}

	pid := ch.Patient.ID

	switch ch.Action {
	case ActionDelete:
		s.persist(ctx, job.WritePayload{Table: TablePatients, Key: pid, Delete: true}, pid)
	default:
		s.persist(ctx, job.WritePayload{Table: TablePatients, Key: pid, Fields: patientFields(ch.Patient)}, pid)
	}

	if ch.StatusChanged {
		s.persist(ctx, job.WritePayload{
			Table:  TableSurgeryEvents,
			Key:    uuid.NewString(),
			Unique: true,
			Fields: map[string]any{
				"patient_id": pid,
				"status":     string(ch.Patient.Status),
				"at":         s.clock().UTC().Format(time.RFC3339Nano),
			},
		}, pid)
	}

	s.broadcastUpdate(ch)

	if ch.Announce {
		s.announceEvent(ctx, statusEvent(pid, ch.Patient.Status))
	}
}

// persist hands a store write to the worker pool. When the queue is
// full or absent the write lands synchronously so a change is never
// silently lost.
func (s *Server) persist(ctx context.Context, p job.WritePayload, subject string) {
	if s.store == nil {
		return
	}

	if s.pool != nil {
		_, err := s.pool.TrySubmit(job.New(p, job.WithSubject(subject), job.WithInteractive()))
		if err == nil {
			return
		}
		s.logger.Warn("store write fell back to direct",
			slog.String("table", p.Table),
			slog.String("key", p.Key),
			slog.String("error", err.Error()),
		)
	}

	var err error
	switch {
	case p.Delete:
		err = s.store.Delete(ctx, p.Table, p.Key)
		if errors.Is(err, store.ErrNotFound) {
			err = nil
		}
	case p.Unique:
		err = s.store.Insert(ctx, p.Table, store.Row{Key: p.Key, Fields: p.Fields})
	default:
		err = s.store.Put(ctx, p.Table, store.Row{Key: p.Key, Fields: p.Fields})
	}
	if err != nil {
		s.logger.Error("store write failed",
			slog.String("table", p.Table),
			slog.String("key", p.Key),
			slog.String("error", err.Error()),
		)
	}
}

// broadcastUpdate pushes one masked row change to every feed
// subscriber.
func (s *Server) broadcastUpdate(ch Change) {
	if s.hub == nil {
		return
	}

	row := s.state.Row(ch.Patient.ID, false)
	if row == nil {
		// The row is gone (delete or swept); render its final form.
		row = snapshotRow(&ch.Patient, false, s.clock())
	}

	frame, err := feed.NewFrame(feed.FrameUpdate, ch.Patient.ID, feed.UpdateData{
		Action: string(ch.Action),
		Row:    row,
	})
	if err != nil {
		s.logger.Error("encode update frame", slog.String("error", err.Error()))
		return
	}
	s.hub.Broadcast(frame)
}

// announceEvent offers one announcement to the throttler and, when it
// is accepted, mirrors it onto the feed and into the announcement
// history.
func (s *Server) announceEvent(ctx context.Context, ev announce.Event) {
	if s.ann == nil {
		return
	}

	d, err := s.ann.Offer(ev)
	if err != nil {
		s.logger.Warn("announcement refused",
			slog.String("subject", ev.Subject),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Debug("announcement offered",
		slog.String("subject", ev.Subject),
		slog.String("decision", string(d)),
	)
	if d != announce.DecisionSubmitted {
		return
	}

	texts := make([]string, len(ev.Lines))
	for i, l := range ev.Lines {
		texts[i] = l.Text
	}

	if s.hub != nil {
		frame, ferr := feed.NewFrame(feed.FrameAnnounce, ev.Subject, feed.AnnounceData{
			Subject: ev.Subject,
			Lines:   texts,
		})
		if ferr == nil {
			s.hub.Broadcast(frame)
		}
	}

	s.persist(ctx, job.WritePayload{
		Table:  TableAnnouncements,
		Key:    uuid.NewString(),
		Unique: true,
		Fields: map[string]any{
			"subject": ev.Subject,
			"lines":   texts,
			"at":      s.clock().UTC().Format(time.RFC3339Nano),
		},
	}, ev.Subject)
}

// ----- HTTP handlers -----

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := s.clock().UTC()
	s.respondJSON(w, http.StatusOK, map[string]any{
		"ok":             true,
		"ts":             now.Format(time.RFC3339),
		"uptime_seconds": int(now.Sub(s.startedAt).Seconds()),
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// handleList serves the board. The full hospital numbers ride along
// only for callers presenting the shared token; everyone else gets the
// masked rendition with the same shape.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	authed := s.authorized(r.URL.Query().Get("token"))
	s.respondJSON(w, http.StatusOK, map[string]any{
		"items":       s.state.Snapshot(authed),
		"server_time": s.clock().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleListFull(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r.URL.Query().Get("token")) {
		s.httpError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"items":       s.state.Snapshot(true),
		"server_time": s.clock().UTC().Format(time.RFC3339),
	})
}

type updateRequest struct {
	Token     string `json:"token"`
	Action    string `json:"action"`
	OR        string `json:"or"`
	Queue     string `json:"queue"`
	PatientID string `json:"patient_id"`
	Status    string `json:"status"`
	ETA       any    `json:"eta_minutes"`
	HN        string `json:"hn"`
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	if s.token == "" {
		s.httpError(w, "updates disabled", http.StatusForbidden)
		return
	}

	var req updateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.httpError(w, "invalid json", http.StatusBadRequest)
		return
	}

	if !s.authorized(req.Token) {
		s.httpError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	action := Action(strings.ToLower(strings.TrimSpace(req.Action)))
	pid := req.PatientID
	if pid == "" {
		pid = req.OR + "-" + req.Queue
	}

	if action != ActionAdd && action != ActionEdit && action != ActionDelete {
		s.httpError(w, "invalid action", http.StatusBadRequest)
		return
	}
	if pid == "" || pid == "-" {
		s.httpError(w, "missing patient_id", http.StatusBadRequest)
		return
	}

	hn := strings.TrimSpace(req.HN)
	if hn != "" && !isNineDigits(hn) {
		s.httpError(w, "HN must be 9 digits", http.StatusBadRequest)
		return
	}

	u := Update{
		Action:     action,
		PatientID:  pid,
		Status:     Status(req.Status),
		ETAMinutes: coerceETA(req.ETA),
		HN:         hn,
	}

	if _, err := s.Apply(r.Context(), u); err != nil {
		switch {
		case errors.Is(err, ErrUnknownPatient):
			s.httpError(w, "unknown patient", http.StatusNotFound)
		default:
			s.httpError(w, "invalid update", http.StatusBadRequest)
		}
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"ok":         true,
		"queued":     true,
		"patient_id": pid,
	})
}

func (s *Server) handleICD10(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	if strings.TrimSpace(query) == "" {
		s.httpError(w, "missing query", http.StatusBadRequest)
		return
	}

	entries, err := s.LookupICD10(r.Context(), query)
	if err != nil {
		s.logger.Error("icd10 lookup failed", slog.String("error", err.Error()))
		s.httpError(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if entries == nil {
		entries = []ICD10Entry{}
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"ok": true, "results": entries})
}

// handleWS upgrades the connection and streams board frames: a hello,
// a full snapshot, then every broadcast until either side hangs up.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.token != "" && !s.authorized(r.URL.Query().Get("token")) {
		s.httpError(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if s.hub == nil {
		s.httpError(w, "feed unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		s.logger.Warn("ws upgrade failed", slog.String("error", err.Error()))
		return
	}

	sub := s.hub.Subscribe(uuid.NewString())
	go s.serveFeed(conn, sub)
}

func (s *Server) serveFeed(conn net.Conn, sub *feed.Subscriber) {
	defer conn.Close()
	defer s.hub.Remove(sub.ID())

	hello, err := feed.NewFrame(feed.FrameHello, "", feed.HelloData{
		Server: s.name,
		Time:   s.clock().UTC(),
	})
	if err == nil {
		err = s.writeFrame(conn, hello)
	}
	if err == nil {
		var snap *feed.Frame
		snap, err = feed.NewFrame(feed.FrameSnapshot, "", feed.SnapshotData{
			Rows: s.state.Snapshot(false),
		})
		if err == nil {
			err = s.writeFrame(conn, snap)
		}
	}
	if err != nil {
		s.logger.Debug("feed greeting failed", slog.String("error", err.Error()))
		return
	}

	// Drain client frames so closes and pings surface as read errors.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, err := wsutil.ReadClientBinary(conn); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		case frame, ok := <-sub.C():
			if !ok {
				return
			}
			if err := s.writeFrame(conn, frame); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeFrame(conn net.Conn, f *feed.Frame) error {
	data, err := f.Encode()
	if err != nil {
		return err
	}
	return wsutil.WriteServerBinary(conn, data)
}

// ----- helpers -----

func (s *Server) authorized(token string) bool {
	if s.token == "" || token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) == 1
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Debug("encode response failed", slog.String("error", err.Error()))
		}
	}
}

func (s *Server) httpError(w http.ResponseWriter, message string, code int) {
	s.respondJSON(w, code, map[string]any{"ok": false, "error": message})
}

func isNineDigits(hn string) bool {
	if len(hn) != 9 {
		return false
	}
	for _, r := range hn {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// coerceETA accepts the loosely typed eta_minutes field: numbers and
// numeric strings become minutes, negatives and everything else drop.
func coerceETA(v any) *int {
	var eta int
	switch n := v.(type) {
	case nil:
		return nil
	case float64:
		eta = int(n)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return nil
		}
		eta = parsed
	default:
		return nil
	}
	if eta < 0 {
		return nil
	}
	return &eta
}
