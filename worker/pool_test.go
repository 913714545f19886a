package worker_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/opdacuont2563-hash/surgibot/job"
	"github.com/opdacuont2563-hash/surgibot/middleware"
	"github.com/opdacuont2563-hash/surgibot/queue"
	"github.com/opdacuont2563-hash/surgibot/worker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestPool(t *testing.T, workers int, execs worker.Executors, mws ...middleware.Middleware) *worker.Pool {
	t.Helper()
	logger := discardLogger()
	q := queue.New(queue.WithCapacity(16))
	executor := worker.NewExecutor(execs, logger, mws...)
	return worker.NewPool(q, executor, logger, worker.WithWorkers(workers))
}

// echoExecutors returns handlers that succeed immediately with
// recognizable values.
func echoExecutors() worker.Executors {
	return worker.Executors{
		Fetch: func(_ context.Context, p job.FetchPayload) (any, error) {
			return "rows:" + p.Resource, nil
		},
		SynthPlay: func(_ context.Context, _ job.SynthPlayPayload) error {
			return nil
		},
		DBWrite: func(_ context.Context, p job.WritePayload) (any, error) {
			return p.Key, nil
		},
	}
}

func awaitResult(t *testing.T, h *job.Handle) job.Result {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := h.Await(ctx)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	return r
}

func stopPool(t *testing.T, pool *worker.Pool) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestPool_StartStop(t *testing.T) {
	pool := setupTestPool(t, 2, echoExecutors())

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be a no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	stopPool(t, pool)
	// Double stop should be a no-op.
	stopPool(t, pool)
}

func TestPool_DispatchesEveryKind(t *testing.T) {
	pool := setupTestPool(t, 2, echoExecutors())
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopPool(t, pool)

	fetchH, err := pool.TrySubmit(job.New(job.FetchPayload{Resource: "list"}))
	if err != nil {
		t.Fatalf("submit fetch: %v", err)
	}
	speakH, err := pool.TrySubmit(job.New(job.SynthPlayPayload{
		Lines: []job.SpeechLine{{Text: "ok", Lang: "en"}},
	}))
	if err != nil {
		t.Fatalf("submit synth_play: %v", err)
	}
	writeH, err := pool.TrySubmit(job.New(job.WritePayload{Table: "status", Key: "hn-1"}))
	if err != nil {
		t.Fatalf("submit db_write: %v", err)
	}

	if r := awaitResult(t, fetchH); !r.Ok() || r.Value != "rows:list" {
		t.Errorf("fetch result = %+v, want ok with rows:list", r)
	}
	if r := awaitResult(t, speakH); !r.Ok() || r.Value != nil {
		t.Errorf("synth_play result = %+v, want ok with nil value", r)
	}
	if r := awaitResult(t, writeH); !r.Ok() || r.Value != "hn-1" {
		t.Errorf("db_write result = %+v, want ok with hn-1", r)
	}

	j := fetchH.Job()
	if j.State != job.StateCompleted {
		t.Errorf("job state = %q, want %q", j.State, job.StateCompleted)
	}
	if j.StartedAt == nil || j.CompletedAt == nil {
		t.Error("expected StartedAt and CompletedAt to be set")
	}
}

func TestPool_FailedJobKeepsError(t *testing.T) {
	boom := errors.New("upstream down")
	execs := worker.Executors{
		Fetch: func(_ context.Context, _ job.FetchPayload) (any, error) {
			return nil, boom
		},
	}
	pool := setupTestPool(t, 1, execs)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopPool(t, pool)

	h, err := pool.TrySubmit(job.New(job.FetchPayload{Resource: "list"}))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	r := awaitResult(t, h)
	if !errors.Is(r.Err, boom) {
		t.Errorf("result err = %v, want %v", r.Err, boom)
	}
	if h.Job().State != job.StateFailed {
		t.Errorf("job state = %q, want %q", h.Job().State, job.StateFailed)
	}
	if h.Job().LastError == "" {
		t.Error("expected LastError to be set")
	}
}

func TestPool_MissingExecutorFailsJob(t *testing.T) {
	pool := setupTestPool(t, 1, worker.Executors{})
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopPool(t, pool)

	h, err := pool.TrySubmit(job.New(job.FetchPayload{Resource: "list"}))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	r := awaitResult(t, h)
	if r.Err == nil || !strings.Contains(r.Err.Error(), "no fetch executor") {
		t.Errorf("result err = %v, want missing-executor error", r.Err)
	}
}

func TestPool_PanicBecomesErrorResult(t *testing.T) {
	execs := worker.Executors{
		Fetch: func(_ context.Context, _ job.FetchPayload) (any, error) {
			panic("boom")
		},
	}
	pool := setupTestPool(t, 1, execs, middleware.Recover(discardLogger()))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopPool(t, pool)

	h, err := pool.TrySubmit(job.New(job.FetchPayload{Resource: "list"}))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	r := awaitResult(t, h)
	if r.Err == nil || !strings.Contains(r.Err.Error(), "panic in fetch job") {
		t.Errorf("result err = %v, want recovered panic error", r.Err)
	}
}

func TestPool_TimeoutYieldsErrTimeout(t *testing.T) {
	execs := worker.Executors{
		Fetch: func(ctx context.Context, _ job.FetchPayload) (any, error) {
			select {
			case <-time.After(2 * time.Second):
				return "too late", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	pool := setupTestPool(t, 1, execs, middleware.Timeout(discardLogger()))
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopPool(t, pool)

	h, err := pool.TrySubmit(job.New(job.FetchPayload{Resource: "list"}, job.WithTimeout(30*time.Millisecond)))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	r := awaitResult(t, h)
	if !errors.Is(r.Err, job.ErrTimeout) {
		t.Errorf("result err = %v, want job.ErrTimeout", r.Err)
	}
}

func TestPool_CancelQueuedJob(t *testing.T) {
	gate := make(chan struct{})
	execs := worker.Executors{
		Fetch: func(ctx context.Context, _ job.FetchPayload) (any, error) {
			select {
			case <-gate:
				return "rows", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	pool := setupTestPool(t, 1, execs)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	blocked, err := pool.TrySubmit(job.New(job.FetchPayload{Resource: "a"}))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitActive(t, pool, 1)

	queued, err := pool.TrySubmit(job.New(job.FetchPayload{Resource: "b"}))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	if !pool.Cancel(queued.Job().ID) {
		t.Fatal("expected Cancel to remove the queued job")
	}
	// Cancelling twice (or cancelling a running job) reports false.
	if pool.Cancel(queued.Job().ID) {
		t.Error("second Cancel should report false")
	}
	if pool.Cancel(blocked.Job().ID) {
		t.Error("Cancel of a running job should report false")
	}

	r := awaitResult(t, queued)
	if !errors.Is(r.Err, job.ErrCanceled) {
		t.Errorf("result err = %v, want job.ErrCanceled", r.Err)
	}
	if queued.Job().State != job.StateCancelled {
		t.Errorf("job state = %q, want %q", queued.Job().State, job.StateCancelled)
	}

	close(gate)
	if r := awaitResult(t, blocked); !r.Ok() {
		t.Errorf("running job result err = %v, want success", r.Err)
	}
	stopPool(t, pool)
}

func TestPool_StopResolvesQueuedHandles(t *testing.T) {
	gate := make(chan struct{})
	execs := worker.Executors{
		Fetch: func(ctx context.Context, _ job.FetchPayload) (any, error) {
			select {
			case <-gate:
				return "rows", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	pool := setupTestPool(t, 1, execs)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	running, err := pool.TrySubmit(job.New(job.FetchPayload{Resource: "a"}))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitActive(t, pool, 1)

	queuedA, err := pool.TrySubmit(job.New(job.FetchPayload{Resource: "b"}))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	queuedB, err := pool.TrySubmit(job.New(job.FetchPayload{Resource: "c"}))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	stopDone := make(chan struct{})
	go func() {
		defer close(stopDone)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	}()

	// Queued jobs resolve with ErrCanceled while the running one finishes.
	for _, h := range []*job.Handle{queuedA, queuedB} {
		if r := awaitResult(t, h); !errors.Is(r.Err, job.ErrCanceled) {
			t.Errorf("queued job err = %v, want job.ErrCanceled", r.Err)
		}
	}

	close(gate)
	<-stopDone

	if r := awaitResult(t, running); !r.Ok() {
		t.Errorf("running job err = %v, want success", r.Err)
	}

	// Submissions after shutdown are refused.
	if _, err := pool.TrySubmit(job.New(job.FetchPayload{Resource: "d"})); !errors.Is(err, queue.ErrClosed) {
		t.Errorf("submit after stop err = %v, want queue.ErrClosed", err)
	}
}

func TestPool_ResultsChannelDeliversCompletions(t *testing.T) {
	pool := setupTestPool(t, 2, echoExecutors())
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	const n = 5
	for i := 0; i < n; i++ {
		if _, err := pool.TrySubmit(job.New(job.FetchPayload{Resource: "list"})); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	// Wait for all completions, then Stop closes the channel so range ends.
	got := 0
	deadline := time.After(5 * time.Second)
	for got < n {
		select {
		case r := <-pool.Results():
			if !r.Ok() {
				t.Errorf("unexpected result error: %v", r.Err)
			}
			got++
		case <-deadline:
			t.Fatalf("timed out, received %d of %d results", got, n)
		}
	}

	stopPool(t, pool)
	if _, open := <-pool.Results(); open {
		t.Error("expected results channel to close after Stop")
	}
}

func TestPool_InteractiveBeatsBackgroundThroughPool(t *testing.T) {
	gate := make(chan struct{})
	order := make(chan string, 8)
	execs := worker.Executors{
		Fetch: func(ctx context.Context, p job.FetchPayload) (any, error) {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			order <- p.Resource
			return nil, nil
		},
	}
	pool := setupTestPool(t, 1, execs)
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer stopPool(t, pool)

	// First job occupies the only worker; the rest queue up.
	if _, err := pool.TrySubmit(job.New(job.FetchPayload{Resource: "first"})); err != nil {
		t.Fatalf("submit: %v", err)
	}
	waitActive(t, pool, 1)

	bg, err := pool.Submit(context.Background(), job.New(job.FetchPayload{Resource: "bg"}))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	ia, err := pool.TrySubmit(job.New(job.FetchPayload{Resource: "ia"}, job.WithInteractive()))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	close(gate)
	awaitResult(t, ia)
	awaitResult(t, bg)

	<-order // first
	if next := <-order; next != "ia" {
		t.Errorf("second executed job = %q, want the interactive one", next)
	}
}

func waitActive(t *testing.T, pool *worker.Pool, n int) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for pool.Stats().Active != n {
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d active jobs", n)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}
