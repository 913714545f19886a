package observability_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/opdacuont2563-hash/surgibot/observability"
)

func initForTest(t *testing.T) http.Handler {
	t.Helper()

	handler, shutdown, err := observability.InitMetrics()
	if err != nil {
		t.Fatalf("InitMetrics: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = shutdown(ctx)
	})
	if handler == nil {
		t.Fatal("nil scrape handler")
	}
	return handler
}

func scrape(t *testing.T, handler http.Handler) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr.Code, rr.Body.String()
}

func TestInitMetricsServesScrape(t *testing.T) {
	handler := initForTest(t)

	code, _ := scrape(t, handler)
	if code != http.StatusOK {
		t.Errorf("scrape status = %d, want %d", code, http.StatusOK)
	}
}

func TestRecordedMetricAppearsInScrape(t *testing.T) {
	handler := initForTest(t)

	counter, err := otel.Meter("surgibot-test").Int64Counter("board_updates_applied")
	if err != nil {
		t.Fatalf("create counter: %v", err)
	}
	counter.Add(context.Background(), 7)

	code, body := scrape(t, handler)
	if code != http.StatusOK {
		t.Fatalf("scrape status = %d", code)
	}
	if !strings.Contains(body, "board_updates_applied") {
		t.Errorf("scrape output missing counter:\n%s", body)
	}
	if !strings.Contains(body, "7") {
		t.Errorf("scrape output missing recorded value:\n%s", body)
	}
}

func TestReinitializationDoesNotCollide(t *testing.T) {
	first := initForTest(t)
	second := initForTest(t)

	for i, h := range []http.Handler{first, second} {
		if code, _ := scrape(t, h); code != http.StatusOK {
			t.Errorf("handler %d scrape status = %d", i, code)
		}
	}
}
