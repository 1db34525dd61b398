package idempotency

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func fixedClock() time.Time {
	return time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)
}

func newGuardedHandler(t *testing.T, store Store, calls *int) http.Handler {
	t.Helper()
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	return Middleware(store, WithClock(fixedClock))(handler)
}

func postWithKey(handler http.Handler, key, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/materials", strings.NewReader(body))
	if key != "" {
		req.Header.Set(headerName, key)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestMiddlewareReplaysCompletedResponse(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := newGuardedHandler(t, store, &calls)

	first := postWithKey(handler, "job-1", `{"material":{"name":"Stud"}}`)
	if first.Code != http.StatusAccepted {
		t.Fatalf("first request status %d", first.Code)
	}
	if first.Header().Get(replayHeaderName) != "" {
		t.Error("first response must not be marked as a replay")
	}

	second := postWithKey(handler, "job-1", `{"material":{"name":"Stud"}}`)
	if second.Code != http.StatusAccepted {
		t.Fatalf("replay status %d", second.Code)
	}
	if second.Header().Get(replayHeaderName) != "true" {
		t.Error("replay header missing")
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("replay body %q differs from original %q", second.Body.String(), first.Body.String())
	}
	if calls != 1 {
		t.Errorf("handler ran %d times, want 1", calls)
	}
}

func TestMiddlewarePassesThroughWithoutKey(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := newGuardedHandler(t, store, &calls)

	postWithKey(handler, "", `{"material":{"name":"Stud"}}`)
	postWithKey(handler, "", `{"material":{"name":"Stud"}}`)
	if calls != 2 {
		t.Errorf("handler ran %d times, want 2", calls)
	}
}

func TestMiddlewareRejectsKeyReuseAcrossPayloads(t *testing.T) {
	store := NewMemoryStore()
	calls := 0
	handler := newGuardedHandler(t, store, &calls)

	postWithKey(handler, "job-1", `{"material":{"name":"Stud"}}`)
	rec := postWithKey(handler, "job-1", `{"material":{"name":"Toilet"}}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for reused key, got %d", rec.Code)
	}
	if calls != 1 {
		t.Errorf("handler ran %d times, want 1", calls)
	}
}

func TestMiddlewareReportsPendingKeys(t *testing.T) {
	store := NewMemoryStore()
	now := fixedClock()
	if _, err := store.Reserve(context.Background(), "job-1", fingerprintFor(`{"material":{"name":"Stud"}}`), now, time.Hour); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	calls := 0
	handler := newGuardedHandler(t, store, &calls)
	rec := postWithKey(handler, "job-1", `{"material":{"name":"Stud"}}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for in-flight key, got %d", rec.Code)
	}
	if calls != 0 {
		t.Errorf("handler must not run for a pending key, ran %d times", calls)
	}
}

func TestMiddlewareExpiredReservationRunsAgain(t *testing.T) {
	store := NewMemoryStore()
	past := fixedClock().Add(-48 * time.Hour)
	if err := store.SaveResponse(context.Background(), "job-1", fingerprintFor(`{"material":{"name":"Stud"}}`), http.StatusAccepted, []byte(`{"ok":true}`), past, time.Hour); err != nil {
		t.Fatalf("SaveResponse: %v", err)
	}

	calls := 0
	handler := newGuardedHandler(t, store, &calls)
	rec := postWithKey(handler, "job-1", `{"material":{"name":"Stud"}}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if rec.Header().Get(replayHeaderName) != "" {
		t.Error("expired record must not replay")
	}
	if calls != 1 {
		t.Errorf("handler ran %d times, want 1", calls)
	}
}

type failingStore struct {
	err error
}

func (f *failingStore) Reserve(context.Context, string, string, time.Time, time.Duration) (Reservation, error) {
	return Reservation{}, f.err
}

func (f *failingStore) SaveResponse(context.Context, string, string, int, []byte, time.Time, time.Duration) error {
	return f.err
}

func (f *failingStore) Release(context.Context, string, string) error {
	return f.err
}

func TestMiddlewareStoreFailureReturns500(t *testing.T) {
	calls := 0
	var events []string
	handler := Middleware(&failingStore{err: errors.New("backend down")},
		WithClock(fixedClock),
		WithLogger(func(_ context.Context, event string, _ map[string]any) {
			events = append(events, event)
		}),
	)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { calls++ }))

	rec := postWithKey(handler, "job-1", `{}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if calls != 0 {
		t.Error("handler must not run when the store is unavailable")
	}
	if len(events) != 1 || events[0] != "idempotency.reserve_failed" {
		t.Errorf("expected a reserve failure log, got %v", events)
	}
}

func fingerprintFor(body string) string {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/materials", strings.NewReader(body))
	return requestFingerprint(req, []byte(body))
}
