package auth

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"
)

const testSecret = "super-secret"

func fixedClock() time.Time {
	return time.Date(2026, time.August, 1, 12, 0, 0, 0, time.UTC)
}

func newSignedRequest(body, timestamp, nonce string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/materials:resolve", strings.NewReader(body))
	req.Header.Set(TimestampHeader, timestamp)
	req.Header.Set(NonceHeader, nonce)
	req.Header.Set(SignatureHeader, Sign([]byte(testSecret), http.MethodPost, "/api/v1/materials:resolve", []byte(body), timestamp, nonce))
	return req
}

func serve(v *Validator, req *http.Request) (*httptest.ResponseRecorder, *bool) {
	reached := false
	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, &reached
}

func TestValidatorAcceptsSignedRequest(t *testing.T) {
	v := NewValidator(testSecret, NewInMemoryNonceStore(), WithClock(fixedClock))
	req := newSignedRequest(`{"query":"toilet"}`, fixedClock().Format(time.RFC3339), "nonce-1")

	rec, reached := serve(v, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	if !*reached {
		t.Error("handler not reached")
	}
}

func TestValidatorRejectsMissingSignature(t *testing.T) {
	v := NewValidator(testSecret, NewInMemoryNonceStore(), WithClock(fixedClock))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/materials:resolve", strings.NewReader(`{}`))

	rec, reached := serve(v, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if *reached {
		t.Error("handler must not run")
	}
}

func TestValidatorRejectsTamperedBody(t *testing.T) {
	v := NewValidator(testSecret, NewInMemoryNonceStore(), WithClock(fixedClock))
	req := newSignedRequest(`{"query":"toilet"}`, fixedClock().Format(time.RFC3339), "nonce-1")
	req.Body = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"query":"bidet"}`)).Body

	rec, reached := serve(v, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if *reached {
		t.Error("handler must not run")
	}
}

func TestValidatorRejectsStaleTimestamp(t *testing.T) {
	v := NewValidator(testSecret, NewInMemoryNonceStore(), WithClock(fixedClock))
	stale := fixedClock().Add(-time.Hour).Format(time.RFC3339)
	req := newSignedRequest(`{"query":"toilet"}`, stale, "nonce-1")

	rec, _ := serve(v, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status %d", rec.Code)
	}
}

func TestValidatorRejectsNonceReplay(t *testing.T) {
	v := NewValidator(testSecret, NewInMemoryNonceStore(), WithClock(fixedClock))
	timestamp := fixedClock().Format(time.RFC3339)

	first, _ := serve(v, newSignedRequest(`{"query":"toilet"}`, timestamp, "nonce-1"))
	if first.Code != http.StatusOK {
		t.Fatalf("first request status %d", first.Code)
	}
	second, reached := serve(v, newSignedRequest(`{"query":"toilet"}`, timestamp, "nonce-1"))
	if second.Code != http.StatusUnauthorized {
		t.Fatalf("replayed nonce status %d", second.Code)
	}
	if *reached {
		t.Error("handler must not run on a replay")
	}
}

func TestValidatorAcceptsUnixTimestampsAndHexSignatures(t *testing.T) {
	v := NewValidator(testSecret, NewInMemoryNonceStore(), WithClock(fixedClock))
	timestamp := strconv.FormatInt(fixedClock().Unix(), 10)
	body := `{"query":"toilet"}`

	req := httptest.NewRequest(http.MethodPost, "/api/v1/materials:resolve", strings.NewReader(body))
	req.Header.Set(TimestampHeader, timestamp)
	req.Header.Set(NonceHeader, "nonce-2")
	mac := computeHMAC([]byte(testSecret), canonicalString(http.MethodPost, "/api/v1/materials:resolve", []byte(body), timestamp, "nonce-2"))
	req.Header.Set(SignatureHeader, hex.EncodeToString(mac))

	rec, _ := serve(v, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
}

func TestNonceStoreExpiry(t *testing.T) {
	store := NewInMemoryNonceStore()
	expiry := time.Now().Add(50 * time.Millisecond)

	if ok, err := store.UseNonce(context.Background(), "n1", expiry); err != nil || !ok {
		t.Fatalf("first use: ok=%v err=%v", ok, err)
	}
	if ok, _ := store.UseNonce(context.Background(), "n1", expiry); ok {
		t.Fatal("nonce reuse inside the window must be rejected")
	}

	time.Sleep(60 * time.Millisecond)
	if ok, err := store.UseNonce(context.Background(), "n1", time.Now().Add(time.Minute)); err != nil || !ok {
		t.Fatalf("expired nonce must be reusable: ok=%v err=%v", ok, err)
	}
}
