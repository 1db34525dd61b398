// Package auth verifies signed requests from the internal callers of the
// engine (the estimating pipeline and the scraper). Requests carry an
// HMAC-SHA256 signature over method, path, timestamp, nonce, and body hash,
// keyed by a shared secret distributed through Secret Manager.
package auth

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	// SignatureHeader carries the base64 or hex encoded HMAC.
	SignatureHeader = "X-Signature"
	// TimestampHeader carries the signing time (RFC3339 or unix seconds).
	TimestampHeader = "X-Signature-Timestamp"
	// NonceHeader carries a unique value per request for replay protection.
	NonceHeader = "X-Signature-Nonce"

	defaultClockSkew = 5 * time.Minute
	defaultNonceTTL  = 5 * time.Minute
)

// NonceStore tracks nonces to reject replays within the acceptance window.
type NonceStore interface {
	// UseNonce records the nonce if unseen. False means it was already used.
	UseNonce(ctx context.Context, nonce string, expiry time.Time) (bool, error)
}

// InMemoryNonceStore is a NonceStore for single-instance deployments and
// tests.
type InMemoryNonceStore struct {
	mu     sync.Mutex
	nonces map[string]time.Time
}

// NewInMemoryNonceStore constructs the store.
func NewInMemoryNonceStore() *InMemoryNonceStore {
	return &InMemoryNonceStore{nonces: make(map[string]time.Time)}
}

// UseNonce records the nonce until expiry, rejecting duplicates until then.
func (s *InMemoryNonceStore) UseNonce(_ context.Context, nonce string, expiry time.Time) (bool, error) {
	if nonce == "" {
		return false, errors.New("auth: nonce is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for k, exp := range s.nonces {
		if exp.Before(now) {
			delete(s.nonces, k)
		}
	}

	if existing, ok := s.nonces[nonce]; ok && existing.After(now) {
		return false, nil
	}
	s.nonces[nonce] = expiry
	return true, nil
}

// Validator verifies request signatures against the shared secret.
type Validator struct {
	secret []byte
	nonces NonceStore

	now       func() time.Time
	clockSkew time.Duration
	nonceTTL  time.Duration
}

// ValidatorOption customises the validator.
type ValidatorOption func(*Validator)

// WithClock injects a custom clock, primarily for tests.
func WithClock(now func() time.Time) ValidatorOption {
	return func(v *Validator) {
		if now != nil {
			v.now = now
		}
	}
}

// WithClockSkew adjusts the accepted timestamp skew.
func WithClockSkew(d time.Duration) ValidatorOption {
	return func(v *Validator) {
		if d > 0 {
			v.clockSkew = d
		}
	}
}

// WithNonceTTL customises the nonce retention duration.
func WithNonceTTL(d time.Duration) ValidatorOption {
	return func(v *Validator) {
		if d > 0 {
			v.nonceTTL = d
		}
	}
}

// NewValidator builds a validator for the shared secret.
func NewValidator(secret string, nonces NonceStore, opts ...ValidatorOption) *Validator {
	v := &Validator{
		secret:    []byte(strings.TrimSpace(secret)),
		nonces:    nonces,
		now:       time.Now,
		clockSkew: defaultClockSkew,
		nonceTTL:  defaultNonceTTL,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v
}

// Middleware rejects requests whose signature does not verify.
func (v *Validator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(v.secret) == 0 {
			respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "shared secret not configured")
			return
		}

		signatureValue := strings.TrimSpace(r.Header.Get(SignatureHeader))
		if signatureValue == "" {
			respondAuthError(w, http.StatusUnauthorized, "signature_missing", "signature header missing")
			return
		}

		timestampValue := strings.TrimSpace(r.Header.Get(TimestampHeader))
		timestamp, err := parseSignatureTimestamp(timestampValue)
		if err != nil {
			respondAuthError(w, http.StatusUnauthorized, "timestamp_invalid", "signature timestamp missing or invalid")
			return
		}
		if skew := v.now().Sub(timestamp); skew > v.clockSkew || skew < -v.clockSkew {
			respondAuthError(w, http.StatusUnauthorized, "timestamp_skew", "signature timestamp outside allowed window")
			return
		}

		nonce := strings.TrimSpace(r.Header.Get(NonceHeader))
		if nonce == "" {
			respondAuthError(w, http.StatusUnauthorized, "nonce_missing", "signature nonce missing")
			return
		}

		body, err := readAndRestoreBody(r)
		if err != nil {
			respondAuthError(w, http.StatusBadRequest, "invalid_body", "unable to read body for signature verification")
			return
		}

		signature, err := decodeSignature(signatureValue)
		if err != nil {
			respondAuthError(w, http.StatusUnauthorized, "signature_invalid", "signature encoding invalid")
			return
		}

		expected := computeHMAC(v.secret, canonicalRequest(r, body, timestampValue, nonce))
		if !hmac.Equal(signature, expected) {
			respondAuthError(w, http.StatusUnauthorized, "signature_mismatch", "signature verification failed")
			return
		}

		if v.nonces != nil {
			expiry := timestamp.Add(v.nonceTTL)
			if expiry.Before(v.now()) {
				expiry = v.now().Add(v.nonceTTL)
			}
			stored, err := v.nonces.UseNonce(r.Context(), nonce, expiry)
			if err != nil {
				respondAuthError(w, http.StatusServiceUnavailable, "verification_unavailable", "nonce storage error")
				return
			}
			if !stored {
				respondAuthError(w, http.StatusUnauthorized, "nonce_replay", "duplicate signature nonce")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

// Sign computes the signature a caller should place in SignatureHeader.
// Exposed for clients and tests.
func Sign(secret []byte, method, path string, body []byte, timestamp, nonce string) string {
	mac := computeHMAC(secret, canonicalString(strings.ToUpper(method), path, body, timestamp, nonce))
	return base64.StdEncoding.EncodeToString(mac)
}

func canonicalRequest(r *http.Request, body []byte, timestamp, nonce string) []byte {
	path := r.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	return canonicalString(strings.ToUpper(r.Method), path, body, timestamp, nonce)
}

func canonicalString(method, path string, body []byte, timestamp, nonce string) []byte {
	hash := sha256.Sum256(body)
	return []byte(strings.Join([]string{
		method,
		path,
		timestamp,
		nonce,
		hex.EncodeToString(hash[:]),
	}, "\n"))
}

func computeHMAC(secret, message []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(message)
	return mac.Sum(nil)
}

func decodeSignature(value string) ([]byte, error) {
	if decoded, err := base64.StdEncoding.DecodeString(value); err == nil {
		return decoded, nil
	}
	if decoded, err := hex.DecodeString(value); err == nil {
		return decoded, nil
	}
	return nil, errors.New("auth: signature must be base64 or hex encoded")
}

func parseSignatureTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, errors.New("auth: timestamp empty")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	if seconds, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Unix(seconds, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("auth: unable to parse timestamp %q", value)
}

func readAndRestoreBody(r *http.Request) ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer r.Body.Close()

	buf, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}
	r.Body = io.NopCloser(bytes.NewReader(buf))
	return buf, nil
}

func respondAuthError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, `{"error":%q,"message":%q,"status":%d}`+"\n", code, message, status)
}
