package secrets

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeSecretManager struct {
	values map[string]string
	err    error
	calls  int
}

func (f *fakeSecretManager) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	value, ok := f.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "secret not found")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{
		Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)},
	}, nil
}

func (f *fakeSecretManager) Close() error { return nil }

func newTestFetcher(t *testing.T, opts ...Option) *Fetcher {
	t.Helper()
	fetcher, err := NewFetcher(context.Background(), opts...)
	if err != nil {
		t.Fatalf("NewFetcher: %v", err)
	}
	t.Cleanup(func() { fetcher.Close() })
	return fetcher
}

func TestResolveSecretRemote(t *testing.T) {
	client := &fakeSecretManager{values: map[string]string{
		"projects/test-project/secrets/llm-api-key/versions/latest": "sk-live",
	}}
	fetcher := newTestFetcher(t,
		WithProject("test-project"),
		WithSecretManagerClient(client),
		WithFallbackFile(""),
	)

	value, err := fetcher.ResolveSecret(context.Background(), "secret://llm-api-key")
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if value != "sk-live" {
		t.Errorf("unexpected value %q", value)
	}
}

func TestResolveSecretCaches(t *testing.T) {
	client := &fakeSecretManager{values: map[string]string{
		"projects/test-project/secrets/llm-api-key/versions/latest": "sk-live",
	}}
	fetcher := newTestFetcher(t,
		WithProject("test-project"),
		WithSecretManagerClient(client),
		WithFallbackFile(""),
	)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if _, err := fetcher.ResolveSecret(ctx, "secret://llm-api-key"); err != nil {
			t.Fatalf("ResolveSecret: %v", err)
		}
	}
	if client.calls != 1 {
		t.Errorf("expected a single remote fetch, got %d", client.calls)
	}

	fetcher.Invalidate("secret://llm-api-key")
	if _, err := fetcher.ResolveSecret(ctx, "secret://llm-api-key"); err != nil {
		t.Fatalf("ResolveSecret after invalidate: %v", err)
	}
	if client.calls != 2 {
		t.Errorf("expected refetch after invalidate, got %d calls", client.calls)
	}
}

func TestResolveSecretVersionAndProjectOverride(t *testing.T) {
	client := &fakeSecretManager{values: map[string]string{
		"projects/other-project/secrets/llm-api-key/versions/3": "sk-pinned",
	}}
	fetcher := newTestFetcher(t,
		WithProject("test-project"),
		WithSecretManagerClient(client),
		WithFallbackFile(""),
	)

	value, err := fetcher.ResolveSecret(context.Background(), "secret://llm-api-key?version=3&project=other-project")
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if value != "sk-pinned" {
		t.Errorf("unexpected value %q", value)
	}
}

func TestResolveSecretFallbackFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	contents := "# local secrets\nsecret://llm-api-key=sk-local\nsm://scraper-token=tok-local\n"
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write fallback file: %v", err)
	}

	client := &fakeSecretManager{err: status.Error(codes.PermissionDenied, "no access")}
	fetcher := newTestFetcher(t,
		WithProject("test-project"),
		WithSecretManagerClient(client),
		WithFallbackFile(path),
	)

	ctx := context.Background()
	value, err := fetcher.ResolveSecret(ctx, "secret://llm-api-key")
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if value != "sk-local" {
		t.Errorf("unexpected fallback value %q", value)
	}

	value, err = fetcher.ResolveSecret(ctx, "secret://scraper-token")
	if err != nil {
		t.Fatalf("ResolveSecret sm:// key: %v", err)
	}
	if value != "tok-local" {
		t.Errorf("unexpected fallback value %q", value)
	}
}

func TestResolveSecretNotFoundIsFatal(t *testing.T) {
	client := &fakeSecretManager{values: map[string]string{}}
	fetcher := newTestFetcher(t,
		WithProject("test-project"),
		WithSecretManagerClient(client),
		WithFallbackFile(""),
	)

	if _, err := fetcher.ResolveSecret(context.Background(), "secret://missing"); err == nil {
		t.Fatal("expected error for missing secret")
	}
}

func TestResolveSecretInvalidReference(t *testing.T) {
	fetcher := newTestFetcher(t, WithSecretManagerClient(&fakeSecretManager{}), WithFallbackFile(""))

	cases := []string{"", "llm-api-key", "vault://llm-api-key", "secret://"}
	for _, ref := range cases {
		if _, err := fetcher.ResolveSecret(context.Background(), ref); err == nil {
			t.Errorf("expected error for reference %q", ref)
		}
	}
}

func TestResolveSecretNoClientUsesFallback(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".secrets.local")
	if err := os.WriteFile(path, []byte("secret://llm-api-key=sk-offline\n"), 0o600); err != nil {
		t.Fatalf("write fallback file: %v", err)
	}

	fetcher := &Fetcher{
		logger:       zap.NewNop(),
		fallbackPath: path,
		cache:        map[string]cacheEntry{},
	}

	value, err := fetcher.ResolveSecret(context.Background(), "secret://llm-api-key")
	if err != nil {
		t.Fatalf("ResolveSecret: %v", err)
	}
	if value != "sk-offline" {
		t.Errorf("unexpected value %q", value)
	}
	if fetcher.fallbackErr != nil {
		t.Errorf("unexpected fallback error: %v", fetcher.fallbackErr)
	}
}
