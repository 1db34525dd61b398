package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/costline/materialcache/internal/domain"
)

type fakeHealthRepository struct {
	report domain.SystemHealthReport
	err    error
}

func (f *fakeHealthRepository) Collect(ctx context.Context) (domain.SystemHealthReport, error) {
	return f.report, f.err
}

func TestNewSystemServiceRequiresRepository(t *testing.T) {
	if _, err := NewSystemService(SystemServiceDeps{}); err == nil {
		t.Fatal("expected error for missing health repository")
	}
}

func TestSystemServiceHealthPassesThrough(t *testing.T) {
	report := domain.SystemHealthReport{
		Status: domain.HealthStatusDegraded,
		Checks: map[string]domain.SystemHealthCheck{
			"firestore": {Status: domain.HealthStatusDegraded, Error: "unavailable"},
		},
		GeneratedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	svc, err := NewSystemService(SystemServiceDeps{Health: &fakeHealthRepository{report: report}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}

	got, err := svc.Health(context.Background())
	if err != nil {
		t.Fatalf("Health: %v", err)
	}
	if got.Status != domain.HealthStatusDegraded {
		t.Fatalf("status = %q, want degraded", got.Status)
	}
	if got.Checks["firestore"].Error != "unavailable" {
		t.Fatalf("unexpected check detail: %+v", got.Checks["firestore"])
	}
}

func TestSystemServiceHealthPropagatesError(t *testing.T) {
	wantErr := errors.New("collect failed")
	svc, err := NewSystemService(SystemServiceDeps{Health: &fakeHealthRepository{err: wantErr}})
	if err != nil {
		t.Fatalf("NewSystemService: %v", err)
	}
	if _, err := svc.Health(context.Background()); !errors.Is(err, wantErr) {
		t.Fatalf("err = %v, want %v", err, wantErr)
	}
}
