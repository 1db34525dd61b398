// Package repositories defines the persistence contracts consumed by the
// service layer, keeping Firestore details out of business logic.
package repositories

import (
	"context"

	"github.com/costline/materialcache/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// MaterialRepository persists priced material records keyed by
// normalized-name plus region.
type MaterialRepository interface {
	// FindByID fetches one record by its composite document ID.
	FindByID(ctx context.Context, id string) (domain.MaterialRecord, error)
	// ListByAlias returns records in the region whose alias array contains
	// the given token, up to limit.
	ListByAlias(ctx context.Context, regionCode, alias string, limit int) ([]domain.MaterialRecord, error)
	// ListByRegion returns up to limit records priced in the region.
	ListByRegion(ctx context.Context, regionCode string, limit int) ([]domain.MaterialRecord, error)
	// Save upserts the record, merging fields into any existing document.
	Save(ctx context.Context, record domain.MaterialRecord) error
	// IncrementMatchCount atomically bumps the record's match counter.
	IncrementMatchCount(ctx context.Context, id string) error
}

// HealthRepository aggregates dependency probes for readiness reporting.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
