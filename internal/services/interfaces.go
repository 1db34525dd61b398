// Package services implements the match-and-cache business logic: the match
// cascade, disambiguation, resolution orchestration, and cache writes.
package services

import (
	"context"

	"github.com/costline/materialcache/internal/domain"
	"github.com/costline/materialcache/internal/platform/jobs"
)

// MatchService runs the staged candidate search against the material store.
type MatchService interface {
	// Search returns candidate records for the query within the region. It
	// never returns an error: store failures are logged and yield an empty
	// slice so callers degrade to "no match" rather than failing the request.
	Search(ctx context.Context, query, regionCode string) []domain.MaterialRecord
}

// DisambiguationService picks the best candidate for a query.
type DisambiguationService interface {
	SelectBest(ctx context.Context, query string, candidates []domain.MaterialRecord) domain.MatchResolution
}

// CacheWriterService persists resolved materials and hit counts. Both methods
// swallow store failures after logging; resolution flows must never fail
// because a cache write did.
type CacheWriterService interface {
	RecordResolution(ctx context.Context, material domain.MaterialRecord, originatingQuery, regionCode string)
	NoteHit(ctx context.Context, materialID string)
}

// Resolution is the outcome of the full resolve pipeline for one query.
type Resolution struct {
	Record      *domain.MaterialRecord
	Confidence  float64
	Reasoning   string
	CacheHit    bool
	ScrapeJobID string
}

// ResolutionService orchestrates cascade, disambiguation, the cache-hit
// decision, and the follow-up side effects.
type ResolutionService interface {
	Resolve(ctx context.Context, query, regionCode string) (Resolution, error)
}

// CompletionProvider abstracts the chat-completion call used for
// disambiguation. *llm.Client satisfies it.
type CompletionProvider interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// ScrapeJobPublisher enqueues re-scrape requests for queries the cache could
// not answer confidently.
type ScrapeJobPublisher interface {
	PublishScrapeJob(ctx context.Context, message jobs.ScrapeJobMessage) (string, error)
}

// SystemService aggregates dependency health for readiness probes.
type SystemService interface {
	Health(ctx context.Context) (domain.SystemHealthReport, error)
}
