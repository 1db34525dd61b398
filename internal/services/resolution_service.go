package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/costline/materialcache/internal/platform/jobs"
)

const defaultHitThreshold = 0.8

var (
	errResolutionMatcherRequired       = errors.New("resolution: match service is required")
	errResolutionDisambiguatorRequired = errors.New("resolution: disambiguation service is required")
	errResolutionCacheWriterRequired   = errors.New("resolution: cache writer is required")

	// ErrResolutionInvalidInput indicates the caller provided no query.
	ErrResolutionInvalidInput = errors.New("resolution: invalid input")
)

// ResolutionServiceDeps wires the pipeline stages and side-effect collaborators.
type ResolutionServiceDeps struct {
	Matcher       MatchService
	Disambiguator DisambiguationService
	CacheWriter   CacheWriterService
	// Publisher may be nil; low-confidence resolutions then skip the
	// re-scrape request.
	Publisher     ScrapeJobPublisher
	Clock         func() time.Time
	IDGenerator   func() string
	Logger        func(context.Context, string, map[string]any)
	DefaultRegion string
	HitThreshold  float64
}

type resolutionService struct {
	matcher       MatchService
	disambiguator DisambiguationService
	cacheWriter   CacheWriterService
	publisher     ScrapeJobPublisher
	now           func() time.Time
	newID         func() string
	logger        func(context.Context, string, map[string]any)
	defaultRegion string
	hitThreshold  float64
}

// NewResolutionService constructs the resolve pipeline.
func NewResolutionService(deps ResolutionServiceDeps) (ResolutionService, error) {
	if deps.Matcher == nil {
		return nil, errResolutionMatcherRequired
	}
	if deps.Disambiguator == nil {
		return nil, errResolutionDisambiguatorRequired
	}
	if deps.CacheWriter == nil {
		return nil, errResolutionCacheWriterRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	threshold := deps.HitThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = defaultHitThreshold
	}

	return &resolutionService{
		matcher:       deps.Matcher,
		disambiguator: deps.Disambiguator,
		cacheWriter:   deps.CacheWriter,
		publisher:     deps.Publisher,
		now:           func() time.Time { return clock().UTC() },
		newID:         idGen,
		logger:        logger,
		defaultRegion: strings.TrimSpace(deps.DefaultRegion),
		hitThreshold:  threshold,
	}, nil
}

// Resolve runs the full pipeline for one query. A confident match bumps the
// record's hit counter without blocking; anything below the threshold
// requests a re-scrape when a publisher is configured.
func (s *resolutionService) Resolve(ctx context.Context, query, regionCode string) (Resolution, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return Resolution{}, ErrResolutionInvalidInput
	}
	regionCode = strings.TrimSpace(regionCode)
	if regionCode == "" {
		regionCode = s.defaultRegion
	}

	candidates := s.matcher.Search(ctx, query, regionCode)
	resolution := s.disambiguator.SelectBest(ctx, query, candidates)

	result := Resolution{
		Record:     resolution.Record,
		Confidence: resolution.Confidence,
		Reasoning:  resolution.Reasoning,
		CacheHit:   resolution.CacheHit(s.hitThreshold),
	}

	if result.CacheHit {
		s.cacheWriter.NoteHit(ctx, resolution.Record.ID)
		return result, nil
	}

	if s.publisher != nil {
		message := jobs.ScrapeJobMessage{
			JobID:       s.newID(),
			Query:       query,
			RegionCode:  regionCode,
			RequestedAt: s.now(),
		}
		if _, err := s.publisher.PublishScrapeJob(ctx, message); err != nil {
			// A lost scrape request only delays freshness; the resolution
			// result stands.
			s.logger(ctx, "resolution.scrape_publish_failed", map[string]any{
				"regionCode": regionCode,
				"error":      err.Error(),
			})
		} else {
			result.ScrapeJobID = message.JobID
		}
	}

	return result, nil
}
