package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/costline/materialcache/internal/domain"
	"github.com/costline/materialcache/internal/platform/requestctx"
	"github.com/costline/materialcache/internal/platform/textutil"
	"github.com/costline/materialcache/internal/repositories"
)

var errCacheWriterRepositoryRequired = errors.New("cache_writer: repository is required")

// CacheWriterServiceDeps wires the store, clock, and async hooks for cache writes.
type CacheWriterServiceDeps struct {
	Repository repositories.MaterialRepository
	Clock      func() time.Time
	Logger     func(context.Context, string, map[string]any)
	// Spawn runs the fire-and-forget hit bump; defaults to `go fn()`.
	// Tests inject a synchronous hook.
	Spawn func(func())
}

type cacheWriterService struct {
	repo   repositories.MaterialRepository
	now    func() time.Time
	logger func(context.Context, string, map[string]any)
	spawn  func(func())
}

// NewCacheWriterService constructs the cache writer.
func NewCacheWriterService(deps CacheWriterServiceDeps) (CacheWriterService, error) {
	if deps.Repository == nil {
		return nil, errCacheWriterRepositoryRequired
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	spawn := deps.Spawn
	if spawn == nil {
		spawn = func(fn func()) { go fn() }
	}

	return &cacheWriterService{
		repo:   deps.Repository,
		now:    func() time.Time { return clock().UTC() },
		logger: logger,
		spawn:  spawn,
	}, nil
}

// RecordResolution upserts the material under its composite ID, merging alias
// sets and retailer offers into any existing record. Store failures are
// logged and swallowed: the cache is an optimization, never a reason to fail
// the caller's pricing flow.
func (s *cacheWriterService) RecordResolution(ctx context.Context, material domain.MaterialRecord, originatingQuery, regionCode string) {
	regionCode = strings.TrimSpace(regionCode)
	name := strings.TrimSpace(material.Name)
	if name == "" || regionCode == "" {
		s.logger(ctx, "cache_writer.invalid_record", map[string]any{
			"regionCode": regionCode,
		})
		return
	}

	id := textutil.MaterialID(name, regionCode)
	now := s.now()

	record := material
	record.ID = id
	record.Name = name
	record.NormalizedName = textutil.NormalizeKey(name)
	record.RegionCode = regionCode
	record.UpdatedAt = now

	existing, err := s.repo.FindByID(ctx, id)
	switch {
	case err == nil:
		record.Aliases = mergeAliases(existing.Aliases, record, originatingQuery)
		record.Retailers = mergeRetailers(existing.Retailers, material.Retailers)
		record.MatchCount = existing.MatchCount + 1
		record.CreatedAt = existing.CreatedAt
		if record.Source == "" {
			record.Source = existing.Source
		}
	case isRepoNotFound(err):
		record.Aliases = mergeAliases(nil, record, originatingQuery)
		record.MatchCount = 1
		record.CreatedAt = now
		if record.Source == "" {
			record.Source = domain.MaterialSourceResolution
		}
	default:
		s.logger(ctx, "cache_writer.read_failed", map[string]any{
			"materialId": id,
			"error":      err.Error(),
		})
		return
	}

	if err := s.repo.Save(ctx, record); err != nil {
		s.logger(ctx, "cache_writer.write_failed", map[string]any{
			"materialId": id,
			"error":      err.Error(),
		})
	}
}

// NoteHit bumps the record's match counter without blocking the caller. The
// write runs on a detached context so a finished request cannot cancel it;
// failures only feed the log sink.
func (s *cacheWriterService) NoteHit(ctx context.Context, materialID string) {
	id := strings.TrimSpace(materialID)
	if id == "" {
		return
	}

	detached := requestctx.Detach(ctx)
	s.spawn(func() {
		writeCtx, cancel := context.WithTimeout(detached, 10*time.Second)
		defer cancel()
		if err := s.repo.IncrementMatchCount(writeCtx, id); err != nil {
			s.logger(writeCtx, "cache_writer.hit_bump_failed", map[string]any{
				"materialId": id,
				"error":      err.Error(),
			})
		}
	})
}

// mergeAliases unions the existing alias set with the incoming material's
// aliases, its normalized-name tokens, and the lowercased originating query.
// The result is deduped and sorted so repeated writes are byte-identical.
func mergeAliases(existing []string, record domain.MaterialRecord, originatingQuery string) []string {
	set := make(map[string]struct{}, len(existing)+len(record.Aliases)+2)
	add := func(value string) {
		value = strings.ToLower(strings.TrimSpace(value))
		if value != "" {
			set[value] = struct{}{}
		}
	}

	for _, alias := range existing {
		add(alias)
	}
	for _, alias := range record.Aliases {
		add(alias)
	}
	for _, token := range strings.Split(record.NormalizedName, "-") {
		if len(token) > 1 {
			add(token)
		}
	}
	add(originatingQuery)

	merged := make([]string, 0, len(set))
	for alias := range set {
		merged = append(merged, alias)
	}
	sort.Strings(merged)
	return merged
}

// mergeRetailers overlays incoming offers onto the existing map: new keys
// win, keys absent from the update are preserved.
func mergeRetailers(existing, incoming map[string]domain.RetailerOffer) map[string]domain.RetailerOffer {
	if len(existing) == 0 && len(incoming) == 0 {
		return nil
	}
	merged := make(map[string]domain.RetailerOffer, len(existing)+len(incoming))
	for name, offer := range existing {
		merged[name] = offer
	}
	for name, offer := range incoming {
		merged[name] = offer
	}
	return merged
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}
