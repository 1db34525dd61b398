package services

import (
	"context"
	"errors"
	"strings"

	"github.com/costline/materialcache/internal/domain"
	"github.com/costline/materialcache/internal/platform/textutil"
	"github.com/costline/materialcache/internal/repositories"
)

const (
	defaultExactLimit = 5
	defaultFuzzyLimit = 10
	defaultDumpLimit  = 50
)

var errMatchRepositoryRequired = errors.New("match: repository is required")

// MatchServiceDeps wires the store and tunables for the match cascade.
type MatchServiceDeps struct {
	Repository repositories.MaterialRepository
	Logger     func(context.Context, string, map[string]any)
	ExactLimit int
	FuzzyLimit int
	DumpLimit  int
}

type matchService struct {
	repo       repositories.MaterialRepository
	logger     func(context.Context, string, map[string]any)
	exactLimit int
	fuzzyLimit int
	dumpLimit  int
}

// NewMatchService constructs the staged candidate search.
func NewMatchService(deps MatchServiceDeps) (MatchService, error) {
	if deps.Repository == nil {
		return nil, errMatchRepositoryRequired
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	s := &matchService{
		repo:       deps.Repository,
		logger:     logger,
		exactLimit: deps.ExactLimit,
		fuzzyLimit: deps.FuzzyLimit,
		dumpLimit:  deps.DumpLimit,
	}
	if s.exactLimit <= 0 {
		s.exactLimit = defaultExactLimit
	}
	if s.fuzzyLimit <= 0 {
		s.fuzzyLimit = defaultFuzzyLimit
	}
	if s.dumpLimit <= 0 {
		s.dumpLimit = defaultDumpLimit
	}
	return s, nil
}

// Search runs the three-stage cascade: whole-query alias lookup, per-token
// alias lookup, then a bounded regional dump. The first stage that yields
// candidates wins.
func (s *matchService) Search(ctx context.Context, query, regionCode string) []domain.MaterialRecord {
	query = strings.TrimSpace(query)
	regionCode = strings.TrimSpace(regionCode)
	if query == "" || regionCode == "" {
		return nil
	}

	exact := strings.ToLower(query)
	records, err := s.repo.ListByAlias(ctx, regionCode, exact, s.exactLimit)
	if err != nil {
		s.logStoreFailure(ctx, "exact", regionCode, err)
		return nil
	}
	if len(records) > 0 {
		return records
	}

	// Per-token pass returns on the first token with any hits rather than
	// aggregating across tokens, trading recall for latency.
	for _, token := range textutil.Tokenize(query) {
		records, err := s.repo.ListByAlias(ctx, regionCode, token, s.fuzzyLimit)
		if err != nil {
			s.logStoreFailure(ctx, "fuzzy", regionCode, err)
			return nil
		}
		if len(records) > 0 {
			return records
		}
	}

	dump, err := s.repo.ListByRegion(ctx, regionCode, s.dumpLimit)
	if err != nil {
		s.logStoreFailure(ctx, "dump", regionCode, err)
		return nil
	}
	return dump
}

func (s *matchService) logStoreFailure(ctx context.Context, stage, regionCode string, err error) {
	s.logger(ctx, "match.store_failure", map[string]any{
		"stage":      stage,
		"regionCode": regionCode,
		"error":      err.Error(),
	})
}
