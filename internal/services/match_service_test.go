package services

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/costline/materialcache/internal/domain"
)

type repoNotFoundError struct{}

func (repoNotFoundError) Error() string       { return "not found" }
func (repoNotFoundError) IsNotFound() bool    { return true }
func (repoNotFoundError) IsConflict() bool    { return false }
func (repoNotFoundError) IsUnavailable() bool { return false }

// fakeMaterialRepository is an in-memory store shared by the service tests.
type fakeMaterialRepository struct {
	mu      sync.Mutex
	records map[string]domain.MaterialRecord

	findErr   error
	aliasErr  error
	regionErr error
	saveErr   error
	incErr    error

	aliasCalls  []string
	regionCalls int
	saved       []domain.MaterialRecord
	incremented []string

	// forbidBeyondExact fails the test if the fuzzy or dump stage queries run.
	forbidBeyondExact *testing.T
}

func newFakeMaterialRepository(records ...domain.MaterialRecord) *fakeMaterialRepository {
	repo := &fakeMaterialRepository{records: make(map[string]domain.MaterialRecord)}
	for _, record := range records {
		repo.records[record.ID] = record
	}
	return repo
}

func (r *fakeMaterialRepository) FindByID(_ context.Context, id string) (domain.MaterialRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.findErr != nil {
		return domain.MaterialRecord{}, r.findErr
	}
	record, ok := r.records[id]
	if !ok {
		return domain.MaterialRecord{}, repoNotFoundError{}
	}
	return record, nil
}

func (r *fakeMaterialRepository) ListByAlias(_ context.Context, regionCode, alias string, limit int) ([]domain.MaterialRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.forbidBeyondExact != nil && len(r.aliasCalls) > 0 {
		r.forbidBeyondExact.Fatalf("unexpected query beyond the exact stage: alias %q", alias)
	}
	r.aliasCalls = append(r.aliasCalls, alias)
	if r.aliasErr != nil {
		return nil, r.aliasErr
	}
	var matches []domain.MaterialRecord
	for _, record := range r.sortedRecords() {
		if record.RegionCode != regionCode || !record.HasAlias(alias) {
			continue
		}
		matches = append(matches, record)
		if limit > 0 && len(matches) == limit {
			break
		}
	}
	return matches, nil
}

func (r *fakeMaterialRepository) ListByRegion(_ context.Context, regionCode string, limit int) ([]domain.MaterialRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.forbidBeyondExact != nil {
		r.forbidBeyondExact.Fatal("unexpected region dump query")
	}
	r.regionCalls++
	if r.regionErr != nil {
		return nil, r.regionErr
	}
	var matches []domain.MaterialRecord
	for _, record := range r.sortedRecords() {
		if record.RegionCode != regionCode {
			continue
		}
		matches = append(matches, record)
		if limit > 0 && len(matches) == limit {
			break
		}
	}
	return matches, nil
}

func (r *fakeMaterialRepository) Save(_ context.Context, record domain.MaterialRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.saved = append(r.saved, record)
	r.records[record.ID] = record
	return nil
}

func (r *fakeMaterialRepository) IncrementMatchCount(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.incErr != nil {
		return r.incErr
	}
	r.incremented = append(r.incremented, id)
	record, ok := r.records[id]
	if !ok {
		return repoNotFoundError{}
	}
	record.MatchCount++
	r.records[id] = record
	return nil
}

func (r *fakeMaterialRepository) sortedRecords() []domain.MaterialRecord {
	records := make([]domain.MaterialRecord, 0, len(r.records))
	for _, record := range r.records {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
	return records
}

func newTestMatchService(t *testing.T, repo *fakeMaterialRepository) MatchService {
	t.Helper()
	svc, err := NewMatchService(MatchServiceDeps{Repository: repo})
	if err != nil {
		t.Fatalf("NewMatchService: %v", err)
	}
	return svc
}

func TestSearchExactStageShortCircuits(t *testing.T) {
	fan := domain.MaterialRecord{
		ID:         "ceiling-fan_78745",
		Name:       "Ceiling Fan",
		Aliases:    []string{"ceiling fan", "fan"},
		RegionCode: "78745",
	}
	repo := newFakeMaterialRepository(fan)
	repo.forbidBeyondExact = t

	svc := newTestMatchService(t, repo)
	records := svc.Search(context.Background(), "Ceiling Fan", "78745")
	if len(records) != 1 || records[0].ID != fan.ID {
		t.Fatalf("unexpected results %+v", records)
	}
}

func TestSearchFuzzyStageReturnsFirstTokenWithHits(t *testing.T) {
	light := domain.MaterialRecord{
		ID:         "circle-light_78745",
		Name:       "Circle Light",
		Aliases:    []string{"circle"},
		RegionCode: "78745",
	}
	repo := newFakeMaterialRepository(light)

	svc := newTestMatchService(t, repo)
	records := svc.Search(context.Background(), "red circle light", "78745")
	if len(records) != 1 || records[0].ID != light.ID {
		t.Fatalf("unexpected results %+v", records)
	}

	// exact pass, then tokens in order until "circle" hits.
	want := []string{"red circle light", "red", "circle"}
	if len(repo.aliasCalls) != len(want) {
		t.Fatalf("unexpected alias queries %v", repo.aliasCalls)
	}
	for i, alias := range want {
		if repo.aliasCalls[i] != alias {
			t.Errorf("alias query %d = %q, want %q", i, repo.aliasCalls[i], alias)
		}
	}
	if repo.regionCalls != 0 {
		t.Errorf("dump stage should not run, got %d calls", repo.regionCalls)
	}
}

func TestSearchDumpStageFallback(t *testing.T) {
	tile := domain.MaterialRecord{
		ID:         "porcelain-tile_78745",
		Name:       "Porcelain Tile",
		Aliases:    []string{"porcelain", "tile"},
		RegionCode: "78745",
	}
	repo := newFakeMaterialRepository(tile)

	svc := newTestMatchService(t, repo)
	records := svc.Search(context.Background(), "quartz countertop", "78745")
	if len(records) != 1 || records[0].ID != tile.ID {
		t.Fatalf("expected dump-stage result, got %+v", records)
	}
	if repo.regionCalls != 1 {
		t.Errorf("expected one region dump, got %d", repo.regionCalls)
	}
}

func TestSearchEmptyRegionScoped(t *testing.T) {
	austin := domain.MaterialRecord{
		ID:         "toilet_78745",
		Name:       "Toilet",
		Aliases:    []string{"toilet"},
		RegionCode: "78745",
	}
	repo := newFakeMaterialRepository(austin)

	svc := newTestMatchService(t, repo)
	if records := svc.Search(context.Background(), "toilet", "10001"); len(records) != 0 {
		t.Fatalf("expected no cross-region results, got %+v", records)
	}
}

func TestSearchStoreFailureDegradesToEmpty(t *testing.T) {
	repo := newFakeMaterialRepository()
	repo.aliasErr = errors.New("backend down")

	var logged []string
	svc, err := NewMatchService(MatchServiceDeps{
		Repository: repo,
		Logger: func(_ context.Context, event string, _ map[string]any) {
			logged = append(logged, event)
		},
	})
	if err != nil {
		t.Fatalf("NewMatchService: %v", err)
	}

	if records := svc.Search(context.Background(), "toilet", "78745"); records != nil {
		t.Fatalf("expected nil results on store failure, got %+v", records)
	}
	if len(logged) != 1 || !strings.Contains(logged[0], "store_failure") {
		t.Errorf("expected a store failure log, got %v", logged)
	}
}

func TestSearchBlankInputs(t *testing.T) {
	repo := newFakeMaterialRepository()
	svc := newTestMatchService(t, repo)

	if records := svc.Search(context.Background(), "  ", "78745"); records != nil {
		t.Errorf("expected nil for blank query, got %+v", records)
	}
	if records := svc.Search(context.Background(), "toilet", ""); records != nil {
		t.Errorf("expected nil for blank region, got %+v", records)
	}
	if len(repo.aliasCalls) != 0 || repo.regionCalls != 0 {
		t.Error("blank inputs must not reach the store")
	}
}

func TestNewMatchServiceRequiresRepository(t *testing.T) {
	if _, err := NewMatchService(MatchServiceDeps{}); err == nil {
		t.Fatal("expected error")
	}
}
