package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/costline/materialcache/internal/domain"
	"github.com/costline/materialcache/internal/platform/httpx"
	"github.com/costline/materialcache/internal/services"
)

const maxMaterialRequestBody = 64 * 1024

var errBodyTooLarge = errors.New("request body too large")

// MaterialHandlers exposes the search, resolve, record, and hit endpoints.
type MaterialHandlers struct {
	matcher       services.MatchService
	resolver      services.ResolutionService
	cacheWriter   services.CacheWriterService
	defaultRegion string
	recordGuard   func(http.Handler) http.Handler
}

// MaterialHandlersDeps wires the services behind the material endpoints.
// RecordGuard, when set, wraps only the submission endpoint; the idempotency
// middleware plugs in here.
type MaterialHandlersDeps struct {
	Matcher       services.MatchService
	Resolver      services.ResolutionService
	CacheWriter   services.CacheWriterService
	DefaultRegion string
	RecordGuard   func(http.Handler) http.Handler
}

// NewMaterialHandlers constructs the material handler set.
func NewMaterialHandlers(deps MaterialHandlersDeps) *MaterialHandlers {
	return &MaterialHandlers{
		matcher:       deps.Matcher,
		resolver:      deps.Resolver,
		cacheWriter:   deps.CacheWriter,
		defaultRegion: strings.TrimSpace(deps.DefaultRegion),
		recordGuard:   deps.RecordGuard,
	}
}

// Routes registers the material endpoints.
func (h *MaterialHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/materials:search", h.search)
	r.Post("/materials:resolve", h.resolve)
	if h.recordGuard != nil {
		r.With(h.recordGuard).Post("/materials", h.record)
	} else {
		r.Post("/materials", h.record)
	}
	r.Post("/materials/{materialId}:hit", h.hit)
}

type materialQueryRequest struct {
	Query      string `json:"query"`
	RegionCode string `json:"regionCode"`
}

type retailerOfferPayload struct {
	Price    float64    `json:"price"`
	Currency string     `json:"currency,omitempty"`
	SKU      string     `json:"sku,omitempty"`
	URL      string     `json:"url,omitempty"`
	InStock  bool       `json:"inStock"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

type materialPayload struct {
	ID             string                          `json:"id"`
	Name           string                          `json:"name"`
	NormalizedName string                          `json:"normalizedName"`
	Description    string                          `json:"description,omitempty"`
	Category       string                          `json:"category,omitempty"`
	Unit           string                          `json:"unit,omitempty"`
	Aliases        []string                        `json:"aliases"`
	RegionCode     string                          `json:"regionCode"`
	Retailers      map[string]retailerOfferPayload `json:"retailers,omitempty"`
	Source         string                          `json:"source,omitempty"`
	MatchCount     int64                           `json:"matchCount"`
	CreatedAt      *time.Time                      `json:"createdAt,omitempty"`
	UpdatedAt      *time.Time                      `json:"updatedAt,omitempty"`
}

type searchResponse struct {
	Records []materialPayload `json:"records"`
}

type resolveResponse struct {
	Record      *materialPayload `json:"record,omitempty"`
	Confidence  float64          `json:"confidence"`
	Reasoning   string           `json:"reasoning"`
	CacheHit    bool             `json:"cacheHit"`
	ScrapeJobID string           `json:"scrapeJobId,omitempty"`
}

type recordMaterialRequest struct {
	Material         materialInput `json:"material"`
	OriginatingQuery string        `json:"originatingQuery"`
	RegionCode       string        `json:"regionCode"`
}

type materialInput struct {
	Name        string                          `json:"name"`
	Description string                          `json:"description"`
	Category    string                          `json:"category"`
	Unit        string                          `json:"unit"`
	Aliases     []string                        `json:"aliases"`
	Retailers   map[string]retailerOfferPayload `json:"retailers"`
	Source      string                          `json:"source"`
}

func (h *MaterialHandlers) search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.matcher == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "match service not available", http.StatusServiceUnavailable))
		return
	}

	req, ok := h.decodeQueryRequest(w, r)
	if !ok {
		return
	}

	records := h.matcher.Search(ctx, req.Query, h.regionOrDefault(req.RegionCode))
	payload := searchResponse{Records: make([]materialPayload, 0, len(records))}
	for i := range records {
		payload.Records = append(payload.Records, buildMaterialPayload(&records[i]))
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *MaterialHandlers) resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.resolver == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "resolution service not available", http.StatusServiceUnavailable))
		return
	}

	req, ok := h.decodeQueryRequest(w, r)
	if !ok {
		return
	}

	resolution, err := h.resolver.Resolve(ctx, req.Query, req.RegionCode)
	if err != nil {
		if errors.Is(err, services.ErrResolutionInvalidInput) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "query is required", http.StatusBadRequest))
			return
		}
		httpx.WriteError(ctx, w, httpx.NewError("internal", "resolution failed", http.StatusInternalServerError))
		return
	}

	payload := resolveResponse{
		Confidence:  resolution.Confidence,
		Reasoning:   resolution.Reasoning,
		CacheHit:    resolution.CacheHit,
		ScrapeJobID: resolution.ScrapeJobID,
	}
	if resolution.Record != nil {
		record := buildMaterialPayload(resolution.Record)
		payload.Record = &record
	}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *MaterialHandlers) record(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cacheWriter == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "cache writer not available", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxMaterialRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req recordMaterialRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.Material.Name) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "material.name is required", http.StatusBadRequest))
		return
	}
	region := h.regionOrDefault(req.RegionCode)
	if region == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "regionCode is required", http.StatusBadRequest))
		return
	}

	h.cacheWriter.RecordResolution(ctx, buildMaterialRecord(req.Material), req.OriginatingQuery, region)
	w.WriteHeader(http.StatusAccepted)
}

func (h *MaterialHandlers) hit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.cacheWriter == nil {
		httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", "cache writer not available", http.StatusServiceUnavailable))
		return
	}

	materialID := strings.TrimSpace(chi.URLParam(r, "materialId"))
	if materialID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "material id is required", http.StatusBadRequest))
		return
	}

	h.cacheWriter.NoteHit(ctx, materialID)
	w.WriteHeader(http.StatusAccepted)
}

func (h *MaterialHandlers) decodeQueryRequest(w http.ResponseWriter, r *http.Request) (materialQueryRequest, bool) {
	ctx := r.Context()

	body, err := readLimitedBody(r, maxMaterialRequestBody)
	if err != nil {
		writeBodyError(ctx, w, err)
		return materialQueryRequest{}, false
	}

	var req materialQueryRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return materialQueryRequest{}, false
	}
	if strings.TrimSpace(req.Query) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "query is required", http.StatusBadRequest))
		return materialQueryRequest{}, false
	}
	return req, true
}

func (h *MaterialHandlers) regionOrDefault(regionCode string) string {
	region := strings.TrimSpace(regionCode)
	if region == "" {
		region = h.defaultRegion
	}
	return region
}

func buildMaterialPayload(record *domain.MaterialRecord) materialPayload {
	payload := materialPayload{
		ID:             record.ID,
		Name:           record.Name,
		NormalizedName: record.NormalizedName,
		Description:    record.Description,
		Category:       record.Category,
		Unit:           record.Unit,
		Aliases:        record.Aliases,
		RegionCode:     record.RegionCode,
		Source:         string(record.Source),
		MatchCount:     record.MatchCount,
	}
	if payload.Aliases == nil {
		payload.Aliases = []string{}
	}
	if !record.CreatedAt.IsZero() {
		created := record.CreatedAt
		payload.CreatedAt = &created
	}
	if !record.UpdatedAt.IsZero() {
		updated := record.UpdatedAt
		payload.UpdatedAt = &updated
	}
	if len(record.Retailers) > 0 {
		payload.Retailers = make(map[string]retailerOfferPayload, len(record.Retailers))
		for name, offer := range record.Retailers {
			entry := retailerOfferPayload{
				Price:    offer.Price,
				Currency: offer.Currency,
				SKU:      offer.SKU,
				URL:      offer.URL,
				InStock:  offer.InStock,
			}
			if !offer.LastSeen.IsZero() {
				lastSeen := offer.LastSeen
				entry.LastSeen = &lastSeen
			}
			payload.Retailers[name] = entry
		}
	}
	return payload
}

func buildMaterialRecord(input materialInput) domain.MaterialRecord {
	record := domain.MaterialRecord{
		Name:        input.Name,
		Description: input.Description,
		Category:    input.Category,
		Unit:        input.Unit,
		Aliases:     input.Aliases,
		Source:      domain.MaterialSource(strings.TrimSpace(input.Source)),
	}
	if len(input.Retailers) > 0 {
		record.Retailers = make(map[string]domain.RetailerOffer, len(input.Retailers))
		for name, offer := range input.Retailers {
			entry := domain.RetailerOffer{
				Price:    offer.Price,
				Currency: offer.Currency,
				SKU:      offer.SKU,
				URL:      offer.URL,
				InStock:  offer.InStock,
			}
			if offer.LastSeen != nil {
				entry.LastSeen = *offer.LastSeen
			}
			record.Retailers[name] = entry
		}
	}
	return record
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r.Body == nil {
		return nil, errors.New("request body is required")
	}
	defer r.Body.Close()

	body, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, errBodyTooLarge
	}
	if len(body) == 0 {
		return nil, errors.New("request body is required")
	}
	return body, nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	if errors.Is(err, errBodyTooLarge) {
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
