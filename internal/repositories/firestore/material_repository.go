// Package firestore provides Firestore-backed implementations of the
// repository contracts.
package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/costline/materialcache/internal/domain"
	pfirestore "github.com/costline/materialcache/internal/platform/firestore"
)

const materialsCollection = "materials"

type retailerOfferDocument struct {
	Price    float64   `firestore:"price"`
	Currency string    `firestore:"currency,omitempty"`
	SKU      string    `firestore:"sku,omitempty"`
	URL      string    `firestore:"url,omitempty"`
	InStock  bool      `firestore:"inStock"`
	LastSeen time.Time `firestore:"lastSeen,omitempty"`
}

type materialDocument struct {
	Name           string                           `firestore:"name"`
	NormalizedName string                           `firestore:"normalizedName"`
	Description    string                           `firestore:"description,omitempty"`
	Category       string                           `firestore:"category,omitempty"`
	Unit           string                           `firestore:"unit,omitempty"`
	Aliases        []string                         `firestore:"aliases"`
	RegionCode     string                           `firestore:"regionCode"`
	Retailers      map[string]retailerOfferDocument `firestore:"retailers"`
	Source         string                           `firestore:"source,omitempty"`
	MatchCount     int64                            `firestore:"matchCount"`
	CreatedAt      time.Time                        `firestore:"createdAt"`
	UpdatedAt      time.Time                        `firestore:"updatedAt"`
}

// MaterialRepository implements repositories.MaterialRepository backed by Firestore.
type MaterialRepository struct {
	materials *pfirestore.BaseRepository[materialDocument]
}

// NewMaterialRepository constructs a Firestore-backed material repository.
func NewMaterialRepository(provider *pfirestore.Provider) (*MaterialRepository, error) {
	if provider == nil {
		return nil, errors.New("material repository requires firestore provider")
	}
	// MergeAll requires map payloads, so documents are encoded by hand.
	encode := func(_ context.Context, doc materialDocument) (any, error) {
		return materialPayload(doc), nil
	}
	base := pfirestore.NewBaseRepository[materialDocument](provider, materialsCollection, encode, nil)
	return &MaterialRepository{materials: base}, nil
}

// FindByID fetches a single material record by its composite document ID.
func (r *MaterialRepository) FindByID(ctx context.Context, id string) (domain.MaterialRecord, error) {
	doc, err := r.materials.Get(ctx, id)
	if err != nil {
		return domain.MaterialRecord{}, err
	}
	return decodeMaterial(doc.ID, doc.Data), nil
}

// ListByAlias returns records in the region whose alias array contains the
// given token. Tokens are stored lowercase, so the filter lowercases too.
func (r *MaterialRepository) ListByAlias(ctx context.Context, regionCode, alias string, limit int) ([]domain.MaterialRecord, error) {
	token := strings.ToLower(strings.TrimSpace(alias))
	if token == "" {
		return nil, nil
	}
	docs, err := r.materials.Query(ctx, func(query firestore.Query) firestore.Query {
		q := query.
			Where("regionCode", "==", strings.TrimSpace(regionCode)).
			Where("aliases", "array-contains", token)
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	return decodeMaterials(docs), nil
}

// ListByRegion returns up to limit records priced in the region.
func (r *MaterialRepository) ListByRegion(ctx context.Context, regionCode string, limit int) ([]domain.MaterialRecord, error) {
	docs, err := r.materials.Query(ctx, func(query firestore.Query) firestore.Query {
		q := query.Where("regionCode", "==", strings.TrimSpace(regionCode))
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q
	})
	if err != nil {
		return nil, err
	}
	return decodeMaterials(docs), nil
}

// Save upserts the record, merging fields into any existing document so
// concurrent writers never erase each other's retailer offers.
func (r *MaterialRepository) Save(ctx context.Context, record domain.MaterialRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return errors.New("material repository: record id is required")
	}
	return r.materials.Set(ctx, record.ID, encodeMaterial(record), firestore.MergeAll)
}

// IncrementMatchCount atomically bumps the record's match counter and
// refreshes its update timestamp.
func (r *MaterialRepository) IncrementMatchCount(ctx context.Context, id string) error {
	return r.materials.Update(ctx, id, []firestore.Update{
		{Path: "matchCount", Value: firestore.Increment(1)},
		{Path: "updatedAt", Value: time.Now().UTC()},
	})
}

func encodeMaterial(record domain.MaterialRecord) materialDocument {
	retailers := make(map[string]retailerOfferDocument, len(record.Retailers))
	for name, offer := range record.Retailers {
		retailers[name] = retailerOfferDocument{
			Price:    offer.Price,
			Currency: offer.Currency,
			SKU:      offer.SKU,
			URL:      offer.URL,
			InStock:  offer.InStock,
			LastSeen: offer.LastSeen,
		}
	}
	return materialDocument{
		Name:           record.Name,
		NormalizedName: record.NormalizedName,
		Description:    record.Description,
		Category:       record.Category,
		Unit:           record.Unit,
		Aliases:        record.Aliases,
		RegionCode:     record.RegionCode,
		Retailers:      retailers,
		Source:         string(record.Source),
		MatchCount:     record.MatchCount,
		CreatedAt:      record.CreatedAt,
		UpdatedAt:      record.UpdatedAt,
	}
}

// materialPayload flattens a document into a merge-safe map. Zero-value
// fields that another writer may own (createdAt, matchCount) are omitted so a
// merge upsert cannot reset them.
func materialPayload(doc materialDocument) map[string]any {
	payload := map[string]any{
		"name":           doc.Name,
		"normalizedName": doc.NormalizedName,
		"aliases":        doc.Aliases,
		"regionCode":     doc.RegionCode,
		"updatedAt":      doc.UpdatedAt,
	}
	if doc.Description != "" {
		payload["description"] = doc.Description
	}
	if doc.Category != "" {
		payload["category"] = doc.Category
	}
	if doc.Unit != "" {
		payload["unit"] = doc.Unit
	}
	if doc.Source != "" {
		payload["source"] = doc.Source
	}
	if !doc.CreatedAt.IsZero() {
		payload["createdAt"] = doc.CreatedAt
	}
	if doc.MatchCount > 0 {
		payload["matchCount"] = doc.MatchCount
	}
	if len(doc.Retailers) > 0 {
		retailers := make(map[string]any, len(doc.Retailers))
		for name, offer := range doc.Retailers {
			entry := map[string]any{
				"price":   offer.Price,
				"inStock": offer.InStock,
			}
			if offer.Currency != "" {
				entry["currency"] = offer.Currency
			}
			if offer.SKU != "" {
				entry["sku"] = offer.SKU
			}
			if offer.URL != "" {
				entry["url"] = offer.URL
			}
			if !offer.LastSeen.IsZero() {
				entry["lastSeen"] = offer.LastSeen
			}
			retailers[name] = entry
		}
		payload["retailers"] = retailers
	}
	return payload
}

func decodeMaterial(id string, doc materialDocument) domain.MaterialRecord {
	retailers := make(map[string]domain.RetailerOffer, len(doc.Retailers))
	for name, offer := range doc.Retailers {
		retailers[name] = domain.RetailerOffer{
			Price:    offer.Price,
			Currency: offer.Currency,
			SKU:      offer.SKU,
			URL:      offer.URL,
			InStock:  offer.InStock,
			LastSeen: offer.LastSeen,
		}
	}
	return domain.MaterialRecord{
		ID:             id,
		Name:           doc.Name,
		NormalizedName: doc.NormalizedName,
		Description:    doc.Description,
		Category:       doc.Category,
		Unit:           doc.Unit,
		Aliases:        doc.Aliases,
		RegionCode:     doc.RegionCode,
		Retailers:      retailers,
		Source:         domain.MaterialSource(doc.Source),
		MatchCount:     doc.MatchCount,
		CreatedAt:      doc.CreatedAt,
		UpdatedAt:      doc.UpdatedAt,
	}
}

func decodeMaterials(docs []pfirestore.Document[materialDocument]) []domain.MaterialRecord {
	if len(docs) == 0 {
		return nil
	}
	records := make([]domain.MaterialRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, decodeMaterial(doc.ID, doc.Data))
	}
	return records
}
