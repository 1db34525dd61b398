// Package domain holds the entities shared across services, repositories, and
// handlers.
package domain

import (
	"strings"
	"time"
)

// MaterialSource enumerates how a cached record entered the store.
type MaterialSource string

const (
	// MaterialSourceScrape marks records written by the retailer scrape pipeline.
	MaterialSourceScrape MaterialSource = "scrape"
	// MaterialSourceResolution marks records written back after a resolved query.
	MaterialSourceResolution MaterialSource = "resolution"
	// MaterialSourceManual marks records entered by an operator.
	MaterialSourceManual MaterialSource = "manual"
)

// RetailerOffer captures one retailer's price for a material within a region.
type RetailerOffer struct {
	Price    float64
	Currency string
	SKU      string
	URL      string
	InStock  bool
	LastSeen time.Time
}

// MaterialRecord is a priced material cached for one region. Its document ID
// is the normalized product name joined with the region code, so the same
// product priced in another region is a separate record.
type MaterialRecord struct {
	ID             string
	Name           string
	NormalizedName string
	Description    string
	Category       string
	Unit           string
	Aliases        []string
	RegionCode     string
	Retailers      map[string]RetailerOffer
	Source         MaterialSource
	MatchCount     int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// BestPrice returns the lowest in-stock retailer price, or the lowest price of
// any retailer when nothing is in stock. ok is false when no offers exist.
func (m *MaterialRecord) BestPrice() (price float64, retailer string, ok bool) {
	if m == nil || len(m.Retailers) == 0 {
		return 0, "", false
	}

	var bestAny, bestStocked string
	for name, offer := range m.Retailers {
		if bestAny == "" || offer.Price < m.Retailers[bestAny].Price {
			bestAny = name
		}
		if offer.InStock && (bestStocked == "" || offer.Price < m.Retailers[bestStocked].Price) {
			bestStocked = name
		}
	}

	if bestStocked != "" {
		return m.Retailers[bestStocked].Price, bestStocked, true
	}
	return m.Retailers[bestAny].Price, bestAny, true
}

// HasAlias reports whether the record carries the alias, compared
// case-insensitively.
func (m *MaterialRecord) HasAlias(alias string) bool {
	if m == nil {
		return false
	}
	needle := strings.ToLower(strings.TrimSpace(alias))
	for _, candidate := range m.Aliases {
		if strings.ToLower(candidate) == needle {
			return true
		}
	}
	return false
}

// MatchResolution is a disambiguated answer for one query: the chosen record
// (nil when nothing matched) with a confidence in [0, 1].
type MatchResolution struct {
	Record     *MaterialRecord
	Confidence float64
	Reasoning  string
}

// CacheHit reports whether the resolution clears the given confidence
// threshold and therefore counts as served-from-cache.
func (r MatchResolution) CacheHit(threshold float64) bool {
	return r.Record != nil && r.Confidence >= threshold
}
