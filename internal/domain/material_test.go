package domain

import "testing"

func TestBestPrice(t *testing.T) {
	record := &MaterialRecord{
		Retailers: map[string]RetailerOffer{
			"homeDepot": {Price: 329.00, InStock: false},
			"lowes":     {Price: 349.00, InStock: true},
			"menards":   {Price: 355.00, InStock: true},
		},
	}

	price, retailer, ok := record.BestPrice()
	if !ok {
		t.Fatal("expected a price")
	}
	if retailer != "lowes" || price != 349.00 {
		t.Errorf("expected cheapest in-stock offer, got %s at %.2f", retailer, price)
	}
}

func TestBestPriceAllOutOfStock(t *testing.T) {
	record := &MaterialRecord{
		Retailers: map[string]RetailerOffer{
			"homeDepot": {Price: 329.00},
			"lowes":     {Price: 349.00},
		},
	}

	price, retailer, ok := record.BestPrice()
	if !ok {
		t.Fatal("expected a price")
	}
	if retailer != "homeDepot" || price != 329.00 {
		t.Errorf("expected cheapest offer overall, got %s at %.2f", retailer, price)
	}
}

func TestBestPriceEmpty(t *testing.T) {
	if _, _, ok := (&MaterialRecord{}).BestPrice(); ok {
		t.Error("expected no price for empty retailer map")
	}
	var nilRecord *MaterialRecord
	if _, _, ok := nilRecord.BestPrice(); ok {
		t.Error("expected no price for nil record")
	}
}

func TestHasAlias(t *testing.T) {
	record := &MaterialRecord{Aliases: []string{"toilet", "commode", "water closet"}}

	if !record.HasAlias("Commode") {
		t.Error("alias comparison should be case-insensitive")
	}
	if !record.HasAlias("  toilet ") {
		t.Error("alias comparison should trim whitespace")
	}
	if record.HasAlias("sink") {
		t.Error("unexpected alias match")
	}
}

func TestCacheHit(t *testing.T) {
	record := &MaterialRecord{ID: "toilet_78745"}

	cases := []struct {
		name       string
		resolution MatchResolution
		want       bool
	}{
		{"above threshold", MatchResolution{Record: record, Confidence: 0.9}, true},
		{"at threshold", MatchResolution{Record: record, Confidence: 0.8}, true},
		{"below threshold", MatchResolution{Record: record, Confidence: 0.79}, false},
		{"no record", MatchResolution{Confidence: 0.95}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.resolution.CacheHit(0.8); got != tc.want {
				t.Errorf("CacheHit = %v, want %v", got, tc.want)
			}
		})
	}
}
