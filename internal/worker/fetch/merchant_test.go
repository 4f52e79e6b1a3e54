package fetch

import (
	"strings"
	"testing"

	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"

	"github.com/hitoshi/marketplace/internal/security"
)

func merchantItem(fields map[string]string) *gofeed.Item {
	g := make(map[string][]ext.Extension, len(fields))
	for name, value := range fields {
		g[name] = []ext.Extension{{Name: name, Value: value}}
	}
	return &gofeed.Item{Extensions: ext.Extensions{merchantPrefix: g}}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in           string
		wantCents    int64
		wantCurrency string
		wantOK       bool
	}{
		{"45.00 USD", 4500, "USD", true},
		{"USD 1,299.5", 129950, "USD", true},
		{"18.999 usd", 1899, "USD", true},
		{"7", 700, "", true},
		{".50 EUR", 50, "EUR", true},
		{"", 0, "", false},
		{"USD", 0, "", false},
		{"0.00 USD", 0, "", false},
		{"-5.00 USD", 0, "", false},
		{"1.2.3 USD", 0, "", false},
		{"12.00 US DOLLARS", 0, "", false},
		{"999999999.00 USD", 0, "", false},
	}
	for _, tt := range tests {
		cents, currency, ok := ParsePrice(tt.in)
		if cents != tt.wantCents || currency != tt.wantCurrency || ok != tt.wantOK {
			t.Errorf("ParsePrice(%q) = (%d, %q, %v), want (%d, %q, %v)",
				tt.in, cents, currency, ok, tt.wantCents, tt.wantCurrency, tt.wantOK)
		}
	}
}

func TestIsInStock(t *testing.T) {
	tests := map[string]bool{
		"":             true,
		"in_stock":     true,
		"in stock":     true,
		"IN_STOCK":     true,
		"out_of_stock": false,
		"preorder":     false,
		"backorder":    false,
	}
	for in, want := range tests {
		if got := IsInStock(in); got != want {
			t.Errorf("IsInStock(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestConvertItems_FallbackFields(t *testing.T) {
	item := merchantItem(map[string]string{"price": "12.00 USD"})
	item.GUID = "guid-1"
	item.Title = "<b>Plain</b> Tea Cup"
	item.Link = "https://shop.example.com/cup"
	item.Categories = []string{"Kitchen"}
	item.Image = &gofeed.Image{URL: "http://insecure.example.com/cup.jpg"}

	listings, skipped := ConvertItems([]*gofeed.Item{item}, "USD", security.NewDescriptionSanitizer(), 10)
	if len(skipped) != 0 {
		t.Fatalf("skipped = %v, want none", skipped)
	}
	if len(listings) != 1 {
		t.Fatalf("len(listings) = %d, want 1", len(listings))
	}
	got := listings[0]
	if got.ExternalID != "guid-1" {
		t.Errorf("ExternalID = %q, want guid-1", got.ExternalID)
	}
	if got.Name != "Plain Tea Cup" {
		t.Errorf("Name = %q, want %q", got.Name, "Plain Tea Cup")
	}
	if got.Category != "Kitchen" {
		t.Errorf("Category = %q, want Kitchen", got.Category)
	}
	if got.ImageURL != "" {
		t.Errorf("http の画像URLは取り込まないべき: %q", got.ImageURL)
	}
	if got.Link != "https://shop.example.com/cup" {
		t.Errorf("Link = %q", got.Link)
	}
	if !got.Available || got.Stock != nil {
		t.Errorf("数量のない在庫ありエントリは Stock=nil になるべき: available=%v stock=%v", got.Available, got.Stock)
	}
}

func TestConvertItems_SaleSelectsLowerPrice(t *testing.T) {
	item := merchantItem(map[string]string{
		"id":         "SKU-1",
		"title":      "Mug",
		"price":      "20.00 USD",
		"sale_price": "15.00 USD",
	})

	listings, _ := ConvertItems([]*gofeed.Item{item}, "USD", security.NewDescriptionSanitizer(), 10)
	if len(listings) != 1 || listings[0].PriceCents != 1500 {
		t.Fatalf("sale_price が優先されるべき: %+v", listings)
	}
}

func TestConvertItems_SkipReasons(t *testing.T) {
	items := []*gofeed.Item{
		merchantItem(map[string]string{"title": "No ID", "price": "1.00 USD"}),
		merchantItem(map[string]string{"id": "A", "price": "1.00 USD"}),
		merchantItem(map[string]string{"id": "B", "title": "Bad price", "price": "free"}),
		merchantItem(map[string]string{"id": "C", "title": "Euro", "price": "1.00 EUR"}),
		merchantItem(map[string]string{"id": "D", "title": "First", "price": "1.00 USD"}),
		merchantItem(map[string]string{"id": "D", "title": "Duplicate", "price": "2.00 USD"}),
		merchantItem(map[string]string{"id": strings.Repeat("x", maxImportedExternalID+1), "title": "Long ID", "price": "1.00 USD"}),
		nil,
	}

	listings, skipped := ConvertItems(items, "USD", security.NewDescriptionSanitizer(), 10)

	if len(listings) != 1 || listings[0].Name != "First" {
		t.Fatalf("listings = %+v, want only First", listings)
	}
	want := map[SkipReason]int{
		SkipMissingID:    2,
		SkipMissingName:  1,
		SkipInvalidPrice: 1,
		SkipCurrency:     1,
		SkipDuplicateID:  1,
	}
	for reason, n := range want {
		if skipped[reason] != n {
			t.Errorf("skipped[%s] = %d, want %d", reason, skipped[reason], n)
		}
	}
}

func TestConvertItems_MaxItems(t *testing.T) {
	items := []*gofeed.Item{
		merchantItem(map[string]string{"id": "1", "title": "One", "price": "1.00 USD"}),
		merchantItem(map[string]string{"id": "2", "title": "Two", "price": "1.00 USD"}),
		merchantItem(map[string]string{"id": "3", "title": "Three", "price": "1.00 USD"}),
	}

	listings, skipped := ConvertItems(items, "USD", security.NewDescriptionSanitizer(), 2)
	if len(listings) != 2 {
		t.Errorf("len(listings) = %d, want 2", len(listings))
	}
	if skipped[SkipTooManyListings] != 1 {
		t.Errorf("skipped[too_many_listings] = %d, want 1", skipped[SkipTooManyListings])
	}
}

func TestConvertItems_QuantityClamp(t *testing.T) {
	item := merchantItem(map[string]string{
		"id":       "BULK",
		"title":    "Bulk",
		"price":    "1.00 USD",
		"quantity": "99999999",
	})

	listings, _ := ConvertItems([]*gofeed.Item{item}, "USD", security.NewDescriptionSanitizer(), 10)
	if len(listings) != 1 || listings[0].Stock == nil || *listings[0].Stock != maxImportedQuantity {
		t.Fatalf("数量は上限で切り詰められるべき: %+v", listings)
	}
}
