package fetch

import (
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/marketplace/internal/model"
)

// merchantPrefix はGoogle Merchantフィードの名前空間プレフィックス（xmlns:g）。
const merchantPrefix = "g"

const (
	maxImportedNameLength     = 200
	maxImportedCategoryLength = 100
	maxImportedExternalID     = 200
	maxImportedQuantity       = 1_000_000
)

// Sanitizer はフィード由来のテキストを無害化するインターフェース。
type Sanitizer interface {
	Sanitize(input string) string
	PlainText(input string) string
}

// SkipReason はエントリを取り込まなかった理由。
type SkipReason string

const (
	SkipMissingID       SkipReason = "missing_id"
	SkipMissingName     SkipReason = "missing_name"
	SkipInvalidPrice    SkipReason = "invalid_price"
	SkipCurrency        SkipReason = "currency_mismatch"
	SkipDuplicateID     SkipReason = "duplicate_id"
	SkipTooManyListings SkipReason = "too_many_listings"
)

// ConvertItems はgofeedのエントリを出品情報に変換する。
// g:id（なければGUID、リンク）で識別し、g:price が読めないエントリと
// currency 以外の通貨で価格付けされたエントリは取り込まない。
func ConvertItems(items []*gofeed.Item, currency string, sanitizer Sanitizer, maxItems int) ([]model.ImportedListing, map[SkipReason]int) {
	listings := make([]model.ImportedListing, 0, len(items))
	skipped := make(map[SkipReason]int)
	seen := make(map[string]bool)

	for _, item := range items {
		if item == nil {
			continue
		}
		if maxItems > 0 && len(listings) >= maxItems {
			skipped[SkipTooManyListings]++
			continue
		}

		listing, reason := convertItem(item, currency, sanitizer)
		if reason != "" {
			skipped[reason]++
			continue
		}
		if seen[listing.ExternalID] {
			skipped[SkipDuplicateID]++
			continue
		}
		seen[listing.ExternalID] = true
		listings = append(listings, listing)
	}

	return listings, skipped
}

func convertItem(item *gofeed.Item, currency string, sanitizer Sanitizer) (model.ImportedListing, SkipReason) {
	var l model.ImportedListing

	l.ExternalID = firstNonEmpty(merchantValue(item, "id"), item.GUID, item.Link)
	if l.ExternalID == "" || utf8.RuneCountInString(l.ExternalID) > maxImportedExternalID {
		return l, SkipMissingID
	}

	l.Name = truncate(sanitizer.PlainText(firstNonEmpty(merchantValue(item, "title"), item.Title)), maxImportedNameLength)
	if l.Name == "" {
		return l, SkipMissingName
	}

	l.Description = sanitizer.Sanitize(firstNonEmpty(merchantValue(item, "description"), item.Content, item.Description))

	category := firstNonEmpty(merchantValue(item, "product_type"), merchantValue(item, "google_product_category"))
	if category == "" && len(item.Categories) > 0 {
		category = item.Categories[0]
	}
	l.Category = truncate(sanitizer.PlainText(lastCategorySegment(category)), maxImportedCategoryLength)

	l.ImageURL = httpsURL(firstNonEmpty(merchantValue(item, "image_link"), itemImage(item)))
	l.Link = firstNonEmpty(merchantValue(item, "link"), item.Link)

	cents, priceCurrency, ok := ParsePrice(firstNonEmpty(merchantValue(item, "sale_price"), merchantValue(item, "price")))
	if !ok {
		return l, SkipInvalidPrice
	}
	if priceCurrency != "" && currency != "" && !strings.EqualFold(priceCurrency, currency) {
		return l, SkipCurrency
	}
	l.PriceCents = cents
	l.Currency = strings.ToUpper(firstNonEmpty(priceCurrency, currency))

	l.Available = IsInStock(merchantValue(item, "availability"))
	if q := merchantValue(item, "quantity"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n >= 0 {
			if n > maxImportedQuantity {
				n = maxImportedQuantity
			}
			l.Stock = &n
		}
	}
	if !l.Available && l.Stock == nil {
		zero := 0
		l.Stock = &zero
	}

	return l, ""
}

// merchantValue はエントリのg:拡張要素の値を返す。
func merchantValue(item *gofeed.Item, name string) string {
	if item.Extensions == nil {
		return ""
	}
	values := item.Extensions[merchantPrefix][name]
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0].Value)
}

// ParsePrice は "45.00 USD" や "USD 1,299.5" 形式の価格を最小通貨単位に変換する。
// 小数点以下3桁目以降は切り捨てる。負の価格と0は受け付けない。
func ParsePrice(s string) (cents int64, currency string, ok bool) {
	var amount string
	for _, field := range strings.Fields(s) {
		switch {
		case isAmount(field) && amount == "":
			amount = field
		case isCurrencyCode(field) && currency == "":
			currency = strings.ToUpper(field)
		default:
			return 0, "", false
		}
	}
	if amount == "" {
		return 0, "", false
	}

	amount = strings.ReplaceAll(amount, ",", "")
	whole, frac, _ := strings.Cut(amount, ".")
	if whole == "" {
		whole = "0"
	}
	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units > 100_000_000 {
		return 0, "", false
	}
	frac = (frac + "00")[:2]
	fracCents, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, "", false
	}

	cents = units*100 + fracCents
	if cents <= 0 {
		return 0, "", false
	}
	return cents, currency, true
}

func isAmount(s string) bool {
	if s == "" {
		return false
	}
	dots := 0
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == ',':
		case r == '.':
			dots++
		default:
			return false
		}
	}
	return dots <= 1
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

// IsInStock はg:availabilityの値が在庫ありを示すかどうかを返す。
// 値がない場合は在庫ありとみなす。
func IsInStock(availability string) bool {
	switch strings.ReplaceAll(strings.ToLower(strings.TrimSpace(availability)), "_", " ") {
	case "", "in stock":
		return true
	}
	return false
}

// lastCategorySegment は "Home > Kitchen > Mugs" 形式のカテゴリの末尾を返す。
func lastCategorySegment(category string) string {
	if i := strings.LastIndex(category, ">"); i >= 0 {
		category = category[i+1:]
	}
	return strings.TrimSpace(category)
}

func itemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}

// httpsURL はHTTPSの絶対URLのみを返す。それ以外は空文字を返す。
func httpsURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return ""
	}
	return u.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
