package catalog

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hitoshi/marketplace/internal/model"
)

// FeedFormat はカタログフィードの形式を表す。
type FeedFormat string

const (
	// FeedFormatRSS はRSS 2.0形式。
	FeedFormatRSS FeedFormat = "rss"
	// FeedFormatAtom はAtom形式。
	FeedFormatAtom FeedFormat = "atom"
	// FeedFormatMerchant はGoogle Merchantの g: 名前空間を含むRSS形式。
	FeedFormatMerchant FeedFormat = "merchant"
)

// merchantNamespace はGoogle Merchantフィードの名前空間URI。
const merchantNamespace = "http://base.google.com/ns/1.0"

// discoveryUserAgent はショップページ取得時のUser-Agent。
const discoveryUserAgent = "MarketplaceCatalogBot/1.0"

// FeedLink はショップページのheadから検出されたフィードリンクを表す。
type FeedLink struct {
	URL    string
	Format FeedFormat
	Title  string
}

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// Discoverer は出品者が入力したURLからカタログフィードURLを特定する。
// フィードURLそのもの、またはフィードへのlinkを持つショップページを受け付ける。
type Discoverer struct {
	guard   SSRFValidator
	timeout time.Duration
	maxSize int64
}

// NewDiscoverer はDiscovererの新しいインスタンスを生成する。
func NewDiscoverer(guard SSRFValidator, timeout time.Duration, maxSize int64) *Discoverer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if maxSize <= 0 {
		maxSize = 5 * 1024 * 1024
	}
	return &Discoverer{guard: guard, timeout: timeout, maxSize: maxSize}
}

// SniffFeedFormat はContent-Typeとボディの先頭からフィード形式を判定する。
// フィードでない場合はfalseを返す。
func SniffFeedFormat(contentType string, body []byte) (FeedFormat, bool) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	}
	mediaType = strings.ToLower(mediaType)

	prefix := bodyPrefix(body)

	switch mediaType {
	case "application/rss+xml":
		if strings.Contains(prefix, merchantNamespace) {
			return FeedFormatMerchant, true
		}
		return FeedFormatRSS, true
	case "application/atom+xml":
		return FeedFormatAtom, true
	case "text/xml", "application/xml":
		return sniffXMLRoot(prefix)
	}
	return "", false
}

// bodyPrefix はボディの先頭4KBを小文字で返す。
func bodyPrefix(body []byte) string {
	n := len(body)
	if n > 4096 {
		n = 4096
	}
	return strings.ToLower(string(body[:n]))
}

func sniffXMLRoot(prefix string) (FeedFormat, bool) {
	switch {
	case strings.Contains(prefix, "<rss"):
		if strings.Contains(prefix, merchantNamespace) {
			return FeedFormatMerchant, true
		}
		return FeedFormatRSS, true
	case strings.Contains(prefix, "<rdf:rdf"):
		return FeedFormatRSS, true
	case strings.Contains(prefix, "<feed") && strings.Contains(prefix, "http://www.w3.org/2005/atom"):
		return FeedFormatAtom, true
	}
	return "", false
}

// ParseFeedLinks はHTMLのheadから rel="alternate" のRSS/Atomリンクを抽出する。
// 相対URLはpageURLを基準に解決する。
func ParseFeedLinks(htmlBody []byte, pageURL string) []FeedLink {
	var links []FeedLink

	base, err := url.Parse(pageURL)
	if err != nil {
		return links
	}

	z := html.NewTokenizer(bytes.NewReader(htmlBody))
	inHead := false

	for {
		switch z.Next() {
		case html.ErrorToken:
			return links

		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			switch string(name) {
			case "head":
				inHead = true
				continue
			case "body":
				return links
			case "link":
			default:
				continue
			}
			if !inHead || !hasAttr {
				continue
			}

			attrs := readAttrs(z)
			if !hasRel(attrs["rel"], "alternate") || attrs["href"] == "" {
				continue
			}

			var format FeedFormat
			switch attrs["type"] {
			case "application/rss+xml":
				format = FeedFormatRSS
			case "application/atom+xml":
				format = FeedFormatAtom
			default:
				continue
			}

			ref, err := url.Parse(attrs["href"])
			if err != nil {
				continue
			}
			links = append(links, FeedLink{
				URL:    base.ResolveReference(ref).String(),
				Format: format,
				Title:  attrs["title"],
			})

		case html.EndTagToken:
			if name, _ := z.TagName(); string(name) == "head" {
				return links
			}
		}
	}
}

// readAttrs は現在のタグの属性を取り出す。rel と type は小文字に正規化する。
func readAttrs(z *html.Tokenizer) map[string]string {
	attrs := make(map[string]string)
	for {
		key, val, more := z.TagAttr()
		k := strings.ToLower(string(key))
		v := string(val)
		if k == "rel" || k == "type" {
			v = strings.ToLower(strings.TrimSpace(v))
		}
		attrs[k] = v
		if !more {
			return attrs
		}
	}
}

func hasRel(rel, want string) bool {
	for _, r := range strings.Fields(rel) {
		if r == want {
			return true
		}
	}
	return false
}

// productHints はタイトルやURLに含まれていれば商品フィードとみなす語。
var productHints = []string{"product", "catalog", "merchant", "商品"}

// SelectCatalogFeed は候補から商品カタログとして最も適切なフィードを選ぶ。
// 優先順位: 同一ホスト > 商品フィードらしい名前 > RSS（Merchant形式はRSS） > 先頭
func SelectCatalogFeed(links []FeedLink, pageURL string) *FeedLink {
	if len(links) == 0 {
		return nil
	}

	pageHost := hostOf(pageURL)
	best, bestScore := 0, -1

	for i, l := range links {
		score := 0
		if hostOf(l.URL) == pageHost {
			score += 100
		}
		if looksLikeProductFeed(l) {
			score += 20
		}
		if l.Format == FeedFormatRSS {
			score += 10
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}

	return &links[best]
}

func looksLikeProductFeed(l FeedLink) bool {
	text := strings.ToLower(l.Title + " " + l.URL)
	for _, hint := range productHints {
		if strings.Contains(text, hint) {
			return true
		}
	}
	return false
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// DetectFeedURL は入力URLを取得し、カタログフィードのURLを返す。
// 入力がフィードならそのまま、ショップページならheadのリンクから選択したURLを返す。
func (d *Discoverer) DetectFeedURL(ctx context.Context, inputURL string) (string, error) {
	inputURL = strings.TrimSpace(inputURL)
	if inputURL == "" {
		return "", model.NewInvalidURLError("URLが入力されていません")
	}

	if d.guard != nil {
		if err := d.guard.ValidateURL(inputURL); err != nil {
			return "", model.NewSSRFBlockedError()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, inputURL, nil)
	if err != nil {
		return "", model.NewInvalidURLError(err.Error())
	}
	req.Header.Set("User-Agent", discoveryUserAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.9, */*;q=0.1")

	resp, err := d.client().Do(req)
	if err != nil {
		return "", model.NewFetchFailedError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", model.NewFetchFailedError(fmt.Sprintf("HTTP %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, d.maxSize))
	if err != nil {
		return "", model.NewFetchFailedError(fmt.Sprintf("レスポンスの読み取りに失敗: %v", err))
	}

	contentType := resp.Header.Get("Content-Type")
	if _, ok := SniffFeedFormat(contentType, body); ok {
		return inputURL, nil
	}

	mediaType, _, _ := mime.ParseMediaType(contentType)
	if !strings.Contains(strings.ToLower(mediaType), "html") {
		return "", model.NewFeedNotDetectedError(inputURL)
	}

	best := SelectCatalogFeed(ParseFeedLinks(body, inputURL), inputURL)
	if best == nil {
		return "", model.NewFeedNotDetectedError(inputURL)
	}
	return best.URL, nil
}

func (d *Discoverer) client() *http.Client {
	if d.guard != nil {
		return d.guard.NewSafeClient(d.timeout, d.maxSize)
	}
	return &http.Client{Timeout: d.timeout}
}
