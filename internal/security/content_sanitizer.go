// Package security はアプリケーションのセキュリティ機能を提供する。
//
// DescriptionSanitizer は出品者が入力した商品説明やフィードから取り込んだ説明文を
// 保存前にサニタイズする。bluemondayの許可リストポリシーで、
// 商品ページに表示してよいタグと属性のみを通過させる。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer は商品説明と短いテキスト項目のサニタイズ機能のインターフェース。
type TextSanitizer interface {
	// Sanitize は商品説明のHTMLをサニタイズして安全なHTMLを返す。
	// 許可タグ（p, br, ul, ol, li, strong, em, h3, h4, a, img）のみを通過させる。
	// imgのsrcはhttpsのみ許可し、aには target="_blank" と rel="nofollow noopener noreferrer" を付与する。
	Sanitize(rawHTML string) string

	// PlainText は全てのタグを除去し、前後の空白を取り除いたテキストを返す。
	// 商品名、カテゴリ、特典名など表示上HTMLを含まない項目に使用する。
	PlainText(raw string) string
}

// descriptionSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフで、生成後は変更しない。
type descriptionSanitizer struct {
	description *bluemonday.Policy
	strict      *bluemonday.Policy
}

// NewDescriptionSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewDescriptionSanitizer() *descriptionSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"strong", "em", "h3", "h4",
	)

	// 出品者のリンクは外部サイトへの誘導になり得るため nofollow を付ける
	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.RequireNoFollowOnLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})

	return &descriptionSanitizer{
		description: p,
		strict:      bluemonday.StrictPolicy(),
	}
}

// Sanitize は商品説明のHTMLをサニタイズする。
func (s *descriptionSanitizer) Sanitize(rawHTML string) string {
	return strings.TrimSpace(s.description.Sanitize(rawHTML))
}

// PlainText はタグを全て除去したテキストを返す。
// StrictPolicyがエスケープした文字（' や & など）は元に戻す。
func (s *descriptionSanitizer) PlainText(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(raw)))
}
