// Package security はアラート本文と外部通知のためのセキュリティ機能を提供する。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// SummarySanitizer は運用者が入力した変更要約をメール本文に埋め込める安全なHTMLに変換する。
type SummarySanitizer interface {
	// Sanitize は許可リスト外のタグと属性を除去したHTMLを返す。
	// 改行のみのプレーンテキストは<br>付きのHTMLとして扱う。
	Sanitize(summary string) string
}

// summarySanitizer はbluemondayのポリシーを保持する。ポリシーはスレッドセーフ。
type summarySanitizer struct {
	policy *bluemonday.Policy
}

// NewSummarySanitizer はSummarySanitizerを生成する。
// 許可タグ: p, br, strong, em, ul, ol, li, a(href)
// リンクはhttp/https/mailtoのみ。メールクライアントで新しいタブに開かせる。
func NewSummarySanitizer() SummarySanitizer {
	p := bluemonday.NewPolicy()
	p.AllowElements("p", "br", "strong", "em", "b", "i", "ul", "ol", "li")
	p.AllowAttrs("href").OnElements("a")
	p.AllowURLSchemes("http", "https", "mailto")
	p.AllowRelativeURLs(false)
	p.RequireParseableURLs(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &summarySanitizer{policy: p}
}

// Sanitize は要約をサニタイズする。
func (s *summarySanitizer) Sanitize(summary string) string {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return ""
	}
	if !strings.Contains(summary, "<") {
		summary = strings.ReplaceAll(summary, "\r\n", "\n")
		summary = strings.ReplaceAll(bluemonday.StrictPolicy().Sanitize(summary), "\n", "<br>")
	}
	return s.policy.Sanitize(summary)
}
