// Package security はユーザー入力テキストのサニタイズを提供する。
//
// プロジェクト名、課題タイトル、コメントはタグを一切含まないプレーンテキストとして、
// 説明文は限られた書式タグのみを許可したHTMLとして保存する。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はユーザー入力を保存前に無害化するインターフェース。
type TextSanitizer interface {
	// Plain は全てのタグを除去し、前後の空白を取り除く。
	Plain(s string) string
	// Rich は許可された書式タグ以外を除去する。
	Rich(s string) string
}

// Sanitizer はbluemondayのポリシーを保持するTextSanitizerの実装。
// ポリシーは生成後に変更しないため、複数のgoroutineから安全に利用できる。
type Sanitizer struct {
	plain *bluemonday.Policy
	rich  *bluemonday.Policy
}

// NewSanitizer はSanitizerを生成する。
// 説明文のポリシー:
//   - 許可タグ: p, br, ul, ol, li, blockquote, pre, code, strong, em, a
//   - aタグはhref（http/https/mailtoの絶対URL）のみ許可し、target="_blank" と rel="noopener noreferrer" を付与
//   - 画像、script、iframe、style、on*属性は除去
func NewSanitizer() *Sanitizer {
	rich := bluemonday.NewPolicy()
	rich.AllowElements(
		"p", "br", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em",
	)
	rich.AllowAttrs("href").OnElements("a")
	rich.AllowURLSchemes("http", "https", "mailto")
	rich.AllowRelativeURLs(false)
	rich.AddTargetBlankToFullyQualifiedLinks(true)
	rich.RequireNoReferrerOnLinks(true)

	return &Sanitizer{
		plain: bluemonday.StrictPolicy(),
		rich:  rich,
	}
}

// Plain は全てのタグを除去する。
func (s *Sanitizer) Plain(in string) string {
	return strings.TrimSpace(s.plain.Sanitize(in))
}

// Rich は許可された書式タグ以外を除去する。
func (s *Sanitizer) Rich(in string) string {
	return strings.TrimSpace(s.rich.Sanitize(in))
}

var _ TextSanitizer = (*Sanitizer)(nil)
