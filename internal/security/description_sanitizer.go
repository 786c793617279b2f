// Package security はアプリケーションのセキュリティ機能を提供する。
//
// DescriptionSanitizerService はカレンダー予定の説明文をサニタイズし、
// XSS攻撃などのセキュリティリスクからユーザーを保護する。
// Google Calendarの説明文は限定的なHTMLを含むことがあるため、
// bluemondayライブラリを使用した許可リストベースのポリシーで
// 安全なタグのみを通過させる。
package security

import "github.com/microcosm-cc/bluemonday"

// DescriptionSanitizerService は説明文サニタイズ機能のインターフェースを定義する。
// 同期エンジンがミラー保存する前、および予定作成APIの入力に対して使用される。
type DescriptionSanitizerService interface {
	// Sanitize は説明文をサニタイズして安全なHTMLを返す。
	// 許可タグ（a, b, i, em, strong, br, ul, ol, li）のみを通過させ、
	// script等のタグおよびon*イベント属性を除去する。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(raw string) string
}

// descriptionSanitizer はDescriptionSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type descriptionSanitizer struct {
	policy *bluemonday.Policy
}

// NewDescriptionSanitizer はDescriptionSanitizerServiceの新しいインスタンスを生成する。
// ポリシーの内容:
//   - 許可タグ: a, b, i, em, strong, br, ul, ol, li（Google Calendarの説明文で許可される範囲）
//   - aタグ: href属性のみ許可し、target="_blank" と rel="noopener noreferrer" を強制付与
//   - script, iframe, style および全てのon*イベント属性は許可リスト外のため除去される
func NewDescriptionSanitizer() *descriptionSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements("b", "i", "em", "strong", "br", "ul", "ol", "li")

	p.AllowAttrs("href").OnElements("a")
	p.AllowStandardURLs()
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	return &descriptionSanitizer{
		policy: p,
	}
}

// Sanitize は説明文をサニタイズして安全なHTMLを返す。
func (s *descriptionSanitizer) Sanitize(raw string) string {
	return s.policy.Sanitize(raw)
}
