// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はユーザーやIDプロバイダーから受け取った文字列からHTMLを取り除く。
// メニュー項目の名前・説明・コース名と、プロバイダーの表示名に適用する。
type TextSanitizer interface {
	// SanitizeText はすべてのタグを除去し、前後の空白を取り除いたプレーンテキストを返す。
	// 同一入力に対して常に同一出力を返す。
	SanitizeText(raw string) string
}

// textSanitizer はbluemondayのStrictPolicyによるTextSanitizer実装。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeText はタグを除去したプレーンテキストを返す。
// StrictPolicyがエスケープした実体参照は元の文字に戻す（JSONで返すため）。
func (s *textSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
