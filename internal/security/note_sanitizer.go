package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// NoteSanitizerService はリマインダーのメモ欄のサニタイズ機能を定義する。
// メモはプレーンテキストとして扱い、通知メールのHTML本文やカレンダーの
// 説明欄にそのまま埋め込まれるため、タグはすべて除去する。
type NoteSanitizerService interface {
	// Sanitize はメモからHTMLタグをすべて除去し、前後の空白を取り除いて返す。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(note string) string
}

// noteSanitizer はNoteSanitizerServiceの実装。
// bluemondayのStrictPolicyを保持し、スレッドセーフにサニタイズ処理を行う。
type noteSanitizer struct {
	policy *bluemonday.Policy
}

// NewNoteSanitizer はNoteSanitizerServiceの新しいインスタンスを生成する。
// StrictPolicyはすべてのタグと属性を除去し、テキストのみを通過させる。
func NewNoteSanitizer() *noteSanitizer {
	return &noteSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はメモからHTMLタグを除去して返す。
func (s *noteSanitizer) Sanitize(note string) string {
	return strings.TrimSpace(s.policy.Sanitize(note))
}
