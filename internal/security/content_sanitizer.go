// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService は質問本文にHTMLが含まれていないことを検査する。
// 本文は書き換えずに保存・配信するため、マークアップを含む本文は受け付けない。
// 判定にはbluemondayのStrictPolicyを使用する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService は質問本文の検査機能のインターフェースを定義する。
// 質問の作成時および編集時、長さ検証の前に使用される。
type ContentSanitizerService interface {
	// ContainsMarkup は本文にタグ、コメント、文字参照が含まれる場合にtrueを返す。
	// タグとして解釈されない "<" や ">" を含むだけのプレーンテキストはfalseとなる。
	ContainsMarkup(raw string) bool
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフなので複数のリクエストで共有できる。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// newlineNormalizer はHTMLトークナイザーと同じ改行の正規化を行う。
var newlineNormalizer = strings.NewReplacer("\r\n", "\n", "\r", "\n")

// ContainsMarkup は本文をStrictPolicyでサニタイズした結果が、
// 本文を単純にエスケープした結果と一致しない場合にマークアップありと判定する。
func (s *contentSanitizer) ContainsMarkup(raw string) bool {
	if raw == "" {
		return false
	}
	text := newlineNormalizer.Replace(raw)
	return s.policy.Sanitize(text) != html.EscapeString(text)
}
