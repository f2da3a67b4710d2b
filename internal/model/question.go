// Package model はドメインモデルを定義する。
package model

import "time"

// Question はユーザーが投稿した質問を表す。
// IDは作成後に変更されない。Contentは所有者のみ編集できる。
type Question struct {
	ID        string
	Content   string
	UserID    string
	CreatedAt time.Time
	UpdatedAt time.Time
}
