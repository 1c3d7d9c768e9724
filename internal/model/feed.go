// Package model はドメインモデルを定義する。
package model

import "time"

// Feed はニュース記事の取得元フィードを表す。
// 言語・地域・カテゴリはフィード登録時に申告され、
// 申告言語は言語分類器のヒントとして使用される。
type Feed struct {
	ID                string
	Name              string
	FeedURL           string
	Language          string // 申告言語（ISO 639-1）
	Region            string
	Category          string
	Active            bool
	ConsecutiveErrors int
	ErrorMessage      string
	LastPolledAt      *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// RawArticle はフィードフェッチ協調者から受け取る正規化済みの未保存記事。
// ワイヤフォーマット（RSS/Atom）のパースはフェッチ側の責務であり、
// パイプラインコアはこのレコードのみを扱う。
type RawArticle struct {
	Title       string
	Author      string
	Description string
	Content     string // サニタイズ済みHTML
	URL         string // 正規URL（重複判定のグローバルキー）
	ImageURL    string
	PublishedAt *time.Time
}
