package model

import "time"

// Article は取り込み済みのニュース記事を表す。
// URLは全記事を通して一意であり、重複排除の唯一のキーとなる。
// 翻訳は元記事を書き換えず、TranslatedFromで元記事を参照する
// 言語別の新レコードとして作成される。
type Article struct {
	ID                string
	FeedID            string
	Title             string
	Author            string
	Description       string
	Content           string // サニタイズ済みHTML
	URL               string // 正規URL
	ImageURL          string
	PublishedAt       *time.Time
	Language          string // 検出言語（ISO 639-1）。空は未判定
	NeedsManualReview bool   // 言語判定が低信頼で人手確認が必要
	Summary           string // AI生成サマリー。空は未生成
	TranslatedFrom    string // 翻訳元記事ID。空はオリジナル
	Selected          bool   // ニュースレター掲載候補として選択済み
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsEnriched はサマリーが生成済みかを返す。
func (a *Article) IsEnriched() bool {
	return a.Summary != ""
}

// IsTranslation は翻訳バリアントかを返す。
func (a *Article) IsTranslation() bool {
	return a.TranslatedFrom != ""
}
