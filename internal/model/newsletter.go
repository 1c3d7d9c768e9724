package model

import "time"

// IssueStatus はニュースレター号のライフサイクル状態を表す。
type IssueStatus string

const (
	// IssueStatusDraft は編集中の初期状態。
	IssueStatusDraft IssueStatus = "draft"
	// IssueStatusPublished は公開済み状態。published_atが設定される。
	IssueStatusPublished IssueStatus = "published"
	// IssueStatusArchived はアーカイブ済み状態。以降の遷移は許可されない。
	IssueStatusArchived IssueStatus = "archived"
)

// Issue はバージョン管理されたニュースレターの1号を表す。
// IssueNumberは作成時に採番され、厳密に単調増加し、削除後も再利用されない。
//
// 状態遷移: draft --publish--> published --archive--> archived
// draftからのarchive（号の破棄）も許可される。draftへ戻る遷移はない。
type Issue struct {
	ID          string
	IssueNumber int
	Title       string
	Subtitle    string
	Language    string
	Status      IssueStatus
	PublishedAt *time.Time // publish遷移時にのみ設定される
	Metadata    map[string]string
	Sections    []Section
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Section はニュースレター号内の順序付きセクションを表す。
type Section struct {
	ID       string
	Heading  string
	Position int
	Articles []ArticleAssignment
}

// ArticleAssignment はセクション内への記事の順序付き割り当てを表す。
// DisplayTitleが空でない場合、表示時に記事タイトルを上書きする。
type ArticleAssignment struct {
	ID           string
	ArticleID    string
	Position     int
	DisplayTitle string
}

// CanTransitionTo は現在の状態からの遷移が許可されるかを返す。
func (s IssueStatus) CanTransitionTo(next IssueStatus) bool {
	switch s {
	case IssueStatusDraft:
		return next == IssueStatusPublished || next == IssueStatusArchived
	case IssueStatusPublished:
		return next == IssueStatusArchived
	default:
		return false
	}
}

// IsEditable はセクション・割り当ての編集が許可される状態かを返す。
// 編集はdraftの間のみ許可される。
func (s IssueStatus) IsEditable() bool {
	return s == IssueStatusDraft
}
