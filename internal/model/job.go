package model

import "time"

// JobStatus は翻訳ジョブの状態を表す。
// pending -> running -> {succeeded | failed} の順方向遷移のみ許可され、
// 終端状態からの遷移は存在しない。
type JobStatus string

const (
	// JobStatusPending はワーカーによる取得待ちの状態。
	JobStatusPending JobStatus = "pending"
	// JobStatusRunning はワーカーが処理中の状態。リース期限を持つ。
	JobStatusRunning JobStatus = "running"
	// JobStatusSucceeded は正常完了の終端状態。
	JobStatusSucceeded JobStatus = "succeeded"
	// JobStatusFailed は失敗の終端状態。エラー詳細を持つ。
	JobStatusFailed JobStatus = "failed"
)

// IsTerminal は終端状態（succeeded/failed）かを返す。
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// JobScopeType は翻訳ジョブの対象種別を表す。
type JobScopeType string

const (
	// JobScopeIssue はニュースレター号全体の翻訳を示す。
	JobScopeIssue JobScopeType = "issue"
	// JobScopeArticle は単一記事の翻訳を示す。
	JobScopeArticle JobScopeType = "article"
)

// TranslationJob は非同期翻訳の作業単位を表す。
// 一度作成されたジョブは順方向にのみ遷移し、終端状態に達した後は不変となる。
type TranslationJob struct {
	ID             string
	ScopeType      JobScopeType
	ScopeRef       string // 対象の号ID または 記事ID
	TargetLanguage string
	Status         JobStatus
	Result         *JobResult // succeeded時のみ設定
	ErrorDetail    string     // failed時のみ設定
	LeaseExpiresAt *time.Time // running時のみ設定。期限切れはreaperがpendingへ戻す
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JobResult は翻訳ジョブの成功時ペイロードを表す。
type JobResult struct {
	TranslatedCount int      `json:"translated_count"`
	SkippedCount    int      `json:"skipped_count"`
	VariantIDs      []string `json:"variant_ids"`
}
