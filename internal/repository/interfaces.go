// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/globalnews/internal/model"
)

// FeedRepository はフィードデータの永続化インターフェース。
type FeedRepository interface {
	// FindByID は指定IDのフィードを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Feed, error)

	// FindByFeedURL はフィードURLでフィードを検索する。見つからない場合はnilを返す。
	FindByFeedURL(ctx context.Context, feedURL string) (*model.Feed, error)

	// Create はフィードを作成する。
	Create(ctx context.Context, feed *model.Feed) error

	// List は全フィードを作成日時昇順で返す。
	List(ctx context.Context) ([]*model.Feed, error)

	// ListActive はポーリング対象のアクティブなフィードを返す。
	ListActive(ctx context.Context) ([]*model.Feed, error)

	// SetActive はフィードのアクティブフラグを更新する。
	SetActive(ctx context.Context, id string, active bool) error

	// UpdatePollState はポーリング結果（連続エラー数、エラーメッセージ、最終ポーリング時刻）を更新する。
	UpdatePollState(ctx context.Context, feed *model.Feed) error
}

// ArticleFilter は記事一覧の検索条件を表す。
type ArticleFilter struct {
	FeedID      string // 空の場合は全フィード
	NeedsReview *bool  // nilの場合は絞り込みなし
	Language    string // 空の場合は全言語
}

// ArticleRepository は記事データの永続化インターフェース。
// 正規URLによる存在判定が重複排除の基盤となる。
type ArticleRepository interface {
	// ExistsByURL は指定の正規URLを持つ記事が存在するかを返す。
	ExistsByURL(ctx context.Context, url string) (bool, error)

	// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Article, error)

	// Create は新規記事を作成する。
	Create(ctx context.Context, article *model.Article) error

	// Update は既存記事を上書き更新する（再処理の永続化用）。
	Update(ctx context.Context, article *model.Article) error

	// UpdateSummary は記事のサマリーのみを更新する。
	UpdateSummary(ctx context.Context, id, summary string) error

	// List はフィルタ条件に一致する記事を作成日時降順で返す。
	List(ctx context.Context, filter ArticleFilter, limit, offset int) ([]*model.Article, error)

	// ListByIssue は号に割り当てられた記事をセクション・割り当て順で返す。
	ListByIssue(ctx context.Context, issueID string) ([]*model.Article, error)

	// MarkSelected は記事群の選択フラグを設定する。
	MarkSelected(ctx context.Context, ids []string, selected bool) error
}

// IssueRepository はニュースレター号の永続化インターフェース。
type IssueRepository interface {
	// CreateDraft はdraft状態の号を作成する。
	// issue_numberはINSERT内でmax+1を計算して採番する。並行作成が衝突した場合は
	// 一意制約違反が返り、呼び出し側（サービス層）がリトライする。
	CreateDraft(ctx context.Context, issue *model.Issue) error

	// FindByID は号をセクションツリー込みで取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Issue, error)

	// NextIssueNumber は次に採番される号番号を返す（読み取り専用のプレビュー）。
	NextIssueNumber(ctx context.Context) (int, error)

	// ReplaceSections は号のセクションと記事割り当てを同一トランザクションで差し替える。
	// 号がdraft状態でない場合は差し替えを行わずfalseを返す。
	ReplaceSections(ctx context.Context, issueID string, sections []model.Section) (bool, error)

	// UpdateStatus は号の状態をfromからtoへ遷移させる。
	// WHERE status = from のガード付きUPDATEであり、遷移できた場合のみtrueを返す。
	// publishedAtが非nilの場合はpublished_atも設定する。
	UpdateStatus(ctx context.Context, id string, from, to model.IssueStatus, publishedAt *time.Time) (bool, error)
}

// JobFilter は翻訳ジョブ一覧の検索条件を表す。
type JobFilter struct {
	Status    model.JobStatus    // 空の場合は全状態
	ScopeType model.JobScopeType // 空の場合は全種別
}

// JobRepository は翻訳ジョブの永続化インターフェース。
// 状態遷移のガードはすべてSQLのWHERE句で行い、終端状態の不変性を保証する。
type JobRepository interface {
	// Insert は新規ジョブをpending状態で作成する。
	// 同一(scope_type, scope_ref, target_language)の非終端ジョブが存在する場合は
	// 部分一意インデックスにより一意制約違反が返る。
	Insert(ctx context.Context, job *model.TranslationJob) error

	// FindByID は指定IDのジョブを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.TranslationJob, error)

	// FindActiveByScope は同一対象・同一言語の非終端ジョブを検索する。見つからない場合はnilを返す。
	FindActiveByScope(ctx context.Context, scopeType model.JobScopeType, scopeRef, targetLanguage string) (*model.TranslationJob, error)

	// List はフィルタ条件に一致するジョブを作成日時降順で返す。
	List(ctx context.Context, filter JobFilter, limit, offset int) ([]*model.TranslationJob, error)

	// ClaimPending は最古のpendingジョブを1件、FOR UPDATE SKIP LOCKEDで排他的に取得し、
	// running状態とリース期限を設定して返す。対象がない場合はnilを返す。
	ClaimPending(ctx context.Context, lease time.Duration) (*model.TranslationJob, error)

	// MarkSucceeded はrunning状態のジョブをsucceededへ遷移させ、結果ペイロードを記録する。
	// ジョブがrunningでない場合は何も更新しない（終端状態の不変性）。
	MarkSucceeded(ctx context.Context, id string, result *model.JobResult) error

	// MarkFailed はrunning状態のジョブをfailedへ遷移させ、エラー詳細を記録する。
	MarkFailed(ctx context.Context, id, errorDetail string) error

	// ReapExpired はリース期限切れのrunningジョブをpendingへ戻し、戻した件数を返す。
	// ワーカークラッシュでrunningに取り残されたジョブの回収に使用する。
	ReapExpired(ctx context.Context) (int64, error)
}
