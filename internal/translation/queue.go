// Package translation は翻訳ジョブのキュー、ワーカー、リース回収を提供する。
// ジョブは非同期に処理され、同一対象・同一言語の重複enqueueは冪等化される。
package translation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/globalnews/internal/language"
	"github.com/hitoshi/globalnews/internal/model"
	"github.com/hitoshi/globalnews/internal/repository"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// Queue は翻訳ジョブの受付と照会を行う。
type Queue struct {
	jobs   repository.JobRepository
	logger *slog.Logger
}

// NewQueue はQueueを生成する。
func NewQueue(jobs repository.JobRepository, logger *slog.Logger) *Queue {
	return &Queue{
		jobs:   jobs,
		logger: logger,
	}
}

// Enqueue は翻訳ジョブを登録する。
// 同一対象・同一言語のpending/runningジョブが既に存在する場合は
// 新規作成せず既存のジョブを返す（冪等）。並行enqueueの競合は
// 部分一意インデックスの一意制約違反を既存ジョブの再検索で解決する。
// 戻り値のcreatedは新規作成した場合にtrueとなる（APIの202/200の判別用）。
func (q *Queue) Enqueue(ctx context.Context, scopeType model.JobScopeType, scopeRef, target string) (*model.TranslationJob, bool, error) {
	const op = "translation.Enqueue"

	if scopeType != model.JobScopeIssue && scopeType != model.JobScopeArticle {
		return nil, false, model.NewValidationError(op,
			fmt.Sprintf("未知のジョブ対象種別です: %s", scopeType))
	}
	if scopeRef == "" {
		return nil, false, model.NewValidationError(op, "ジョブ対象IDは必須です")
	}
	targetCode := language.Normalize(target)
	if targetCode == "" {
		return nil, false, model.NewValidationError(op,
			fmt.Sprintf("対応していない翻訳先言語です: %s", target))
	}

	existing, err := q.jobs.FindActiveByScope(ctx, scopeType, scopeRef, targetCode)
	if err != nil {
		return nil, false, model.NewDatabaseError(op, err)
	}
	if existing != nil {
		q.logger.Info("同一対象の非終端ジョブが存在するため既存ジョブを返します",
			slog.String("job_id", existing.ID),
			slog.String("scope_type", string(scopeType)),
			slog.String("scope_ref", scopeRef),
			slog.String("target_language", targetCode),
		)
		return existing, false, nil
	}

	now := time.Now().UTC()
	job := &model.TranslationJob{
		ID:             uuid.New().String(),
		ScopeType:      scopeType,
		ScopeRef:       scopeRef,
		TargetLanguage: targetCode,
		Status:         model.JobStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := q.jobs.Insert(ctx, job); err != nil {
		if repository.IsUniqueViolation(err) {
			// 並行enqueueに先を越された。勝者のジョブを返す
			winner, findErr := q.jobs.FindActiveByScope(ctx, scopeType, scopeRef, targetCode)
			if findErr != nil {
				return nil, false, model.NewDatabaseError(op, findErr)
			}
			if winner != nil {
				return winner, false, nil
			}
		}
		return nil, false, model.NewDatabaseError(op, err)
	}

	q.logger.Info("翻訳ジョブを登録しました",
		slog.String("job_id", job.ID),
		slog.String("scope_type", string(scopeType)),
		slog.String("scope_ref", scopeRef),
		slog.String("target_language", targetCode),
	)
	return job, true, nil
}

// GetStatus は指定IDのジョブを返す。存在しない場合はnot_foundエラーを返す。
func (q *Queue) GetStatus(ctx context.Context, id string) (*model.TranslationJob, error) {
	const op = "translation.GetStatus"

	job, err := q.jobs.FindByID(ctx, id)
	if err != nil {
		return nil, model.NewDatabaseError(op, err)
	}
	if job == nil {
		return nil, model.NewNotFoundError(op, fmt.Sprintf("ジョブが見つかりません: %s", id))
	}
	return job, nil
}

// List はフィルタ条件に一致するジョブを作成日時降順で返す。
// limitが0以下の場合はデフォルト値、上限超過の場合は上限に丸める。
func (q *Queue) List(ctx context.Context, filter repository.JobFilter, limit, offset int) ([]*model.TranslationJob, error) {
	const op = "translation.List"

	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}

	jobs, err := q.jobs.List(ctx, filter, limit, offset)
	if err != nil {
		return nil, model.NewDatabaseError(op, err)
	}
	return jobs, nil
}
