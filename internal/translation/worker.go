package translation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/globalnews/internal/enrich"
	"github.com/hitoshi/globalnews/internal/metrics"
	"github.com/hitoshi/globalnews/internal/model"
	"github.com/hitoshi/globalnews/internal/repository"
)

// Translator は翻訳バリアントの生成インターフェース。
// enrich.Serviceが実装する。
type Translator interface {
	// Translate は記事の翻訳バリアントを生成する。
	// 元記事と同一言語の場合は元記事をそのまま返す。
	Translate(ctx context.Context, article *model.Article, target string) (*model.Article, error)

	// Summarize は記事本文の要約を生成する。
	Summarize(ctx context.Context, article *model.Article, style enrich.SummaryStyle) (string, error)
}

// Worker は翻訳ジョブを取得して処理するバックグラウンドワーカー。
// FOR UPDATE SKIP LOCKEDによる排他取得により、複数ワーカーが並走しても
// 同一ジョブが二重に処理されることはない。
type Worker struct {
	jobs       repository.JobRepository
	articles   repository.ArticleRepository
	translator Translator
	collector  metrics.MetricsCollector
	logger     *slog.Logger

	lease        time.Duration // runningジョブのリース期間
	jobTimeout   time.Duration // 1ジョブあたりの処理時間上限
	pollInterval time.Duration // pendingジョブがない場合の待機時間
	summaryStyle enrich.SummaryStyle
}

// NewWorker はWorkerを生成する。
func NewWorker(
	jobs repository.JobRepository,
	articles repository.ArticleRepository,
	translator Translator,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	lease, jobTimeout, pollInterval time.Duration,
	summaryStyle enrich.SummaryStyle,
) *Worker {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	return &Worker{
		jobs:         jobs,
		articles:     articles,
		translator:   translator,
		collector:    collector,
		logger:       logger,
		lease:        lease,
		jobTimeout:   jobTimeout,
		pollInterval: pollInterval,
		summaryStyle: summaryStyle,
	}
}

// Run はコンテキストがキャンセルされるまでジョブの取得と処理を繰り返す。
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("翻訳ワーカーを開始しました",
		slog.Duration("lease", w.lease),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("翻訳ワーカーを停止しました")
			return
		default:
		}

		processed, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("ジョブの取得に失敗しました",
				slog.String("error", err.Error()),
			)
		}

		if !processed {
			select {
			case <-ctx.Done():
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// RunOnce はpendingジョブを1件取得して処理する。
// 処理したジョブがあればtrueを返す。対象がない場合はfalseを返す。
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.jobs.ClaimPending(ctx, w.lease)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}

	w.processJob(ctx, job)
	return true, nil
}

// processJob は取得済みジョブを処理し、終端状態を記録する。
// タイムアウトやキャンセルで中断された場合もfailedとして記録し、
// ジョブを消失させない。
func (w *Worker) processJob(ctx context.Context, job *model.TranslationJob) {
	start := time.Now()

	w.logger.Info("翻訳ジョブの処理を開始します",
		slog.String("job_id", job.ID),
		slog.String("scope_type", string(job.ScopeType)),
		slog.String("scope_ref", job.ScopeRef),
		slog.String("target_language", job.TargetLanguage),
	)

	jobCtx, cancel := context.WithTimeout(ctx, w.jobTimeout)
	defer cancel()

	result, err := w.translateScope(jobCtx, job)
	if err != nil {
		detail := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			detail = fmt.Sprintf("処理時間が上限（%s）を超過しました: %v", w.jobTimeout, err)
		} else if errors.Is(err, context.Canceled) {
			detail = fmt.Sprintf("処理が中断されました: %v", err)
		}

		// 終端記録は元のコンテキストで行う（jobCtxは期限切れの可能性がある）
		if markErr := w.jobs.MarkFailed(context.WithoutCancel(ctx), job.ID, detail); markErr != nil {
			w.logger.Error("ジョブの失敗記録に失敗しました",
				slog.String("job_id", job.ID),
				slog.String("error", markErr.Error()),
			)
		}

		w.collector.RecordJobProcessed(string(model.JobStatusFailed))
		w.logger.Warn("翻訳ジョブが失敗しました",
			slog.String("job_id", job.ID),
			slog.String("detail", detail),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
		return
	}

	if markErr := w.jobs.MarkSucceeded(context.WithoutCancel(ctx), job.ID, result); markErr != nil {
		w.logger.Error("ジョブの完了記録に失敗しました",
			slog.String("job_id", job.ID),
			slog.String("error", markErr.Error()),
		)
		return
	}

	w.collector.RecordJobProcessed(string(model.JobStatusSucceeded))
	w.logger.Info("翻訳ジョブが完了しました",
		slog.String("job_id", job.ID),
		slog.Int("translated", result.TranslatedCount),
		slog.Int("skipped", result.SkippedCount),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
}

// translateScope はジョブの対象記事を解決し、翻訳バリアントを生成・永続化する。
func (w *Worker) translateScope(ctx context.Context, job *model.TranslationJob) (*model.JobResult, error) {
	articles, err := w.resolveArticles(ctx, job)
	if err != nil {
		return nil, err
	}

	result := &model.JobResult{VariantIDs: []string{}}

	for _, article := range articles {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		// 翻訳バリアントの翻訳は行わない
		if article.IsTranslation() {
			result.SkippedCount++
			continue
		}

		variant, err := w.translator.Translate(ctx, article, job.TargetLanguage)
		if err != nil {
			return nil, err
		}
		if variant == article {
			// 同一言語のためスキップされた
			result.SkippedCount++
			continue
		}

		// バリアントの要約は対象言語で再生成する。失敗しても翻訳自体は保存する
		summary, err := w.translator.Summarize(ctx, variant, w.summaryStyle)
		if err != nil {
			w.logger.Warn("バリアントの要約生成に失敗しました",
				slog.String("variant_id", variant.ID),
				slog.String("error", err.Error()),
			)
		} else {
			variant.Summary = summary
		}

		if err := w.articles.Create(ctx, variant); err != nil {
			if repository.IsUniqueViolation(err) {
				// 同じバリアントが既に保存済み
				result.SkippedCount++
				continue
			}
			return nil, err
		}

		result.TranslatedCount++
		result.VariantIDs = append(result.VariantIDs, variant.ID)
	}

	return result, nil
}

// resolveArticles はジョブの対象種別に応じて翻訳対象の記事を解決する。
func (w *Worker) resolveArticles(ctx context.Context, job *model.TranslationJob) ([]*model.Article, error) {
	switch job.ScopeType {
	case model.JobScopeArticle:
		article, err := w.articles.FindByID(ctx, job.ScopeRef)
		if err != nil {
			return nil, err
		}
		if article == nil {
			return nil, fmt.Errorf("対象記事が見つかりません: %s", job.ScopeRef)
		}
		return []*model.Article{article}, nil

	case model.JobScopeIssue:
		articles, err := w.articles.ListByIssue(ctx, job.ScopeRef)
		if err != nil {
			return nil, err
		}
		if len(articles) == 0 {
			return nil, fmt.Errorf("対象の号に記事が割り当てられていません: %s", job.ScopeRef)
		}
		return articles, nil

	default:
		return nil, fmt.Errorf("未知のジョブ対象種別です: %s", job.ScopeType)
	}
}
