package ingest

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/globalnews/internal/dedup"
	"github.com/hitoshi/globalnews/internal/enrich"
	"github.com/hitoshi/globalnews/internal/language"
	"github.com/hitoshi/globalnews/internal/metrics"
	"github.com/hitoshi/globalnews/internal/model"
	"github.com/hitoshi/globalnews/internal/repository"
)

// RawFetcher はフィードフェッチ協調者のインターフェース。
type RawFetcher interface {
	FetchRaw(ctx context.Context, feed *model.Feed) ([]*model.RawArticle, error)
}

// Deduplicator は重複排除サービスのインターフェース。
type Deduplicator interface {
	FilterNew(ctx context.Context, candidates []*model.RawArticle) ([]*model.RawArticle, dedup.Stats, error)
}

// Summarizer はバッチ要約サービスのインターフェース。
type Summarizer interface {
	EnrichBatch(ctx context.Context, articles []*model.Article, style enrich.SummaryStyle) enrich.BatchResult
}

// CycleReport は取り込みサイクル1回の統計を表す。
type CycleReport struct {
	FeedsPolled        int
	FeedFailures       int
	ArticlesIngested   int
	DuplicatesSkipped  int
	EnrichmentFailures int
	FlaggedForReview   int
}

// Orchestrator は取り込みパイプラインの1サイクルを編成する。
// 記事ごとの処理順序は 重複排除 → 言語判定 → 永続化 → 要約 で固定される。
// フィード単位の失敗はサイクルを止めないが、ストア障害はサイクル全体を中断する。
type Orchestrator struct {
	feeds     repository.FeedRepository
	articles  repository.ArticleRepository
	deduper   Deduplicator
	enricher  Summarizer
	fetcher   RawFetcher
	collector metrics.MetricsCollector
	logger    *slog.Logger

	fetchTimeout time.Duration
	maxFeeds     int
	concurrency  int
	summaryStyle enrich.SummaryStyle
}

// NewOrchestrator はOrchestratorを生成する。
// concurrencyが0以下の場合はデフォルト値5を使用する。
func NewOrchestrator(
	feeds repository.FeedRepository,
	articles repository.ArticleRepository,
	deduper Deduplicator,
	enricher Summarizer,
	fetcher RawFetcher,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	fetchTimeout time.Duration,
	maxFeeds, concurrency int,
	summaryStyle enrich.SummaryStyle,
) *Orchestrator {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Orchestrator{
		feeds:        feeds,
		articles:     articles,
		deduper:      deduper,
		enricher:     enricher,
		fetcher:      fetcher,
		collector:    collector,
		logger:       logger,
		fetchTimeout: fetchTimeout,
		maxFeeds:     maxFeeds,
		concurrency:  concurrency,
		summaryStyle: summaryStyle,
	}
}

// RunCycle はアクティブなフィード全体に対して取り込みを1回実行する。
// ストア障害（database分類）が発生した場合はサイクルを中断し、
// 次のサイクルで再試行される。
func (o *Orchestrator) RunCycle(ctx context.Context) (CycleReport, error) {
	const op = "ingest.RunCycle"
	start := time.Now()

	feeds, err := o.feeds.ListActive(ctx)
	if err != nil {
		return CycleReport{}, model.NewDatabaseError(op, err)
	}
	if o.maxFeeds > 0 && len(feeds) > o.maxFeeds {
		feeds = feeds[:o.maxFeeds]
	}

	report := CycleReport{FeedsPolled: len(feeds)}
	if len(feeds) == 0 {
		o.logger.Info("ポーリング対象のフィードはありません")
		return report, nil
	}

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, o.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var fatalErr error

	for _, feed := range feeds {
		wg.Add(1)
		sem <- struct{}{}

		go func(f *model.Feed) {
			defer wg.Done()
			defer func() { <-sem }()

			outcome, err := o.pollFeed(ctx, f)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				// ストア障害はサイクル全体を中断する
				if fatalErr == nil {
					fatalErr = err
				}
				return
			}

			report.FeedFailures += outcome.FeedFailures
			report.ArticlesIngested += outcome.ArticlesIngested
			report.DuplicatesSkipped += outcome.DuplicatesSkipped
			report.EnrichmentFailures += outcome.EnrichmentFailures
			report.FlaggedForReview += outcome.FlaggedForReview
		}(feed)
	}

	wg.Wait()

	if fatalErr != nil {
		return report, fatalErr
	}

	duration := time.Since(start)
	o.collector.RecordArticlesIngested(report.ArticlesIngested)
	o.collector.RecordDuplicatesSkipped(report.DuplicatesSkipped)
	o.collector.RecordFlaggedForReview(report.FlaggedForReview)
	o.collector.RecordEnrichmentFailures(report.EnrichmentFailures)
	o.collector.RecordCycleDuration(duration)

	o.logger.Info("取り込みサイクルが完了しました",
		slog.Int("feeds_polled", report.FeedsPolled),
		slog.Int("feed_failures", report.FeedFailures),
		slog.Int("articles_ingested", report.ArticlesIngested),
		slog.Int("duplicates_skipped", report.DuplicatesSkipped),
		slog.Int("enrichment_failures", report.EnrichmentFailures),
		slog.Int("flagged_for_review", report.FlaggedForReview),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return report, nil
}

// pollFeed は単一フィードの取り込みを行う。
// フェッチ失敗はフィードの失敗として記録して正常に返し、
// ストア障害のみエラーとして返す。
func (o *Orchestrator) pollFeed(ctx context.Context, feed *model.Feed) (CycleReport, error) {
	const op = "ingest.pollFeed"
	var outcome CycleReport

	// フェッチはフィードごとに独立したタイムアウトを持つ
	fetchCtx, cancel := context.WithTimeout(ctx, o.fetchTimeout)
	raw, err := o.fetcher.FetchRaw(fetchCtx, feed)
	cancel()
	if err != nil {
		o.logger.Warn("フィードのフェッチに失敗しました",
			slog.String("feed_id", feed.ID),
			slog.String("feed_url", feed.FeedURL),
			slog.String("error", err.Error()),
		)
		o.collector.RecordFeedPollFailure(feed.ID, err.Error())
		outcome.FeedFailures++

		ApplyPollFailure(feed, err.Error())
		if updateErr := o.feeds.UpdatePollState(ctx, feed); updateErr != nil {
			return outcome, model.NewDatabaseError(op, updateErr)
		}
		return outcome, nil
	}

	fresh, stats, err := o.deduper.FilterNew(ctx, raw)
	if err != nil {
		if model.IsKind(err, model.KindDatabase) {
			return outcome, err
		}
		// 検証エラーはこのフィードの失敗として隔離する
		o.logger.Warn("重複排除で候補が拒否されました",
			slog.String("feed_id", feed.ID),
			slog.String("error", err.Error()),
		)
		o.collector.RecordFeedPollFailure(feed.ID, err.Error())
		outcome.FeedFailures++
		ApplyPollFailure(feed, err.Error())
		if updateErr := o.feeds.UpdatePollState(ctx, feed); updateErr != nil {
			return outcome, model.NewDatabaseError(op, updateErr)
		}
		return outcome, nil
	}
	outcome.DuplicatesSkipped += stats.DuplicatesStored + stats.DuplicatesInBatch

	created := make([]*model.Article, 0, len(fresh))
	for _, candidate := range fresh {
		article := o.buildArticle(feed, candidate)
		if article.NeedsManualReview {
			outcome.FlaggedForReview++
		}

		if err := o.articles.Create(ctx, article); err != nil {
			if repository.IsUniqueViolation(err) {
				// 並行サイクルとの競合。重複として数えて継続
				outcome.DuplicatesSkipped++
				continue
			}
			return outcome, model.NewDatabaseError(op, err)
		}
		created = append(created, article)
	}
	outcome.ArticlesIngested += len(created)

	// 要約はベストエフォート。失敗した記事は要約なしのまま保持される
	batch := o.enricher.EnrichBatch(ctx, created, o.summaryStyle)
	outcome.EnrichmentFailures += len(batch.Failures)
	for _, article := range batch.Enriched {
		if article.Summary == "" {
			continue
		}
		if err := o.articles.UpdateSummary(ctx, article.ID, article.Summary); err != nil {
			return outcome, model.NewDatabaseError(op, err)
		}
	}

	ApplyPollSuccess(feed)
	if err := o.feeds.UpdatePollState(ctx, feed); err != nil {
		return outcome, model.NewDatabaseError(op, err)
	}
	o.collector.RecordFeedPollSuccess(feed.ID)

	return outcome, nil
}

// buildArticle は正規化済みレコードから保存用の記事を組み立てる。
// 言語はフィードの申告言語をヒントとして判定される。
func (o *Orchestrator) buildArticle(feed *model.Feed, candidate *model.RawArticle) *model.Article {
	classification := language.Classify(detectionText(candidate), feed.Language)

	now := time.Now().UTC()
	return &model.Article{
		ID:                uuid.New().String(),
		FeedID:            feed.ID,
		Title:             candidate.Title,
		Author:            candidate.Author,
		Description:       candidate.Description,
		Content:           candidate.Content,
		URL:               candidate.URL,
		ImageURL:          candidate.ImageURL,
		PublishedAt:       candidate.PublishedAt,
		Language:          classification.Language,
		NeedsManualReview: classification.NeedsManualReview,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// detectionText は言語判定に使うテキストを組み立てる。
func detectionText(candidate *model.RawArticle) string {
	parts := make([]string, 0, 3)
	for _, part := range []string{candidate.Title, candidate.Description, candidate.Content} {
		if strings.TrimSpace(part) != "" {
			parts = append(parts, part)
		}
	}
	return strings.Join(parts, "\n")
}
