// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// 取り込みパイプラインと翻訳ワーカーから利用する。
type MetricsCollector interface {
	RecordFeedPollSuccess(feedID string)
	RecordFeedPollFailure(feedID string, reason string)
	RecordArticlesIngested(count int)
	RecordDuplicatesSkipped(count int)
	RecordFlaggedForReview(count int)
	RecordEnrichmentFailures(count int)
	RecordCycleDuration(duration time.Duration)
	RecordJobProcessed(status string)
	RecordJobsReaped(count int64)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	pollSuccess        prometheus.Counter
	pollFailure        prometheus.Counter
	articlesIngested   prometheus.Counter
	duplicatesSkipped  prometheus.Counter
	flaggedForReview   prometheus.Counter
	enrichmentFailures prometheus.Counter
	cycleDuration      prometheus.Histogram
	jobsProcessed      *prometheus.CounterVec
	jobsReaped         prometheus.Counter
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		pollSuccess: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "globalnews_feed_poll_success_total",
			Help: "フィードポーリング成功の合計数",
		}),
		pollFailure: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "globalnews_feed_poll_failure_total",
			Help: "フィードポーリング失敗の合計数",
		}),
		articlesIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "globalnews_articles_ingested_total",
			Help: "取り込まれた記事の合計数",
		}),
		duplicatesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "globalnews_duplicates_skipped_total",
			Help: "重複として除外された記事の合計数",
		}),
		flaggedForReview: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "globalnews_flagged_for_review_total",
			Help: "言語判定で人手確認に回された記事の合計数",
		}),
		enrichmentFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "globalnews_enrichment_failures_total",
			Help: "要約生成に失敗した記事の合計数",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "globalnews_cycle_duration_seconds",
			Help:    "取り込みサイクルの所要時間（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		jobsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "globalnews_translation_jobs_total",
			Help: "終端状態別の翻訳ジョブ処理数",
		}, []string{"status"}),
		jobsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "globalnews_translation_jobs_reaped_total",
			Help: "リース期限切れでpendingへ戻された翻訳ジョブの合計数",
		}),
	}

	reg.MustRegister(
		c.pollSuccess,
		c.pollFailure,
		c.articlesIngested,
		c.duplicatesSkipped,
		c.flaggedForReview,
		c.enrichmentFailures,
		c.cycleDuration,
		c.jobsProcessed,
		c.jobsReaped,
	)

	return c
}

// RecordFeedPollSuccess はフィードポーリング成功を記録する。
func (c *Collector) RecordFeedPollSuccess(feedID string) {
	c.pollSuccess.Inc()
}

// RecordFeedPollFailure はフィードポーリング失敗を記録する。
func (c *Collector) RecordFeedPollFailure(feedID string, reason string) {
	c.pollFailure.Inc()
}

// RecordArticlesIngested は取り込まれた記事数を記録する。
func (c *Collector) RecordArticlesIngested(count int) {
	c.articlesIngested.Add(float64(count))
}

// RecordDuplicatesSkipped は重複として除外された記事数を記録する。
func (c *Collector) RecordDuplicatesSkipped(count int) {
	c.duplicatesSkipped.Add(float64(count))
}

// RecordFlaggedForReview は人手確認に回された記事数を記録する。
func (c *Collector) RecordFlaggedForReview(count int) {
	c.flaggedForReview.Add(float64(count))
}

// RecordEnrichmentFailures は要約生成に失敗した記事数を記録する。
func (c *Collector) RecordEnrichmentFailures(count int) {
	c.enrichmentFailures.Add(float64(count))
}

// RecordCycleDuration は取り込みサイクルの所要時間を記録する。
func (c *Collector) RecordCycleDuration(duration time.Duration) {
	c.cycleDuration.Observe(duration.Seconds())
}

// RecordJobProcessed は翻訳ジョブの終端状態を記録する。
func (c *Collector) RecordJobProcessed(status string) {
	c.jobsProcessed.WithLabelValues(status).Inc()
}

// RecordJobsReaped はpendingへ戻されたジョブ数を記録する。
func (c *Collector) RecordJobsReaped(count int64) {
	c.jobsReaped.Add(float64(count))
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SetupMetricsRoute は/metricsエンドポイントを提供するHTTPハンドラーを返す。
// Prometheusスクレイプに対応する。
func SetupMetricsRoute(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(gatherer))
	return mux
}
