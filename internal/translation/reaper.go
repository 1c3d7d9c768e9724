package translation

import (
	"context"
	"log/slog"
	"time"

	"github.com/hitoshi/globalnews/internal/metrics"
	"github.com/hitoshi/globalnews/internal/repository"
)

// Reaper はリース期限切れのrunningジョブをpendingへ戻す回収ジョブ。
// ワーカーのクラッシュでrunningのまま取り残されたジョブを再実行可能にする。
// 冪等: 回収対象がない場合でもエラーにならない。
type Reaper struct {
	jobs      repository.JobRepository
	collector metrics.MetricsCollector
	logger    *slog.Logger
	interval  time.Duration
}

// NewReaper はReaperを生成する。intervalが0以下の場合はデフォルト値1分を使用する。
func NewReaper(jobs repository.JobRepository, collector metrics.MetricsCollector, logger *slog.Logger, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reaper{
		jobs:      jobs,
		collector: collector,
		logger:    logger,
		interval:  interval,
	}
}

// Start は定期的に回収を実行する。コンテキストがキャンセルされるまで継続する。
func (r *Reaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("ジョブ回収ジョブを開始しました",
		slog.Duration("interval", r.interval),
	)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("ジョブ回収ジョブを停止しました")
			return
		case <-ticker.C:
			if err := r.RunOnce(ctx); err != nil {
				r.logger.Error("期限切れジョブの回収に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は期限切れジョブの回収を1回実行する。
func (r *Reaper) RunOnce(ctx context.Context) error {
	start := time.Now()

	reaped, err := r.jobs.ReapExpired(ctx)
	if err != nil {
		return err
	}

	if reaped > 0 {
		r.collector.RecordJobsReaped(reaped)
		r.logger.Warn("リース期限切れのジョブをpendingへ戻しました",
			slog.Int64("reaped_count", reaped),
			slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
		)
	}
	return nil
}
