package ingest

import (
	"fmt"
	"time"

	"github.com/hitoshi/globalnews/internal/model"
)

// deactivateThreshold は連続ポーリング失敗によるフィード自動停止の閾値。
const deactivateThreshold = 10

// ApplyPollSuccess はポーリング成功時にフィードの状態をリセットする。
// 連続エラー回数を0にし、エラーメッセージをクリアする。
func ApplyPollSuccess(feed *model.Feed) {
	now := time.Now().UTC()
	feed.ConsecutiveErrors = 0
	feed.ErrorMessage = ""
	feed.LastPolledAt = &now
	feed.UpdatedAt = now
}

// ApplyPollFailure はポーリング失敗を記録する。
// 連続エラー回数をインクリメントし、閾値に達した場合はフィードを自動停止する。
// 停止されたフィードはPATCHで再有効化されるまでポーリング対象から外れる。
func ApplyPollFailure(feed *model.Feed, reason string) {
	now := time.Now().UTC()
	feed.ConsecutiveErrors++
	feed.ErrorMessage = reason
	feed.LastPolledAt = &now
	feed.UpdatedAt = now

	if feed.ConsecutiveErrors >= deactivateThreshold {
		feed.Active = false
		feed.ErrorMessage = fmt.Sprintf(
			"ポーリング失敗が%d回連続したためフィードを停止しました: %s",
			feed.ConsecutiveErrors, reason)
	}
}
