// Package dedup は正規URLによる記事の重複排除を提供する。
package dedup

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hitoshi/globalnews/internal/model"
	"github.com/hitoshi/globalnews/internal/repository"
)

// Stats は重複排除バッチの統計を表す。
type Stats struct {
	Checked           int // 検査した候補数
	New               int // 新規と判定された数
	DuplicatesStored  int // ストア内の既存記事と重複した数
	DuplicatesInBatch int // 同一バッチ内で重複した数
}

// Service は取り込み候補からストア済み記事と重複するものを除外する。
// 存在判定はArticleRepositoryに委譲し、並行数をセマフォで制限する。
type Service struct {
	articles    repository.ArticleRepository
	logger      *slog.Logger
	maxInFlight int
}

// NewService はServiceを生成する。maxInFlightが0以下の場合は1に補正する。
func NewService(articles repository.ArticleRepository, logger *slog.Logger, maxInFlight int) *Service {
	if maxInFlight <= 0 {
		maxInFlight = 1
	}
	return &Service{
		articles:    articles,
		logger:      logger,
		maxInFlight: maxInFlight,
	}
}

// FilterNew は候補記事のうち未登録のものだけを元の順序のまま返す。
// 同一バッチ内で同じ正規URLが複数回現れた場合は最初の1件だけを残す。
// URLが空の候補が1件でもあれば、I/Oを行わずに検証エラーを返す。
// ストアの存在判定が1件でも失敗した場合はバッチ全体を中断し、部分結果を返さない。
func (s *Service) FilterNew(ctx context.Context, candidates []*model.RawArticle) ([]*model.RawArticle, Stats, error) {
	const op = "dedup.FilterNew"

	stats := Stats{Checked: len(candidates)}
	if len(candidates) == 0 {
		return nil, stats, nil
	}

	// 検証はI/Oの前に完了させる
	for i, candidate := range candidates {
		if candidate.URL == "" {
			return nil, Stats{}, model.NewValidationError(op,
				fmt.Sprintf("候補 %d 件目のURLが空です", i))
		}
	}

	// バッチ内重複の除去（最初の出現を採用）
	seen := make(map[string]struct{}, len(candidates))
	unique := make([]*model.RawArticle, 0, len(candidates))
	for _, candidate := range candidates {
		if _, dup := seen[candidate.URL]; dup {
			stats.DuplicatesInBatch++
			continue
		}
		seen[candidate.URL] = struct{}{}
		unique = append(unique, candidate)
	}

	// ストアに対する存在判定をセマフォで並行数を制限しつつ実行する
	exists := make([]bool, len(unique))
	errs := make([]error, len(unique))

	semaphore := make(chan struct{}, s.maxInFlight)
	var wg sync.WaitGroup

	for i, candidate := range unique {
		wg.Add(1)
		semaphore <- struct{}{}

		go func(idx int, url string) {
			defer wg.Done()
			defer func() { <-semaphore }()

			found, err := s.articles.ExistsByURL(ctx, url)
			if err != nil {
				errs[idx] = err
				return
			}
			exists[idx] = found
		}(i, candidate.URL)
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, Stats{}, model.NewDatabaseError(op, err)
		}
	}

	fresh := make([]*model.RawArticle, 0, len(unique))
	for i, candidate := range unique {
		if exists[i] {
			stats.DuplicatesStored++
			continue
		}
		fresh = append(fresh, candidate)
	}
	stats.New = len(fresh)

	s.logger.Debug("重複排除を完了しました",
		"checked", stats.Checked,
		"new", stats.New,
		"duplicates_stored", stats.DuplicatesStored,
		"duplicates_in_batch", stats.DuplicatesInBatch,
	)

	return fresh, stats, nil
}

// Stats は候補バッチの重複排除統計のみを返す。判定ロジックはFilterNewと同一。
func (s *Service) Stats(ctx context.Context, candidates []*model.RawArticle) (Stats, error) {
	_, stats, err := s.FilterNew(ctx, candidates)
	return stats, err
}

// IsDuplicate は単一の正規URLがストア済みかを返す。URLが空の場合は検証エラーを返す。
func (s *Service) IsDuplicate(ctx context.Context, url string) (bool, error) {
	const op = "dedup.IsDuplicate"

	if url == "" {
		return false, model.NewValidationError(op, "URLが空です")
	}

	found, err := s.articles.ExistsByURL(ctx, url)
	if err != nil {
		return false, model.NewDatabaseError(op, err)
	}
	return found, nil
}
