// Package ingest はフィードのポーリングと記事取り込みパイプラインを提供する。
// フェッチ、重複排除、言語判定、永続化、要約の各段階をサイクル単位で編成する。
package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/globalnews/internal/model"
)

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// ContentSanitizer はHTMLサニタイズのインターフェース。
type ContentSanitizer interface {
	Sanitize(rawHTML string) string
}

// Fetcher は個別フィードのHTTPフェッチとパースを行う。
// SSRF検証付きクライアントで取得し、gofeedでパースし、
// 本文と説明文をサニタイズした正規化済みレコードへ変換する。
// ワイヤフォーマットの知識はこの協調者に閉じ、パイプラインコアには漏れない。
type Fetcher struct {
	ssrfGuard   SSRFValidator
	sanitizer   ContentSanitizer
	logger      *slog.Logger
	timeout     time.Duration
	maxBodySize int64
}

// NewFetcher はFetcherの新しいインスタンスを生成する。
func NewFetcher(
	ssrfGuard SSRFValidator,
	sanitizer ContentSanitizer,
	logger *slog.Logger,
	timeout time.Duration,
	maxBodySize int64,
) *Fetcher {
	return &Fetcher{
		ssrfGuard:   ssrfGuard,
		sanitizer:   sanitizer,
		logger:      logger,
		timeout:     timeout,
		maxBodySize: maxBodySize,
	}
}

// FetchRaw はフィードをフェッチして正規化済みの未保存記事を返す。
// 一時的な失敗はエラーとして返し、オーケストレータがフィード単位で記録する。
// サイクル全体を中断させることはない。
func (f *Fetcher) FetchRaw(ctx context.Context, feed *model.Feed) ([]*model.RawArticle, error) {
	start := time.Now()

	if err := f.ssrfGuard.ValidateURL(feed.FeedURL); err != nil {
		return nil, fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	client := f.ssrfGuard.NewSafeClient(f.timeout, f.maxBodySize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.FeedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("リクエスト作成に失敗: %w", err)
	}

	req.Header.Set("User-Agent", "GlobalNews-Letter/1.0 Feed Collector")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("フィードが異常ステータスを返しました: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}

	parser := gofeed.NewParser()
	parsedFeed, err := parser.ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("フィードのパースに失敗: %w", err)
	}

	raw := f.convertItems(parsedFeed.Items)

	f.logger.Debug("フィードフェッチが完了しました",
		slog.String("feed_id", feed.ID),
		slog.String("feed_url", feed.FeedURL),
		slog.Int("items_total", len(parsedFeed.Items)),
		slog.Int("items_usable", len(raw)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return raw, nil
}

// convertItems はgofeedの記事を正規化済みレコードへ変換する。
// 正規URLを持たない記事は重複判定の対象にできないため除外する。
func (f *Fetcher) convertItems(items []*gofeed.Item) []*model.RawArticle {
	raw := make([]*model.RawArticle, 0, len(items))

	for _, item := range items {
		if item == nil {
			continue
		}

		url := item.Link
		// LinkがなくGUIDがURL形式の場合はGUIDを正規URLとして使用
		if url == "" && isHTTPURL(item.GUID) {
			url = item.GUID
		}
		if url == "" {
			continue
		}

		article := &model.RawArticle{
			Title:       strings.TrimSpace(item.Title),
			URL:         url,
			Description: f.sanitizer.Sanitize(item.Description),
			Content:     f.sanitizer.Sanitize(item.Content),
		}

		if article.Content == "" && article.Description != "" {
			article.Content = article.Description
		}

		if item.Author != nil {
			article.Author = item.Author.Name
		}
		if article.Author == "" && len(item.Authors) > 0 && item.Authors[0] != nil {
			article.Author = item.Authors[0].Name
		}

		if item.Image != nil {
			article.ImageURL = item.Image.URL
		}

		if item.PublishedParsed != nil {
			t := *item.PublishedParsed
			article.PublishedAt = &t
		} else if item.UpdatedParsed != nil {
			t := *item.UpdatedParsed
			article.PublishedAt = &t
		}

		raw = append(raw, article)
	}

	return raw
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
