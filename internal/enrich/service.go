// Package enrich は言語モデルによる記事の要約と翻訳を提供する。
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/globalnews/internal/language"
	"github.com/hitoshi/globalnews/internal/llm"
	"github.com/hitoshi/globalnews/internal/model"
)

// SummaryStyle は要約の文体を表す。
type SummaryStyle string

const (
	// StyleConcise は2〜3文の簡潔な要約。
	StyleConcise SummaryStyle = "concise"
	// StyleDetailed は詳細な要約。
	StyleDetailed SummaryStyle = "detailed"
	// StyleBullet は箇条書きの要約。
	StyleBullet SummaryStyle = "bullet"
)

// ParseStyle は文字列を要約スタイルへ変換する。未知の値は検証エラーになる。
func ParseStyle(s string) (SummaryStyle, error) {
	switch SummaryStyle(s) {
	case StyleConcise, StyleDetailed, StyleBullet:
		return SummaryStyle(s), nil
	}
	return "", model.NewValidationError("enrich.ParseStyle",
		fmt.Sprintf("未知の要約スタイルです: %s", s))
}

// ItemFailure はバッチ処理中の記事単位の失敗を表す。
type ItemFailure struct {
	ArticleID string
	Err       error
}

// BatchResult はバッチ要約の結果を表す。
// 失敗した記事は隔離され、成功した記事の処理は継続される。
type BatchResult struct {
	Enriched []*model.Article
	Failures []ItemFailure
}

// Service は言語モデルを通じて記事の要約と翻訳を行う。
// 永続化は行わない。生成結果の保存は呼び出し側の責務。
type Service struct {
	client          llm.CompletionClient
	logger          *slog.Logger
	maxSummaryChars int
}

// NewService はServiceを生成する。maxSummaryCharsが0以下の場合は切り詰めを行わない。
func NewService(client llm.CompletionClient, logger *slog.Logger, maxSummaryChars int) *Service {
	return &Service{
		client:          client,
		logger:          logger,
		maxSummaryChars: maxSummaryChars,
	}
}

// Summarize は記事本文の要約を生成する。
// 本文が空の場合は説明文へフォールバックし、どちらも空なら検証エラーを返す。
// モデル呼び出しの失敗はenrichment分類のエラーとして返る。
func (s *Service) Summarize(ctx context.Context, article *model.Article, style SummaryStyle) (string, error) {
	const op = "enrich.Summarize"

	text := sourceText(article)
	if text == "" {
		return "", model.NewValidationError(op, "要約対象のテキストがありません")
	}

	prompt := summaryPrompt(text, style)

	generated, err := s.client.Complete(ctx, prompt, llm.CompletionOptions{
		Temperature: 0.2,
	})
	if err != nil {
		return "", model.NewEnrichmentError(op, err)
	}
	if generated == "" {
		return "", model.NewEnrichmentError(op, fmt.Errorf("モデルが空の要約を返しました"))
	}

	summary := truncateRunes(generated, s.maxSummaryChars)

	s.logger.Debug("要約を生成しました",
		"article_id", article.ID,
		"style", string(style),
		"summary_length", len(summary),
	)
	return summary, nil
}

// Translate は記事の翻訳バリアントを生成する。
// 元記事と同一言語への翻訳は何も生成せず元記事をそのまま返す。
// それ以外は元記事を書き換えず、TranslatedFromで元記事を参照する新しいレコードを返す。
// バリアントの要約は空で返る。必要であれば呼び出し側が対象言語で再生成する。
func (s *Service) Translate(ctx context.Context, article *model.Article, target string) (*model.Article, error) {
	const op = "enrich.Translate"

	targetCode := language.Normalize(target)
	if targetCode == "" {
		return nil, model.NewValidationError(op,
			fmt.Sprintf("対応していない翻訳先言語です: %s", target))
	}

	if article.Language == targetCode {
		s.logger.Info("翻訳先が元記事と同一言語のためスキップします",
			"article_id", article.ID, "language", targetCode)
		return article, nil
	}

	title, err := s.translateText(ctx, article.Title, article.Language, targetCode)
	if err != nil {
		return nil, model.NewEnrichmentError(op, err)
	}

	description := ""
	if article.Description != "" {
		description, err = s.translateText(ctx, article.Description, article.Language, targetCode)
		if err != nil {
			return nil, model.NewEnrichmentError(op, err)
		}
	}

	content := ""
	if article.Content != "" {
		content, err = s.translateText(ctx, article.Content, article.Language, targetCode)
		if err != nil {
			return nil, model.NewEnrichmentError(op, err)
		}
	}

	now := time.Now().UTC()
	variant := &model.Article{
		ID:             uuid.New().String(),
		FeedID:         article.FeedID,
		Title:          title,
		Author:         article.Author,
		Description:    description,
		Content:        content,
		// URLの一意制約を満たすため、フラグメントで言語を区別した派生URLを使う
		URL:            article.URL + "#translated-" + targetCode,
		ImageURL:       article.ImageURL,
		PublishedAt:    article.PublishedAt,
		Language:       targetCode,
		TranslatedFrom: article.ID,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	s.logger.Info("翻訳バリアントを生成しました",
		"article_id", article.ID,
		"variant_id", variant.ID,
		"source_language", article.Language,
		"target_language", targetCode,
	)
	return variant, nil
}

// EnrichBatch は記事群の要約をまとめて生成する。
// 記事単位の失敗はFailuresに隔離し、残りの記事の処理を継続する。
// 生成済みの要約を持つ記事はそのままEnrichedに含める。
func (s *Service) EnrichBatch(ctx context.Context, articles []*model.Article, style SummaryStyle) BatchResult {
	result := BatchResult{}

	for _, article := range articles {
		if article.IsEnriched() {
			result.Enriched = append(result.Enriched, article)
			continue
		}

		summary, err := s.Summarize(ctx, article, style)
		if err != nil {
			s.logger.Warn("記事の要約に失敗しました",
				"article_id", article.ID, "error", err)
			result.Failures = append(result.Failures, ItemFailure{
				ArticleID: article.ID,
				Err:       err,
			})
			continue
		}

		article.Summary = summary
		article.UpdatedAt = time.Now().UTC()
		result.Enriched = append(result.Enriched, article)
	}

	return result
}

// Reprocess は既存の要約を破棄して再生成した記事のコピーを返す。永続化は呼び出し側が行う。
func (s *Service) Reprocess(ctx context.Context, article *model.Article, style SummaryStyle) (*model.Article, error) {
	summary, err := s.Summarize(ctx, article, style)
	if err != nil {
		return nil, err
	}

	reprocessed := *article
	reprocessed.Summary = summary
	reprocessed.UpdatedAt = time.Now().UTC()
	return &reprocessed, nil
}

// translateText は単一テキストの翻訳を生成する。
func (s *Service) translateText(ctx context.Context, text, source, target string) (string, error) {
	prompt := translationPrompt(text, source, target)

	translated, err := s.client.Complete(ctx, prompt, llm.CompletionOptions{
		Temperature: 0.0,
		NumPredict:  1024,
	})
	if err != nil {
		return "", err
	}
	if translated == "" {
		return "", fmt.Errorf("モデルが空の翻訳を返しました")
	}
	return translated, nil
}

// sourceText は要約に使うテキストを選ぶ。本文優先、なければ説明文。
func sourceText(article *model.Article) string {
	if strings.TrimSpace(article.Content) != "" {
		return article.Content
	}
	return strings.TrimSpace(article.Description)
}

func summaryPrompt(text string, style SummaryStyle) string {
	switch style {
	case StyleDetailed:
		return fmt.Sprintf("Provide a detailed summary of this news article:\n\n%s\n\nDetailed Summary:", text)
	case StyleBullet:
		return fmt.Sprintf("Summarize this news article in bullet points:\n\n%s\n\nKey Points:\n•", text)
	default:
		return fmt.Sprintf("Summarize this news article in 2-3 concise sentences:\n\n%s\n\nSummary:", text)
	}
}

func translationPrompt(text, source, target string) string {
	if source == "" {
		return fmt.Sprintf("Translate the following news text to %s. Output only the translation, nothing else:\n\n%s\n\nTranslation:", target, text)
	}
	return fmt.Sprintf("Translate the following news text from %s to %s. Output only the translation, nothing else:\n\n%s\n\nTranslation:", source, target, text)
}

// truncateRunes はテキストをmax文字（ルーン数）に切り詰める。maxが0以下の場合は切り詰めない。
func truncateRunes(text string, max int) string {
	if max <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}
	return string(runes[:max])
}
