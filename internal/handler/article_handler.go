package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/globalnews/internal/enrich"
	"github.com/hitoshi/globalnews/internal/model"
	"github.com/hitoshi/globalnews/internal/repository"
)

// ArticleStore は記事ハンドラーが必要とする永続化インターフェース。
type ArticleStore interface {
	FindByID(ctx context.Context, id string) (*model.Article, error)
	List(ctx context.Context, filter repository.ArticleFilter, limit, offset int) ([]*model.Article, error)
	Update(ctx context.Context, article *model.Article) error
}

// Reprocessor は記事の要約再生成インターフェース。
type Reprocessor interface {
	Reprocess(ctx context.Context, article *model.Article, style enrich.SummaryStyle) (*model.Article, error)
}

const (
	defaultArticleListLimit = 50
	maxArticleListLimit     = 200
)

// ArticleHandler は記事照会・再処理のHTTPハンドラー。
type ArticleHandler struct {
	articles  ArticleStore
	reprocess Reprocessor
}

// NewArticleHandler はArticleHandlerを生成する。
func NewArticleHandler(articles ArticleStore, reprocess Reprocessor) *ArticleHandler {
	return &ArticleHandler{
		articles:  articles,
		reprocess: reprocess,
	}
}

// articleResponse は記事のAPIレスポンス。
type articleResponse struct {
	ID                string     `json:"id"`
	FeedID            string     `json:"feed_id"`
	Title             string     `json:"title"`
	Author            string     `json:"author,omitempty"`
	Description       string     `json:"description,omitempty"`
	Content           string     `json:"content,omitempty"`
	URL               string     `json:"url"`
	ImageURL          string     `json:"image_url,omitempty"`
	PublishedAt       *time.Time `json:"published_at,omitempty"`
	Language          string     `json:"language"`
	NeedsManualReview bool       `json:"needs_manual_review"`
	Summary           string     `json:"summary,omitempty"`
	TranslatedFrom    string     `json:"translated_from,omitempty"`
	Selected          bool       `json:"selected"`
	CreatedAt         time.Time  `json:"created_at"`
}

// reprocessRequest は再処理リクエストのボディ。
type reprocessRequest struct {
	Style string `json:"style"`
}

// List は記事一覧を返す。
// GET /api/articles?feed_id=&needs_review=&language=&limit=&offset=
func (h *ArticleHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := repository.ArticleFilter{
		FeedID:   q.Get("feed_id"),
		Language: q.Get("language"),
	}
	if raw := q.Get("needs_review"); raw != "" {
		needsReview, err := strconv.ParseBool(raw)
		if err != nil {
			handleServiceError(w, model.NewValidationError("handler.ListArticles",
				"needs_reviewはtrue/falseで指定してください"))
			return
		}
		filter.NeedsReview = &needsReview
	}

	limit := parseIntParam(q.Get("limit"), defaultArticleListLimit)
	if limit > maxArticleListLimit {
		limit = maxArticleListLimit
	}
	offset := parseIntParam(q.Get("offset"), 0)

	articles, err := h.articles.List(r.Context(), filter, limit, offset)
	if err != nil {
		handleServiceError(w, model.NewDatabaseError("handler.ListArticles", err))
		return
	}

	out := make([]articleResponse, 0, len(articles))
	for _, a := range articles {
		out = append(out, toArticleResponse(a))
	}
	writeJSON(w, http.StatusOK, out)
}

// Get は記事詳細を取得する。
// GET /api/articles/{id}
func (h *ArticleHandler) Get(w http.ResponseWriter, r *http.Request) {
	articleID := chi.URLParam(r, "id")

	article, err := h.articles.FindByID(r.Context(), articleID)
	if err != nil {
		handleServiceError(w, model.NewDatabaseError("handler.GetArticle", err))
		return
	}
	if article == nil {
		handleServiceError(w, model.NewNotFoundError("handler.GetArticle", "指定された記事が見つかりません"))
		return
	}

	writeJSON(w, http.StatusOK, toArticleResponse(article))
}

// Reprocess は記事の要約を再生成して永続化する。
// POST /api/articles/{id}/reprocess
func (h *ArticleHandler) Reprocess(w http.ResponseWriter, r *http.Request) {
	const op = "handler.ReprocessArticle"
	articleID := chi.URLParam(r, "id")

	var req reprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequestBody(w)
		return
	}
	if req.Style == "" {
		req.Style = string(enrich.StyleConcise)
	}
	style, err := enrich.ParseStyle(req.Style)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	article, err := h.articles.FindByID(r.Context(), articleID)
	if err != nil {
		handleServiceError(w, model.NewDatabaseError(op, err))
		return
	}
	if article == nil {
		handleServiceError(w, model.NewNotFoundError(op, "指定された記事が見つかりません"))
		return
	}

	updated, err := h.reprocess.Reprocess(r.Context(), article, style)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	if err := h.articles.Update(r.Context(), updated); err != nil {
		handleServiceError(w, model.NewDatabaseError(op, err))
		return
	}

	writeJSON(w, http.StatusOK, toArticleResponse(updated))
}

// toArticleResponse はmodel.ArticleからAPIレスポンスに変換する。
func toArticleResponse(a *model.Article) articleResponse {
	return articleResponse{
		ID:                a.ID,
		FeedID:            a.FeedID,
		Title:             a.Title,
		Author:            a.Author,
		Description:       a.Description,
		Content:           a.Content,
		URL:               a.URL,
		ImageURL:          a.ImageURL,
		PublishedAt:       a.PublishedAt,
		Language:          a.Language,
		NeedsManualReview: a.NeedsManualReview,
		Summary:           a.Summary,
		TranslatedFrom:    a.TranslatedFrom,
		Selected:          a.Selected,
		CreatedAt:         a.CreatedAt,
	}
}

// parseIntParam はクエリパラメータを非負整数として解析する。
// 不正な値はデフォルト値にフォールバックする。
func parseIntParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
