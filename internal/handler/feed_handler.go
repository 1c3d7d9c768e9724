// Package handler はHTTP APIの境界アダプタを提供する。
// ハンドラーは薄く保ち、ドメインロジックはサービス層に置く。
package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/globalnews/internal/feed"
	"github.com/hitoshi/globalnews/internal/middleware"
	"github.com/hitoshi/globalnews/internal/model"
)

// FeedServiceInterface はフィードハンドラーが必要とするサービスインターフェース。
type FeedServiceInterface interface {
	// Register はURLからフィードを検出し登録する。
	Register(ctx context.Context, inputURL string, meta feed.Meta) (*model.Feed, error)
	// List は登録済みフィードの一覧を返す。
	List(ctx context.Context) ([]*model.Feed, error)
	// Get はフィードをIDで取得する。
	Get(ctx context.Context, feedID string) (*model.Feed, error)
	// SetActive はフィードの有効/無効を切り替える。
	SetActive(ctx context.Context, feedID string, active bool) (*model.Feed, error)
}

// FeedHandler はフィード管理のHTTPハンドラー。
type FeedHandler struct {
	service FeedServiceInterface
}

// NewFeedHandler はFeedHandlerを生成する。
func NewFeedHandler(service FeedServiceInterface) *FeedHandler {
	return &FeedHandler{service: service}
}

// registerFeedRequest はフィード登録リクエストのボディ。
type registerFeedRequest struct {
	URL      string `json:"url"`
	Name     string `json:"name"`
	Language string `json:"language"`
	Region   string `json:"region"`
	Category string `json:"category"`
}

// patchFeedRequest はフィード部分更新リクエストのボディ。
type patchFeedRequest struct {
	Active *bool `json:"active"`
}

// feedResponse はフィード情報のAPIレスポンス。
type feedResponse struct {
	ID                string     `json:"id"`
	Name              string     `json:"name"`
	FeedURL           string     `json:"feed_url"`
	Language          string     `json:"language"`
	Region            string     `json:"region,omitempty"`
	Category          string     `json:"category,omitempty"`
	Active            bool       `json:"active"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	ErrorMessage      string     `json:"error_message,omitempty"`
	LastPolledAt      *time.Time `json:"last_polled_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// Register はフィード登録を処理する。
// POST /api/feeds
func (h *FeedHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequestBody(w)
		return
	}

	if req.URL == "" {
		middleware.WriteAppError(w, model.NewValidationError("handler.Register", "URLは必須です"))
		return
	}

	created, err := h.service.Register(r.Context(), req.URL, feed.Meta{
		Name:     req.Name,
		Language: req.Language,
		Region:   req.Region,
		Category: req.Category,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toFeedResponse(created))
}

// List はフィード一覧を返す。
// GET /api/feeds
func (h *FeedHandler) List(w http.ResponseWriter, r *http.Request) {
	feeds, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	out := make([]feedResponse, 0, len(feeds))
	for _, f := range feeds {
		out = append(out, toFeedResponse(f))
	}
	writeJSON(w, http.StatusOK, out)
}

// Get はフィード詳細を取得する。
// GET /api/feeds/{id}
func (h *FeedHandler) Get(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "id")

	f, err := h.service.Get(r.Context(), feedID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toFeedResponse(f))
}

// Patch はフィードの有効/無効を切り替える。
// PATCH /api/feeds/{id}
func (h *FeedHandler) Patch(w http.ResponseWriter, r *http.Request) {
	feedID := chi.URLParam(r, "id")

	var req patchFeedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequestBody(w)
		return
	}
	if req.Active == nil {
		middleware.WriteAppError(w, model.NewValidationError("handler.Patch", "activeは必須です"))
		return
	}

	f, err := h.service.SetActive(r.Context(), feedID, *req.Active)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toFeedResponse(f))
}

// toFeedResponse はmodel.FeedからAPIレスポンスに変換する。
func toFeedResponse(f *model.Feed) feedResponse {
	return feedResponse{
		ID:                f.ID,
		Name:              f.Name,
		FeedURL:           f.FeedURL,
		Language:          f.Language,
		Region:            f.Region,
		Category:          f.Category,
		Active:            f.Active,
		ConsecutiveErrors: f.ConsecutiveErrors,
		ErrorMessage:      f.ErrorMessage,
		LastPolledAt:      f.LastPolledAt,
		CreatedAt:         f.CreatedAt,
	}
}

// --- ハンドラー共通ヘルパー ---

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}

// writeBadRequestBody はリクエストボディ解析失敗の統一レスポンスを書き込む。
func writeBadRequestBody(w http.ResponseWriter) {
	middleware.WriteAppError(w,
		model.NewValidationError("handler.decode", "リクエストボディの解析に失敗しました"))
}

// handleServiceError はサービス層から返されたエラーをHTTPレスポンスへ変換する。
// 内部エラー（database・未分類）はログに詳細を残す。
func handleServiceError(w http.ResponseWriter, err error) {
	kind := model.KindOf(err)
	if kind == "" || kind == model.KindDatabase {
		slog.Error("internal server error", slog.String("error", err.Error()))
	}
	middleware.WriteAppError(w, err)
}
