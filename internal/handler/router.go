package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/globalnews/internal/middleware"
)

// DBPinger はヘルスチェック用のデータベース疎通確認インターフェース。
type DBPinger interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// ヘルスチェック・メトリクス
	DB             DBPinger
	MetricsHandler http.Handler

	// ドメインサービス
	FeedService      FeedServiceInterface
	Articles         ArticleStore
	Reprocessor      Reprocessor
	IssueService     IssueServiceInterface
	TranslationQueue TranslationQueueInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORS → リクエストログ → リカバリ → レート制限(クライアントIP単位)
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())

	feedHandler := NewFeedHandler(deps.FeedService)
	articleHandler := NewArticleHandler(deps.Articles, deps.Reprocessor)
	issueHandler := NewIssueHandler(deps.IssueService)
	jobHandler := NewJobHandler(deps.TranslationQueue)

	// --- 運用エンドポイント（レート制限の外） ---

	r.Get("/health", newHealthHandler(deps.DB))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- APIルート ---

	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// フィード管理
		r.Route("/api/feeds", func(r chi.Router) {
			// POST /api/feeds - フィード登録（登録専用レート制限を追加）
			r.With(deps.RateLimiter.RegistrationMiddleware()).Post("/", feedHandler.Register)
			r.Get("/", feedHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", feedHandler.Get)
				r.Patch("/", feedHandler.Patch)
			})
		})

		// 記事照会・再処理
		r.Route("/api/articles", func(r chi.Router) {
			r.Get("/", articleHandler.List)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", articleHandler.Get)
				r.Post("/reprocess", articleHandler.Reprocess)
			})
		})

		// ニュースレター号管理
		r.Route("/api/issues", func(r chi.Router) {
			r.Post("/", issueHandler.Create)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", issueHandler.Get)
				r.Put("/articles", issueHandler.AssignArticles)
				r.Post("/publish", issueHandler.Publish)
				r.Post("/archive", issueHandler.Archive)
			})
		})

		// 翻訳ジョブ
		r.Route("/api/translations", func(r chi.Router) {
			r.Post("/", jobHandler.Enqueue)
			r.Get("/", jobHandler.List)
			r.Get("/{id}", jobHandler.Get)
		})
	})

	return r
}

// newHealthHandler はデータベース疎通を確認するヘルスチェックハンドラーを返す。
func newHealthHandler(db DBPinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "unhealthy",
					"reason": "database unreachable",
				})
				return
			}
		}

		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
