package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/globalnews/internal/config"
	"github.com/hitoshi/globalnews/internal/database"
	"github.com/hitoshi/globalnews/internal/dedup"
	"github.com/hitoshi/globalnews/internal/enrich"
	"github.com/hitoshi/globalnews/internal/feed"
	"github.com/hitoshi/globalnews/internal/handler"
	"github.com/hitoshi/globalnews/internal/llm"
	"github.com/hitoshi/globalnews/internal/logger"
	"github.com/hitoshi/globalnews/internal/metrics"
	"github.com/hitoshi/globalnews/internal/middleware"
	"github.com/hitoshi/globalnews/internal/newsletter"
	"github.com/hitoshi/globalnews/internal/repository"
	"github.com/hitoshi/globalnews/internal/security"
	"github.com/hitoshi/globalnews/internal/translation"
	"github.com/hitoshi/globalnews/internal/worker/ingest"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	feedRepo := repository.NewPostgresFeedRepo(db)
	articleRepo := repository.NewPostgresArticleRepo(db)
	issueRepo := repository.NewPostgresIssueRepo(db)
	jobRepo := repository.NewPostgresJobRepo(db)

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()

	// 4. ドメインサービスの初期化
	feedDetector := feed.NewFeedDetector(ssrfGuard)
	feedService := feed.NewService(feedRepo, feedDetector, slog.Default())

	llmClient := llm.NewClient(
		cfg.LLMAPIURL, cfg.LLMModel,
		cfg.LLMTimeout, cfg.LLMMinInterval, slog.Default(),
	)
	enrichService := enrich.NewService(llmClient, slog.Default(), cfg.SummaryMaxChars)

	issueService := newsletter.NewService(issueRepo, articleRepo, slog.Default())
	translationQueue := translation.NewQueue(jobRepo, slog.Default())

	// 5. メトリクスの初期化（APIサーバーは/metricsでプロセスメトリクスを公開する）
	registry := prometheus.NewRegistry()
	metrics.NewCollector(registry)

	// 6. ルーターの構築
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	// configのRateLimitPerMinはreq/min単位なのでreq/secに変換する
	if cfg.RateLimitPerMin > 0 {
		rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitPerMin) / 60.0)
		rateLimiterCfg.GeneralBurst = cfg.RateLimitPerMin
	}

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       middleware.NewRateLimiter(rateLimiterCfg),
		DB:                db,
		MetricsHandler:    metrics.Handler(registry),

		FeedService:      feedService,
		Articles:         articleRepo,
		Reprocessor:      enrichService,
		IssueService:     issueService,
		TranslationQueue: translationQueue,
	}

	router := handler.NewRouter(deps)

	// 7. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 取り込みパイプラインのスケジューラ、翻訳ジョブワーカー、
// リース回収ジョブ、メトリクスサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリの初期化
	feedRepo := repository.NewPostgresFeedRepo(db)
	articleRepo := repository.NewPostgresArticleRepo(db)
	jobRepo := repository.NewPostgresJobRepo(db)

	// 3. セキュリティサービスの初期化
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	// 4. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 5. 取り込みパイプラインの初期化
	summaryStyle, err := enrich.ParseStyle(cfg.SummaryStyle)
	if err != nil {
		return fmt.Errorf("invalid summary style: %w", err)
	}

	llmClient := llm.NewClient(
		cfg.LLMAPIURL, cfg.LLMModel,
		cfg.LLMTimeout, cfg.LLMMinInterval, slog.Default(),
	)
	enrichService := enrich.NewService(llmClient, slog.Default(), cfg.SummaryMaxChars)
	dedupService := dedup.NewService(articleRepo, slog.Default(), cfg.DedupMaxInFlight)

	fetcher := ingest.NewFetcher(
		ssrfGuard, sanitizer, slog.Default(),
		cfg.FetchTimeout, cfg.FetchMaxSize,
	)
	orchestrator := ingest.NewOrchestrator(
		feedRepo, articleRepo, dedupService, enrichService, fetcher,
		collector, slog.Default(),
		cfg.FetchTimeout, cfg.IngestMaxFeeds, cfg.IngestConcurrency,
		summaryStyle,
	)
	scheduler := ingest.NewScheduler(orchestrator, slog.Default())

	// 6. 翻訳ジョブワーカーとリース回収ジョブの初期化
	jobWorker := translation.NewWorker(
		jobRepo, articleRepo, enrichService, collector, slog.Default(),
		cfg.JobLeaseDuration, cfg.JobTimeout, 0, summaryStyle,
	)
	reaper := translation.NewReaper(jobRepo, collector, slog.Default(), cfg.JobReaperInterval)

	// 7. メトリクスサーバーの初期化（Prometheusスクレイプ用）
	metricsServer := &http.Server{
		Addr:        ":" + cfg.MetricsPort,
		Handler:     metrics.SetupMetricsRoute(registry),
		ReadTimeout: 10 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("poll_interval", cfg.PollInterval),
		slog.Int("ingest_concurrency", cfg.IngestConcurrency),
		slog.String("metrics_addr", metricsServer.Addr),
	)

	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()

	// LLM APIの疎通を確認する（失敗しても起動は継続し、各ジョブ側でリトライされる）
	if err := llmClient.Healthy(ctx); err != nil {
		slog.Warn("language model API is not reachable at startup",
			slog.String("url", cfg.LLMAPIURL),
			slog.String("error", err.Error()),
		)
	}

	// 翻訳ジョブワーカーとリース回収ジョブをバックグラウンドで起動
	go jobWorker.Run(ctx)
	go reaper.Start(ctx)

	// 取り込みスケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.PollInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("metrics server shutdown failed", slog.String("error", err.Error()))
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
