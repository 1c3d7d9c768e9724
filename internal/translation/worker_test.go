package translation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/hitoshi/globalnews/internal/enrich"
	"github.com/hitoshi/globalnews/internal/metrics"
	"github.com/hitoshi/globalnews/internal/model"
	"github.com/hitoshi/globalnews/internal/repository"
)

// noopCollector はテスト用の何もしないメトリクスコレクター。
type noopCollector struct{}

func (noopCollector) RecordFeedPollSuccess(string) {}
func (noopCollector) RecordFeedPollFailure(string, string) {}
func (noopCollector) RecordArticlesIngested(int) {}
func (noopCollector) RecordDuplicatesSkipped(int) {}
func (noopCollector) RecordFlaggedForReview(int) {}
func (noopCollector) RecordEnrichmentFailures(int) {}
func (noopCollector) RecordCycleDuration(time.Duration) {}
func (noopCollector) RecordJobProcessed(string) {}
func (noopCollector) RecordJobsReaped(int64) {}

var _ metrics.MetricsCollector = noopCollector{}

// mockWorkerArticleRepo はワーカーテスト用のArticleRepositoryモック。
type mockWorkerArticleRepo struct {
	findByIDFn    func(ctx context.Context, id string) (*model.Article, error)
	createFn      func(ctx context.Context, article *model.Article) error
	listByIssueFn func(ctx context.Context, issueID string) ([]*model.Article, error)
}

func (m *mockWorkerArticleRepo) ExistsByURL(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (m *mockWorkerArticleRepo) FindByID(ctx context.Context, id string) (*model.Article, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockWorkerArticleRepo) Create(ctx context.Context, article *model.Article) error {
	if m.createFn != nil {
		return m.createFn(ctx, article)
	}
	return nil
}

func (m *mockWorkerArticleRepo) Update(_ context.Context, _ *model.Article) error { return nil }

func (m *mockWorkerArticleRepo) UpdateSummary(_ context.Context, _, _ string) error { return nil }

func (m *mockWorkerArticleRepo) List(_ context.Context, _ repository.ArticleFilter, _, _ int) ([]*model.Article, error) {
	return nil, nil
}

func (m *mockWorkerArticleRepo) ListByIssue(ctx context.Context, issueID string) ([]*model.Article, error) {
	if m.listByIssueFn != nil {
		return m.listByIssueFn(ctx, issueID)
	}
	return nil, nil
}

func (m *mockWorkerArticleRepo) MarkSelected(_ context.Context, _ []string, _ bool) error {
	return nil
}

var _ repository.ArticleRepository = (*mockWorkerArticleRepo)(nil)

// mockTranslator はワーカーテスト用のTranslatorモック。
type mockTranslator struct {
	translateFn func(ctx context.Context, article *model.Article, target string) (*model.Article, error)
	summarizeFn func(ctx context.Context, article *model.Article, style enrich.SummaryStyle) (string, error)
}

func (m *mockTranslator) Translate(ctx context.Context, article *model.Article, target string) (*model.Article, error) {
	if m.translateFn != nil {
		return m.translateFn(ctx, article, target)
	}
	variant := *article
	variant.ID = uuid.New().String()
	variant.TranslatedFrom = article.ID
	variant.Language = target
	variant.URL = article.URL + "#translated-" + target
	return &variant, nil
}

func (m *mockTranslator) Summarize(ctx context.Context, article *model.Article, style enrich.SummaryStyle) (string, error) {
	if m.summarizeFn != nil {
		return m.summarizeFn(ctx, article, style)
	}
	return "summary", nil
}

var _ Translator = (*mockTranslator)(nil)

func pendingJob(scopeType model.JobScopeType, scopeRef string) *model.TranslationJob {
	return &model.TranslationJob{
		ID:             "job-1",
		ScopeType:      scopeType,
		ScopeRef:       scopeRef,
		TargetLanguage: "fr",
		Status:         model.JobStatusRunning,
	}
}

func newTestWorker(jobs repository.JobRepository, articles repository.ArticleRepository, translator Translator) *Worker {
	return NewWorker(jobs, articles, translator, noopCollector{}, testLogger(),
		10*time.Minute, time.Minute, time.Millisecond, enrich.StyleConcise)
}

// TestWorker_RunOnce_NoPendingJob はpendingジョブがない場合に
// 何も処理されないことをテストする。
func TestWorker_RunOnce_NoPendingJob(t *testing.T) {
	worker := newTestWorker(&mockJobRepo{}, &mockWorkerArticleRepo{}, &mockTranslator{})

	processed, err := worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if processed {
		t.Error("処理対象がない場合はfalseが返るべき")
	}
}

// TestWorker_RunOnce_ArticleScopeSucceeds は単一記事ジョブが翻訳・永続化され、
// succeededとして記録されることをテストする。
func TestWorker_RunOnce_ArticleScopeSucceeds(t *testing.T) {
	original := &model.Article{
		ID:       "a1",
		Title:    "Title",
		Content:  "Body",
		URL:      "https://example.com/a1",
		Language: "en",
	}

	var succeededResult *model.JobResult
	jobs := &mockJobRepo{
		claimPendingFn: func(ctx context.Context, lease time.Duration) (*model.TranslationJob, error) {
			return pendingJob(model.JobScopeArticle, "a1"), nil
		},
		markSucceededFn: func(ctx context.Context, id string, result *model.JobResult) error {
			succeededResult = result
			return nil
		},
		markFailedFn: func(ctx context.Context, id, errorDetail string) error {
			t.Errorf("成功するジョブがfailedとして記録された: %s", errorDetail)
			return nil
		},
	}

	var created *model.Article
	articles := &mockWorkerArticleRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Article, error) {
			return original, nil
		},
		createFn: func(ctx context.Context, article *model.Article) error {
			created = article
			return nil
		},
	}

	worker := newTestWorker(jobs, articles, &mockTranslator{})

	processed, err := worker.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if !processed {
		t.Fatal("ジョブが処理されるべき")
	}

	if created == nil {
		t.Fatal("バリアントが永続化されるべき")
	}
	if created.TranslatedFrom != "a1" {
		t.Errorf("TranslatedFrom = %s, want a1", created.TranslatedFrom)
	}
	if created.Language != "fr" {
		t.Errorf("Language = %s, want fr", created.Language)
	}
	if created.Summary != "summary" {
		t.Errorf("Summary = %q, want 対象言語で再生成された要約", created.Summary)
	}

	if succeededResult == nil {
		t.Fatal("succeededが記録されるべき")
	}
	if succeededResult.TranslatedCount != 1 {
		t.Errorf("TranslatedCount = %d, want 1", succeededResult.TranslatedCount)
	}
	if len(succeededResult.VariantIDs) != 1 || succeededResult.VariantIDs[0] != created.ID {
		t.Errorf("VariantIDs = %v", succeededResult.VariantIDs)
	}
}

// TestWorker_RunOnce_SameLanguageSkipped は元記事と同一言語のジョブが
// 何も生成せずskippedとして数えられることをテストする。
func TestWorker_RunOnce_SameLanguageSkipped(t *testing.T) {
	original := &model.Article{ID: "a1", Language: "fr", Content: "texte"}

	var succeededResult *model.JobResult
	jobs := &mockJobRepo{
		claimPendingFn: func(ctx context.Context, lease time.Duration) (*model.TranslationJob, error) {
			return pendingJob(model.JobScopeArticle, "a1"), nil
		},
		markSucceededFn: func(ctx context.Context, id string, result *model.JobResult) error {
			succeededResult = result
			return nil
		},
	}
	articles := &mockWorkerArticleRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Article, error) {
			return original, nil
		},
		createFn: func(ctx context.Context, article *model.Article) error {
			t.Error("同一言語のジョブでバリアントが永続化されるべきではない")
			return nil
		},
	}
	translator := &mockTranslator{
		translateFn: func(ctx context.Context, article *model.Article, target string) (*model.Article, error) {
			return article, nil
		},
	}

	worker := newTestWorker(jobs, articles, translator)

	if _, err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if succeededResult == nil {
		t.Fatal("succeededが記録されるべき")
	}
	if succeededResult.SkippedCount != 1 || succeededResult.TranslatedCount != 0 {
		t.Errorf("結果 = %+v, want skipped 1 / translated 0", succeededResult)
	}
}

// TestWorker_RunOnce_IssueScopeTranslatesAssignedArticles は号ジョブが
// 割り当て記事全体を翻訳することをテストする。
func TestWorker_RunOnce_IssueScopeTranslatesAssignedArticles(t *testing.T) {
	assigned := []*model.Article{
		{ID: "a1", Language: "en", Content: "one", URL: "https://example.com/1"},
		{ID: "a2", Language: "en", Content: "two", URL: "https://example.com/2"},
	}

	var succeededResult *model.JobResult
	jobs := &mockJobRepo{
		claimPendingFn: func(ctx context.Context, lease time.Duration) (*model.TranslationJob, error) {
			return pendingJob(model.JobScopeIssue, "i1"), nil
		},
		markSucceededFn: func(ctx context.Context, id string, result *model.JobResult) error {
			succeededResult = result
			return nil
		},
	}

	createdCount := 0
	articles := &mockWorkerArticleRepo{
		listByIssueFn: func(ctx context.Context, issueID string) ([]*model.Article, error) {
			if issueID != "i1" {
				t.Errorf("issueID = %s, want i1", issueID)
			}
			return assigned, nil
		},
		createFn: func(ctx context.Context, article *model.Article) error {
			createdCount++
			return nil
		},
	}

	worker := newTestWorker(jobs, articles, &mockTranslator{})

	if _, err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if createdCount != 2 {
		t.Errorf("永続化されたバリアント数 = %d, want 2", createdCount)
	}
	if succeededResult == nil || succeededResult.TranslatedCount != 2 {
		t.Errorf("結果 = %+v, want translated 2", succeededResult)
	}
}

// TestWorker_RunOnce_FailureRecordsDetail は翻訳失敗がfailedとして
// エラー詳細付きで記録されることをテストする。
func TestWorker_RunOnce_FailureRecordsDetail(t *testing.T) {
	var failedDetail string
	jobs := &mockJobRepo{
		claimPendingFn: func(ctx context.Context, lease time.Duration) (*model.TranslationJob, error) {
			return pendingJob(model.JobScopeArticle, "a1"), nil
		},
		markFailedFn: func(ctx context.Context, id, errorDetail string) error {
			failedDetail = errorDetail
			return nil
		},
		markSucceededFn: func(ctx context.Context, id string, result *model.JobResult) error {
			t.Error("失敗するジョブがsucceededとして記録された")
			return nil
		},
	}
	articles := &mockWorkerArticleRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Article, error) {
			return &model.Article{ID: "a1", Language: "en"}, nil
		},
	}
	translator := &mockTranslator{
		translateFn: func(ctx context.Context, article *model.Article, target string) (*model.Article, error) {
			return nil, errors.New("model overloaded")
		},
	}

	worker := newTestWorker(jobs, articles, translator)

	if _, err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if !strings.Contains(failedDetail, "model overloaded") {
		t.Errorf("エラー詳細 = %q, want 失敗原因を含む", failedDetail)
	}
}

// TestWorker_RunOnce_TimeoutRecordsFailure は処理時間の上限超過が
// タイムアウトの詳細付きでfailedとして記録されることをテストする。
func TestWorker_RunOnce_TimeoutRecordsFailure(t *testing.T) {
	var failedDetail string
	jobs := &mockJobRepo{
		claimPendingFn: func(ctx context.Context, lease time.Duration) (*model.TranslationJob, error) {
			return pendingJob(model.JobScopeArticle, "a1"), nil
		},
		markFailedFn: func(ctx context.Context, id, errorDetail string) error {
			failedDetail = errorDetail
			return nil
		},
	}
	articles := &mockWorkerArticleRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Article, error) {
			return &model.Article{ID: "a1", Language: "en"}, nil
		},
	}
	translator := &mockTranslator{
		translateFn: func(ctx context.Context, article *model.Article, target string) (*model.Article, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	worker := NewWorker(jobs, articles, translator, noopCollector{}, testLogger(),
		10*time.Minute, 20*time.Millisecond, time.Millisecond, enrich.StyleConcise)

	if _, err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if !strings.Contains(failedDetail, "上限") {
		t.Errorf("エラー詳細 = %q, want タイムアウトの説明を含む", failedDetail)
	}
}

// TestWorker_RunOnce_DuplicateVariantSkipped はバリアントのURL一意制約違反が
// 失敗ではなくskippedとして扱われることをテストする。
func TestWorker_RunOnce_DuplicateVariantSkipped(t *testing.T) {
	var succeededResult *model.JobResult
	jobs := &mockJobRepo{
		claimPendingFn: func(ctx context.Context, lease time.Duration) (*model.TranslationJob, error) {
			return pendingJob(model.JobScopeArticle, "a1"), nil
		},
		markSucceededFn: func(ctx context.Context, id string, result *model.JobResult) error {
			succeededResult = result
			return nil
		},
	}
	articles := &mockWorkerArticleRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Article, error) {
			return &model.Article{ID: "a1", Language: "en", Content: "body"}, nil
		},
		createFn: func(ctx context.Context, article *model.Article) error {
			return &pq.Error{Code: "23505"}
		},
	}

	worker := newTestWorker(jobs, articles, &mockTranslator{})

	if _, err := worker.RunOnce(context.Background()); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if succeededResult == nil {
		t.Fatal("succeededが記録されるべき")
	}
	if succeededResult.SkippedCount != 1 || succeededResult.TranslatedCount != 0 {
		t.Errorf("結果 = %+v, want skipped 1 / translated 0", succeededResult)
	}
}

// TestReaper_RunOnce は期限切れジョブの回収がリポジトリへ委譲されることをテストする。
func TestReaper_RunOnce(t *testing.T) {
	called := false
	jobs := &mockJobRepo{
		reapExpiredFn: func(ctx context.Context) (int64, error) {
			called = true
			return 3, nil
		},
	}
	reaper := NewReaper(jobs, noopCollector{}, testLogger(), time.Minute)

	if err := reaper.RunOnce(context.Background()); err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if !called {
		t.Error("ReapExpiredが呼ばれるべき")
	}
}

// TestReaper_RunOnce_PropagatesError は回収の失敗がそのまま返ることをテストする。
func TestReaper_RunOnce_PropagatesError(t *testing.T) {
	storeErr := errors.New("connection refused")
	jobs := &mockJobRepo{
		reapExpiredFn: func(ctx context.Context) (int64, error) {
			return 0, storeErr
		},
	}
	reaper := NewReaper(jobs, noopCollector{}, testLogger(), time.Minute)

	if err := reaper.RunOnce(context.Background()); !errors.Is(err, storeErr) {
		t.Errorf("エラー = %v, want %v", err, storeErr)
	}
}
