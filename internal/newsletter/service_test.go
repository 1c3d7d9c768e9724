package newsletter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/globalnews/internal/model"
	"github.com/hitoshi/globalnews/internal/repository"
)

// --- テスト用モック ---

// mockIssueRepo はサービステスト用のIssueRepositoryモック。
type mockIssueRepo struct {
	createDraftFn     func(ctx context.Context, issue *model.Issue) error
	findByIDFn        func(ctx context.Context, id string) (*model.Issue, error)
	nextIssueNumberFn func(ctx context.Context) (int, error)
	replaceSectionsFn func(ctx context.Context, issueID string, sections []model.Section) (bool, error)
	updateStatusFn    func(ctx context.Context, id string, from, to model.IssueStatus, publishedAt *time.Time) (bool, error)
}

func (m *mockIssueRepo) CreateDraft(ctx context.Context, issue *model.Issue) error {
	if m.createDraftFn != nil {
		return m.createDraftFn(ctx, issue)
	}
	issue.IssueNumber = 1
	issue.Status = model.IssueStatusDraft
	return nil
}

func (m *mockIssueRepo) FindByID(ctx context.Context, id string) (*model.Issue, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockIssueRepo) NextIssueNumber(ctx context.Context) (int, error) {
	if m.nextIssueNumberFn != nil {
		return m.nextIssueNumberFn(ctx)
	}
	return 1, nil
}

func (m *mockIssueRepo) ReplaceSections(ctx context.Context, issueID string, sections []model.Section) (bool, error) {
	if m.replaceSectionsFn != nil {
		return m.replaceSectionsFn(ctx, issueID, sections)
	}
	return true, nil
}

func (m *mockIssueRepo) UpdateStatus(ctx context.Context, id string, from, to model.IssueStatus, publishedAt *time.Time) (bool, error) {
	if m.updateStatusFn != nil {
		return m.updateStatusFn(ctx, id, from, to, publishedAt)
	}
	return true, nil
}

var _ repository.IssueRepository = (*mockIssueRepo)(nil)

// mockArticleRepo はサービステスト用のArticleRepositoryモック。
type mockArticleRepo struct {
	findByIDFn     func(ctx context.Context, id string) (*model.Article, error)
	markSelectedFn func(ctx context.Context, ids []string, selected bool) error
}

func (m *mockArticleRepo) ExistsByURL(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (m *mockArticleRepo) FindByID(ctx context.Context, id string) (*model.Article, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return &model.Article{ID: id}, nil
}

func (m *mockArticleRepo) Create(_ context.Context, _ *model.Article) error { return nil }

func (m *mockArticleRepo) Update(_ context.Context, _ *model.Article) error { return nil }

func (m *mockArticleRepo) UpdateSummary(_ context.Context, _, _ string) error { return nil }

func (m *mockArticleRepo) List(_ context.Context, _ repository.ArticleFilter, _, _ int) ([]*model.Article, error) {
	return nil, nil
}

func (m *mockArticleRepo) ListByIssue(_ context.Context, _ string) ([]*model.Article, error) {
	return nil, nil
}

func (m *mockArticleRepo) MarkSelected(ctx context.Context, ids []string, selected bool) error {
	if m.markSelectedFn != nil {
		return m.markSelectedFn(ctx, ids, selected)
	}
	return nil
}

var _ repository.ArticleRepository = (*mockArticleRepo)(nil)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func draftIssue(id string) *model.Issue {
	return &model.Issue{
		ID:          id,
		IssueNumber: 7,
		Title:       "Weekly Digest",
		Language:    "en",
		Status:      model.IssueStatusDraft,
	}
}

func validMeta() DraftMeta {
	return DraftMeta{Title: "Weekly Digest", Language: "en"}
}

// TestNewsletterService_CreateDraft_Validation はタイトルと言語の検証をテストする。
func TestNewsletterService_CreateDraft_Validation(t *testing.T) {
	service := NewService(&mockIssueRepo{}, &mockArticleRepo{}, testLogger())

	_, err := service.CreateDraft(context.Background(), DraftMeta{Title: "", Language: "en"})
	if !model.IsKind(err, model.KindValidation) {
		t.Errorf("空タイトルのエラー分類 = %s, want %s", model.KindOf(err), model.KindValidation)
	}

	_, err = service.CreateDraft(context.Background(), DraftMeta{Title: "t", Language: "klingon"})
	if !model.IsKind(err, model.KindValidation) {
		t.Errorf("対応外言語のエラー分類 = %s, want %s", model.KindOf(err), model.KindValidation)
	}
}

// TestNewsletterService_CreateDraft_Success はドラフト号がdraft状態かつ
// 採番済みで作成されることをテストする。
func TestNewsletterService_CreateDraft_Success(t *testing.T) {
	repo := &mockIssueRepo{
		createDraftFn: func(ctx context.Context, issue *model.Issue) error {
			issue.IssueNumber = 42
			issue.Status = model.IssueStatusDraft
			return nil
		},
	}
	service := NewService(repo, &mockArticleRepo{}, testLogger())

	issue, err := service.CreateDraft(context.Background(), validMeta())
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if issue.IssueNumber != 42 {
		t.Errorf("IssueNumber = %d, want 42", issue.IssueNumber)
	}
	if issue.Status != model.IssueStatusDraft {
		t.Errorf("Status = %s, want %s", issue.Status, model.IssueStatusDraft)
	}
	if issue.ID == "" {
		t.Error("IDが設定されるべき")
	}
}

// TestNewsletterService_CreateDraft_RetriesOnConflict は採番競合時に
// リトライして成功することをテストする。
func TestNewsletterService_CreateDraft_RetriesOnConflict(t *testing.T) {
	attempts := 0
	repo := &mockIssueRepo{
		createDraftFn: func(ctx context.Context, issue *model.Issue) error {
			attempts++
			if attempts < 3 {
				return &pq.Error{Code: "23505"}
			}
			issue.IssueNumber = 8
			return nil
		},
	}
	service := NewService(repo, &mockArticleRepo{}, testLogger())

	issue, err := service.CreateDraft(context.Background(), validMeta())
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if attempts != 3 {
		t.Errorf("試行回数 = %d, want 3", attempts)
	}
	if issue.IssueNumber != 8 {
		t.Errorf("IssueNumber = %d, want 8", issue.IssueNumber)
	}
}

// TestNewsletterService_CreateDraft_RetryLimit はリトライ上限の超過が
// databaseエラーになることをテストする。
func TestNewsletterService_CreateDraft_RetryLimit(t *testing.T) {
	repo := &mockIssueRepo{
		createDraftFn: func(ctx context.Context, issue *model.Issue) error {
			return &pq.Error{Code: "23505"}
		},
	}
	service := NewService(repo, &mockArticleRepo{}, testLogger())

	_, err := service.CreateDraft(context.Background(), validMeta())
	if !model.IsKind(err, model.KindDatabase) {
		t.Errorf("エラー分類 = %s, want %s", model.KindOf(err), model.KindDatabase)
	}
}

// TestNewsletterService_AssignArticles_DraftOnly は公開済みの号への割り当てが
// 状態遷移違反として拒否されることをテストする。
func TestNewsletterService_AssignArticles_DraftOnly(t *testing.T) {
	issue := draftIssue("i1")
	issue.Status = model.IssueStatusPublished
	repo := &mockIssueRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Issue, error) {
			return issue, nil
		},
	}
	service := NewService(repo, &mockArticleRepo{}, testLogger())

	_, err := service.AssignArticles(context.Background(), "i1", nil)
	if !model.IsKind(err, model.KindInvalidStateTransition) {
		t.Errorf("エラー分類 = %s, want %s", model.KindOf(err), model.KindInvalidStateTransition)
	}
}

// TestNewsletterService_AssignArticles_NotFound は存在しない号への割り当てが
// not_foundになることをテストする。
func TestNewsletterService_AssignArticles_NotFound(t *testing.T) {
	service := NewService(&mockIssueRepo{}, &mockArticleRepo{}, testLogger())

	_, err := service.AssignArticles(context.Background(), "missing", nil)
	if !model.IsKind(err, model.KindNotFound) {
		t.Errorf("エラー分類 = %s, want %s", model.KindOf(err), model.KindNotFound)
	}
}

// TestNewsletterService_AssignArticles_MarksSelected は割り当てられた記事に
// 選択フラグが設定されることをテストする。
func TestNewsletterService_AssignArticles_MarksSelected(t *testing.T) {
	issue := draftIssue("i1")
	issueRepo := &mockIssueRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Issue, error) {
			return issue, nil
		},
	}

	var selectedIDs []string
	articleRepo := &mockArticleRepo{
		markSelectedFn: func(ctx context.Context, ids []string, selected bool) error {
			if !selected {
				t.Error("selected = false, want true")
			}
			selectedIDs = ids
			return nil
		},
	}
	service := NewService(issueRepo, articleRepo, testLogger())

	sections := []model.Section{
		{
			Heading:  "Top Stories",
			Position: 0,
			Articles: []model.ArticleAssignment{
				{ArticleID: "a1", Position: 0},
				{ArticleID: "a2", Position: 1},
			},
		},
	}

	_, err := service.AssignArticles(context.Background(), "i1", sections)
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if len(selectedIDs) != 2 || selectedIDs[0] != "a1" || selectedIDs[1] != "a2" {
		t.Errorf("選択された記事ID = %v, want [a1 a2]", selectedIDs)
	}
}

// TestNewsletterService_AssignArticles_MissingArticle は存在しない記事の割り当てが
// not_foundになることをテストする。
func TestNewsletterService_AssignArticles_MissingArticle(t *testing.T) {
	issue := draftIssue("i1")
	issueRepo := &mockIssueRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Issue, error) {
			return issue, nil
		},
	}
	articleRepo := &mockArticleRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Article, error) {
			return nil, nil
		},
	}
	service := NewService(issueRepo, articleRepo, testLogger())

	sections := []model.Section{
		{Heading: "Top", Articles: []model.ArticleAssignment{{ArticleID: "ghost"}}},
	}

	_, err := service.AssignArticles(context.Background(), "i1", sections)
	if !model.IsKind(err, model.KindNotFound) {
		t.Errorf("エラー分類 = %s, want %s", model.KindOf(err), model.KindNotFound)
	}
}

// TestNewsletterService_Publish_SetsPublishedAtOnce はdraftからの公開が
// 公開時刻を設定することをテストする。
func TestNewsletterService_Publish_SetsPublishedAtOnce(t *testing.T) {
	issue := draftIssue("i1")
	var capturedFrom, capturedTo model.IssueStatus
	var capturedPublishedAt *time.Time

	repo := &mockIssueRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Issue, error) {
			return issue, nil
		},
		updateStatusFn: func(ctx context.Context, id string, from, to model.IssueStatus, publishedAt *time.Time) (bool, error) {
			capturedFrom, capturedTo = from, to
			capturedPublishedAt = publishedAt
			return true, nil
		},
	}
	service := NewService(repo, &mockArticleRepo{}, testLogger())

	published, err := service.Publish(context.Background(), "i1")
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if capturedFrom != model.IssueStatusDraft || capturedTo != model.IssueStatusPublished {
		t.Errorf("遷移 = %s→%s, want draft→published", capturedFrom, capturedTo)
	}
	if capturedPublishedAt == nil {
		t.Fatal("公開時刻が設定されるべき")
	}
	if published.Status != model.IssueStatusPublished {
		t.Errorf("Status = %s, want published", published.Status)
	}
	if published.PublishedAt == nil {
		t.Error("PublishedAtが設定されるべき")
	}
}

// TestNewsletterService_Publish_AlreadyPublished は公開済みの号の再公開が
// 冪等とされず拒否されることをテストする。
func TestNewsletterService_Publish_AlreadyPublished(t *testing.T) {
	for _, status := range []model.IssueStatus{model.IssueStatusPublished, model.IssueStatusArchived} {
		issue := draftIssue("i1")
		issue.Status = status
		repo := &mockIssueRepo{
			findByIDFn: func(ctx context.Context, id string) (*model.Issue, error) {
				return issue, nil
			},
		}
		service := NewService(repo, &mockArticleRepo{}, testLogger())

		_, err := service.Publish(context.Background(), "i1")
		if !model.IsKind(err, model.KindInvalidStateTransition) {
			t.Errorf("%s状態からの公開のエラー分類 = %s, want %s",
				status, model.KindOf(err), model.KindInvalidStateTransition)
		}
	}
}

// TestNewsletterService_Publish_RaceLost は事前チェック後の競合でガード付きUPDATEが
// 空振りした場合に状態遷移違反になることをテストする。
func TestNewsletterService_Publish_RaceLost(t *testing.T) {
	issue := draftIssue("i1")
	repo := &mockIssueRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Issue, error) {
			return issue, nil
		},
		updateStatusFn: func(ctx context.Context, id string, from, to model.IssueStatus, publishedAt *time.Time) (bool, error) {
			return false, nil
		},
	}
	service := NewService(repo, &mockArticleRepo{}, testLogger())

	_, err := service.Publish(context.Background(), "i1")
	if !model.IsKind(err, model.KindInvalidStateTransition) {
		t.Errorf("エラー分類 = %s, want %s", model.KindOf(err), model.KindInvalidStateTransition)
	}
}

// TestNewsletterService_Archive_FromDraftAndPublished はdraftとpublishedの
// 両方からアーカイブできることをテストする。
func TestNewsletterService_Archive_FromDraftAndPublished(t *testing.T) {
	for _, status := range []model.IssueStatus{model.IssueStatusDraft, model.IssueStatusPublished} {
		issue := draftIssue("i1")
		issue.Status = status
		var capturedFrom model.IssueStatus
		repo := &mockIssueRepo{
			findByIDFn: func(ctx context.Context, id string) (*model.Issue, error) {
				return issue, nil
			},
			updateStatusFn: func(ctx context.Context, id string, from, to model.IssueStatus, publishedAt *time.Time) (bool, error) {
				capturedFrom = from
				if publishedAt != nil {
					t.Error("アーカイブで公開時刻が設定されるべきではない")
				}
				return true, nil
			},
		}
		service := NewService(repo, &mockArticleRepo{}, testLogger())

		archived, err := service.Archive(context.Background(), "i1")
		if err != nil {
			t.Fatalf("%s状態からのアーカイブで予期しないエラー: %v", status, err)
		}
		if capturedFrom != status {
			t.Errorf("遷移元 = %s, want %s", capturedFrom, status)
		}
		if archived.Status != model.IssueStatusArchived {
			t.Errorf("Status = %s, want archived", archived.Status)
		}
	}
}

// TestNewsletterService_Archive_AlreadyArchived はアーカイブ済みの号の再アーカイブが
// 拒否されることをテストする。
func TestNewsletterService_Archive_AlreadyArchived(t *testing.T) {
	issue := draftIssue("i1")
	issue.Status = model.IssueStatusArchived
	repo := &mockIssueRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Issue, error) {
			return issue, nil
		},
	}
	service := NewService(repo, &mockArticleRepo{}, testLogger())

	_, err := service.Archive(context.Background(), "i1")
	if !model.IsKind(err, model.KindInvalidStateTransition) {
		t.Errorf("エラー分類 = %s, want %s", model.KindOf(err), model.KindInvalidStateTransition)
	}
}

// TestNewsletterService_Get_NotFound は存在しない号の取得がnot_foundになることをテストする。
func TestNewsletterService_Get_NotFound(t *testing.T) {
	service := NewService(&mockIssueRepo{}, &mockArticleRepo{}, testLogger())

	_, err := service.Get(context.Background(), "missing")
	if !model.IsKind(err, model.KindNotFound) {
		t.Errorf("エラー分類 = %s, want %s", model.KindOf(err), model.KindNotFound)
	}
}

// TestNewsletterService_NextIssueNumber_WrapsStoreError はストア障害が
// databaseエラーとして返ることをテストする。
func TestNewsletterService_NextIssueNumber_WrapsStoreError(t *testing.T) {
	storeErr := errors.New("connection refused")
	repo := &mockIssueRepo{
		nextIssueNumberFn: func(ctx context.Context) (int, error) {
			return 0, storeErr
		},
	}
	service := NewService(repo, &mockArticleRepo{}, testLogger())

	_, err := service.NextIssueNumber(context.Background())
	if !model.IsKind(err, model.KindDatabase) {
		t.Errorf("エラー分類 = %s, want %s", model.KindOf(err), model.KindDatabase)
	}
	if !errors.Is(err, storeErr) {
		t.Error("下位エラーがラップされているべき")
	}
}
