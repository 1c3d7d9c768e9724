package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/lib/pq"

	"github.com/hitoshi/globalnews/internal/model"
	"github.com/hitoshi/globalnews/internal/repository"
)

// mockFeedRepo はサービステスト用のFeedRepositoryモック。
type mockFeedRepo struct {
	findByIDFn      func(ctx context.Context, id string) (*model.Feed, error)
	findByFeedURLFn func(ctx context.Context, feedURL string) (*model.Feed, error)
	createFn        func(ctx context.Context, feed *model.Feed) error
	listFn          func(ctx context.Context) ([]*model.Feed, error)
	setActiveFn     func(ctx context.Context, id string, active bool) error
}

func (m *mockFeedRepo) FindByID(ctx context.Context, id string) (*model.Feed, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (m *mockFeedRepo) FindByFeedURL(ctx context.Context, feedURL string) (*model.Feed, error) {
	if m.findByFeedURLFn != nil {
		return m.findByFeedURLFn(ctx, feedURL)
	}
	return nil, nil
}

func (m *mockFeedRepo) Create(ctx context.Context, feed *model.Feed) error {
	if m.createFn != nil {
		return m.createFn(ctx, feed)
	}
	return nil
}

func (m *mockFeedRepo) List(ctx context.Context) ([]*model.Feed, error) {
	if m.listFn != nil {
		return m.listFn(ctx)
	}
	return nil, nil
}

func (m *mockFeedRepo) ListActive(_ context.Context) ([]*model.Feed, error) { return nil, nil }

func (m *mockFeedRepo) SetActive(ctx context.Context, id string, active bool) error {
	if m.setActiveFn != nil {
		return m.setActiveFn(ctx, id, active)
	}
	return nil
}

func (m *mockFeedRepo) UpdatePollState(_ context.Context, _ *model.Feed) error { return nil }

var _ repository.FeedRepository = (*mockFeedRepo)(nil)

// mockDetector はサービステスト用のDetectorモック。
type mockDetector struct {
	detectFn func(ctx context.Context, inputURL string) (string, error)
}

func (m *mockDetector) DetectFeedURL(ctx context.Context, inputURL string) (string, error) {
	if m.detectFn != nil {
		return m.detectFn(ctx, inputURL)
	}
	return inputURL, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// TestFeedService_Register_CreatesFeed は検出されたURLでフィードが登録されることをテストする。
func TestFeedService_Register_CreatesFeed(t *testing.T) {
	detector := &mockDetector{
		detectFn: func(ctx context.Context, inputURL string) (string, error) {
			return "https://lemonde.fr/rss/une.xml", nil
		},
	}
	var created *model.Feed
	repo := &mockFeedRepo{
		createFn: func(ctx context.Context, feed *model.Feed) error {
			created = feed
			return nil
		},
	}
	s := NewService(repo, detector, testLogger())

	feed, err := s.Register(context.Background(), "https://lemonde.fr",
		Meta{Name: "Le Monde", Language: "French", Region: "FR", Category: "general"})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}

	if created == nil {
		t.Fatal("フィードが永続化されていない")
	}
	if feed.FeedURL != "https://lemonde.fr/rss/une.xml" {
		t.Errorf("FeedURL = %s, want 検出されたフィードURL", feed.FeedURL)
	}
	if feed.Language != "fr" {
		t.Errorf("Language = %s, want 正規化されたfr", feed.Language)
	}
	if !feed.Active {
		t.Error("新規フィードはアクティブで登録されるべき")
	}
	if feed.ID == "" {
		t.Error("IDが採番されるべき")
	}
}

// TestFeedService_Register_NameDefaultsToFeedURL は名前未指定時に
// フィードURLが仮名として使われることをテストする。
func TestFeedService_Register_NameDefaultsToFeedURL(t *testing.T) {
	s := NewService(&mockFeedRepo{}, &mockDetector{}, testLogger())

	feed, err := s.Register(context.Background(), "https://example.com/feed.xml",
		Meta{Language: "en"})
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if feed.Name != "https://example.com/feed.xml" {
		t.Errorf("Name = %s, want フィードURL", feed.Name)
	}
}

// TestFeedService_Register_UnsupportedLanguage はサポート外言語が
// I/O実行前に拒否されることをテストする。
func TestFeedService_Register_UnsupportedLanguage(t *testing.T) {
	detector := &mockDetector{
		detectFn: func(ctx context.Context, inputURL string) (string, error) {
			t.Error("検証失敗時は検出を実行しないべき")
			return inputURL, nil
		},
	}
	s := NewService(&mockFeedRepo{}, detector, testLogger())

	_, err := s.Register(context.Background(), "https://example.com", Meta{Language: "klingon"})
	if !model.IsKind(err, model.KindValidation) {
		t.Errorf("エラー分類 = %s, want %s", model.KindOf(err), model.KindValidation)
	}
}

// TestFeedService_Register_DuplicateURLRejected は登録済みフィードURLが
// 拒否されることをテストする。
func TestFeedService_Register_DuplicateURLRejected(t *testing.T) {
	repo := &mockFeedRepo{
		findByFeedURLFn: func(ctx context.Context, feedURL string) (*model.Feed, error) {
			return &model.Feed{ID: "f1", FeedURL: feedURL}, nil
		},
		createFn: func(ctx context.Context, feed *model.Feed) error {
			t.Error("重複検出時はCreateを呼ばないべき")
			return nil
		},
	}
	s := NewService(repo, &mockDetector{}, testLogger())

	_, err := s.Register(context.Background(), "https://example.com/feed.xml", Meta{Language: "en"})
	if !model.IsKind(err, model.KindValidation) {
		t.Errorf("エラー分類 = %s, want %s", model.KindOf(err), model.KindValidation)
	}
}

// TestFeedService_Register_ConcurrentDuplicateRejected は並行登録との
// 一意制約違反がvalidation分類として返ることをテストする。
func TestFeedService_Register_ConcurrentDuplicateRejected(t *testing.T) {
	repo := &mockFeedRepo{
		createFn: func(ctx context.Context, feed *model.Feed) error {
			return &pq.Error{Code: "23505"}
		},
	}
	s := NewService(repo, &mockDetector{}, testLogger())

	_, err := s.Register(context.Background(), "https://example.com/feed.xml", Meta{Language: "en"})
	if !model.IsKind(err, model.KindValidation) {
		t.Errorf("エラー分類 = %s, want %s", model.KindOf(err), model.KindValidation)
	}
}

// TestFeedService_Register_DetectorErrorPropagated は検出エラーが
// そのまま呼び出し元へ伝播することをテストする。
func TestFeedService_Register_DetectorErrorPropagated(t *testing.T) {
	detector := &mockDetector{
		detectFn: func(ctx context.Context, inputURL string) (string, error) {
			return "", model.NewValidationError("feed.DetectFeedURL", "指定されたURLからフィードを検出できませんでした")
		},
	}
	s := NewService(&mockFeedRepo{}, detector, testLogger())

	_, err := s.Register(context.Background(), "https://example.com", Meta{Language: "en"})
	if !model.IsKind(err, model.KindValidation) {
		t.Errorf("エラー分類 = %s, want %s", model.KindOf(err), model.KindValidation)
	}
}

// TestFeedService_Get_NotFound は存在しないフィードでnot_found分類が返ることをテストする。
func TestFeedService_Get_NotFound(t *testing.T) {
	s := NewService(&mockFeedRepo{}, &mockDetector{}, testLogger())

	_, err := s.Get(context.Background(), "missing")
	if !model.IsKind(err, model.KindNotFound) {
		t.Errorf("エラー分類 = %s, want %s", model.KindOf(err), model.KindNotFound)
	}
}

// TestFeedService_SetActive_ReactivationResetsErrors は再有効化で
// 連続エラー状態がリセットされることをテストする。
func TestFeedService_SetActive_ReactivationResetsErrors(t *testing.T) {
	stored := &model.Feed{
		ID:                "f1",
		FeedURL:           "https://example.com/feed.xml",
		Active:            false,
		ConsecutiveErrors: 10,
		ErrorMessage:      "ポーリング失敗が10回連続したためフィードを停止しました",
	}
	var persistedActive *bool
	repo := &mockFeedRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.Feed, error) {
			return stored, nil
		},
		setActiveFn: func(ctx context.Context, id string, active bool) error {
			persistedActive = &active
			return nil
		},
	}
	s := NewService(repo, &mockDetector{}, testLogger())

	feed, err := s.SetActive(context.Background(), "f1", true)
	if err != nil {
		t.Fatalf("予期しないエラー: %v", err)
	}
	if persistedActive == nil || !*persistedActive {
		t.Error("アクティブフラグが永続化されるべき")
	}
	if !feed.Active {
		t.Error("Active = false, want true")
	}
	if feed.ConsecutiveErrors != 0 || feed.ErrorMessage != "" {
		t.Error("再有効化でエラー状態がリセットされるべき")
	}
}

// TestFeedService_SetActive_NotFound は存在しないフィードの切り替えが
// not_found分類で失敗することをテストする。
func TestFeedService_SetActive_NotFound(t *testing.T) {
	s := NewService(&mockFeedRepo{}, &mockDetector{}, testLogger())

	_, err := s.SetActive(context.Background(), "missing", false)
	if !model.IsKind(err, model.KindNotFound) {
		t.Errorf("エラー分類 = %s, want %s", model.KindOf(err), model.KindNotFound)
	}
}

// TestFeedService_List_WrapsStoreError はストア障害がdatabase分類で返ることをテストする。
func TestFeedService_List_WrapsStoreError(t *testing.T) {
	repo := &mockFeedRepo{
		listFn: func(ctx context.Context) ([]*model.Feed, error) {
			return nil, errors.New("connection refused")
		},
	}
	s := NewService(repo, &mockDetector{}, testLogger())

	_, err := s.List(context.Background())
	if !model.IsKind(err, model.KindDatabase) {
		t.Errorf("エラー分類 = %s, want %s", model.KindOf(err), model.KindDatabase)
	}
}
