package feed

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/globalnews/internal/language"
	"github.com/hitoshi/globalnews/internal/model"
	"github.com/hitoshi/globalnews/internal/repository"
)

// Detector はフィード検出のインターフェース。
// テスタビリティのためFeedDetectorを抽象化する。
type Detector interface {
	DetectFeedURL(ctx context.Context, inputURL string) (string, error)
}

// Meta はフィード登録時のメタデータ。
type Meta struct {
	Name     string
	Language string
	Region   string
	Category string
}

// Service はフィード登録・管理のサービス層。
// 検出 → 重複チェック → フィード保存のフローを統括する。
type Service struct {
	feeds    repository.FeedRepository
	detector Detector
	logger   *slog.Logger
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(feeds repository.FeedRepository, detector Detector, logger *slog.Logger) *Service {
	return &Service{
		feeds:    feeds,
		detector: detector,
		logger:   logger,
	}
}

// Register はURLからフィードを検出して登録する。
// 入力URLがHTMLページの場合は自動検出で実際のフィードURLへ解決される。
// 解決後のフィードURLが登録済みの場合はvalidation分類のエラーを返す。
func (s *Service) Register(ctx context.Context, inputURL string, meta Meta) (*model.Feed, error) {
	const op = "feed.Register"

	lang := language.Normalize(meta.Language)
	if !language.Supported(lang) {
		return nil, model.NewValidationError(op, "サポートされていない言語です: "+meta.Language)
	}

	feedURL, err := s.detector.DetectFeedURL(ctx, inputURL)
	if err != nil {
		return nil, err
	}

	existing, err := s.feeds.FindByFeedURL(ctx, feedURL)
	if err != nil {
		return nil, model.NewDatabaseError(op, err)
	}
	if existing != nil {
		return nil, model.NewValidationError(op, "このフィードURLはすでに登録されています")
	}

	name := strings.TrimSpace(meta.Name)
	if name == "" {
		// 名前未指定時はフィードURLを仮名として使用
		name = feedURL
	}

	now := time.Now().UTC()
	feed := &model.Feed{
		ID:        uuid.New().String(),
		Name:      name,
		FeedURL:   feedURL,
		Language:  lang,
		Region:    strings.TrimSpace(meta.Region),
		Category:  strings.TrimSpace(meta.Category),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := s.feeds.Create(ctx, feed); err != nil {
		if repository.IsUniqueViolation(err) {
			// 並行登録との競合
			return nil, model.NewValidationError(op, "このフィードURLはすでに登録されています")
		}
		return nil, model.NewDatabaseError(op, err)
	}

	s.logger.Info("フィードを登録しました",
		slog.String("feed_id", feed.ID),
		slog.String("feed_url", feed.FeedURL),
		slog.String("language", feed.Language),
	)

	return feed, nil
}

// List は登録済みフィードの一覧を返す。
func (s *Service) List(ctx context.Context) ([]*model.Feed, error) {
	const op = "feed.List"

	feeds, err := s.feeds.List(ctx)
	if err != nil {
		return nil, model.NewDatabaseError(op, err)
	}
	return feeds, nil
}

// Get はフィードをIDで取得する。
func (s *Service) Get(ctx context.Context, feedID string) (*model.Feed, error) {
	const op = "feed.Get"

	feed, err := s.feeds.FindByID(ctx, feedID)
	if err != nil {
		return nil, model.NewDatabaseError(op, err)
	}
	if feed == nil {
		return nil, model.NewNotFoundError(op, "指定されたフィードが見つかりません")
	}
	return feed, nil
}

// SetActive はフィードの有効/無効を切り替える。
// 自動停止されたフィードの再有効化にも使用される。
func (s *Service) SetActive(ctx context.Context, feedID string, active bool) (*model.Feed, error) {
	const op = "feed.SetActive"

	feed, err := s.Get(ctx, feedID)
	if err != nil {
		return nil, err
	}

	if err := s.feeds.SetActive(ctx, feedID, active); err != nil {
		return nil, model.NewDatabaseError(op, err)
	}

	feed.Active = active
	feed.UpdatedAt = time.Now().UTC()
	if active {
		feed.ConsecutiveErrors = 0
		feed.ErrorMessage = ""
	}

	s.logger.Info("フィードの有効状態を変更しました",
		slog.String("feed_id", feedID),
		slog.Bool("active", active),
	)

	return feed, nil
}
