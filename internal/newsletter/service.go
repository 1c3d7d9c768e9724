// Package newsletter はニュースレター号の編集と状態管理を提供する。
package newsletter

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/globalnews/internal/language"
	"github.com/hitoshi/globalnews/internal/model"
	"github.com/hitoshi/globalnews/internal/repository"
)

// maxNumberingRetries は号番号の採番競合時のリトライ上限。
const maxNumberingRetries = 3

// DraftMeta は新規ドラフト号の作成パラメータ。
type DraftMeta struct {
	Title    string
	Subtitle string
	Language string
	Metadata map[string]string
}

// Service はニュースレター号のライフサイクルを管理する。
// 号番号は欠番なく単調増加し、状態はdraft→published→archivedの
// 一方向にのみ遷移する。
type Service struct {
	issues   repository.IssueRepository
	articles repository.ArticleRepository
	logger   *slog.Logger
}

// NewService はServiceを生成する。
func NewService(issues repository.IssueRepository, articles repository.ArticleRepository, logger *slog.Logger) *Service {
	return &Service{
		issues:   issues,
		articles: articles,
		logger:   logger,
	}
}

// CreateDraft はdraft状態の新規号を作成する。
// 号番号はINSERT内でmax+1を採番し、並行作成との衝突（一意制約違反）は
// 上限回数までリトライする。採番された番号に欠番は生じない。
func (s *Service) CreateDraft(ctx context.Context, meta DraftMeta) (*model.Issue, error) {
	const op = "newsletter.CreateDraft"

	if meta.Title == "" {
		return nil, model.NewValidationError(op, "タイトルは必須です")
	}
	lang := language.Normalize(meta.Language)
	if lang == "" {
		return nil, model.NewValidationError(op,
			fmt.Sprintf("対応していない言語です: %s", meta.Language))
	}

	var lastErr error
	for attempt := 0; attempt < maxNumberingRetries; attempt++ {
		now := time.Now().UTC()
		issue := &model.Issue{
			ID:        uuid.New().String(),
			Title:     meta.Title,
			Subtitle:  meta.Subtitle,
			Language:  lang,
			Metadata:  meta.Metadata,
			CreatedAt: now,
			UpdatedAt: now,
		}

		err := s.issues.CreateDraft(ctx, issue)
		if err == nil {
			s.logger.Info("ドラフト号を作成しました",
				"issue_id", issue.ID, "issue_number", issue.IssueNumber)
			return issue, nil
		}
		if !repository.IsUniqueViolation(err) {
			return nil, model.NewDatabaseError(op, err)
		}
		lastErr = err
		s.logger.Warn("号番号の採番が競合しました。リトライします",
			"attempt", attempt+1)
	}

	return nil, model.NewDatabaseError(op,
		fmt.Errorf("号番号の採番リトライが上限に達しました: %w", lastErr))
}

// AssignArticles は号のセクション構成と記事割り当てを差し替える。
// 割り当てはdraft状態の号に対してのみ許され、割り当てられた記事には
// 選択フラグが設定される。
func (s *Service) AssignArticles(ctx context.Context, issueID string, sections []model.Section) (*model.Issue, error) {
	const op = "newsletter.AssignArticles"

	issue, err := s.issues.FindByID(ctx, issueID)
	if err != nil {
		return nil, model.NewDatabaseError(op, err)
	}
	if issue == nil {
		return nil, model.NewNotFoundError(op, fmt.Sprintf("号が見つかりません: %s", issueID))
	}
	if !issue.Status.IsEditable() {
		return nil, model.NewInvalidStateTransitionError(op,
			fmt.Sprintf("%s状態の号は編集できません", issue.Status))
	}

	articleIDs := make([]string, 0)
	for i, section := range sections {
		if section.Heading == "" {
			return nil, model.NewValidationError(op,
				fmt.Sprintf("セクション %d 件目の見出しが空です", i))
		}
		for j, assignment := range section.Articles {
			if assignment.ArticleID == "" {
				return nil, model.NewValidationError(op,
					fmt.Sprintf("セクション %d 件目の割り当て %d 件目の記事IDが空です", i, j))
			}
			articleIDs = append(articleIDs, assignment.ArticleID)
		}
	}

	for _, articleID := range articleIDs {
		article, err := s.articles.FindByID(ctx, articleID)
		if err != nil {
			return nil, model.NewDatabaseError(op, err)
		}
		if article == nil {
			return nil, model.NewNotFoundError(op,
				fmt.Sprintf("記事が見つかりません: %s", articleID))
		}
	}

	ok, err := s.issues.ReplaceSections(ctx, issueID, sections)
	if err != nil {
		return nil, model.NewDatabaseError(op, err)
	}
	if !ok {
		// 事前チェック後にpublish/archiveが割り込んだ場合もここに落ちる
		return nil, model.NewInvalidStateTransitionError(op,
			"号はすでに編集できない状態です")
	}

	if len(articleIDs) > 0 {
		if err := s.articles.MarkSelected(ctx, articleIDs, true); err != nil {
			return nil, model.NewDatabaseError(op, err)
		}
	}

	s.logger.Info("号の記事割り当てを更新しました",
		"issue_id", issueID,
		"sections", len(sections),
		"articles", len(articleIDs),
	)

	updated, err := s.issues.FindByID(ctx, issueID)
	if err != nil {
		return nil, model.NewDatabaseError(op, err)
	}
	return updated, nil
}

// Publish は号をdraftからpublishedへ遷移させ、公開時刻を1回だけ設定する。
// published/archived状態からの再公開は冪等とせず、状態遷移違反として拒否する。
func (s *Service) Publish(ctx context.Context, issueID string) (*model.Issue, error) {
	const op = "newsletter.Publish"

	issue, err := s.issues.FindByID(ctx, issueID)
	if err != nil {
		return nil, model.NewDatabaseError(op, err)
	}
	if issue == nil {
		return nil, model.NewNotFoundError(op, fmt.Sprintf("号が見つかりません: %s", issueID))
	}
	if !issue.Status.CanTransitionTo(model.IssueStatusPublished) {
		return nil, model.NewInvalidStateTransitionError(op,
			fmt.Sprintf("%sからpublishedへは遷移できません", issue.Status))
	}

	publishedAt := time.Now().UTC()
	ok, err := s.issues.UpdateStatus(ctx, issueID,
		model.IssueStatusDraft, model.IssueStatusPublished, &publishedAt)
	if err != nil {
		return nil, model.NewDatabaseError(op, err)
	}
	if !ok {
		return nil, model.NewInvalidStateTransitionError(op,
			"号はすでにdraft状態ではありません")
	}

	issue.Status = model.IssueStatusPublished
	issue.PublishedAt = &publishedAt

	s.logger.Info("号を公開しました",
		"issue_id", issueID, "issue_number", issue.IssueNumber)
	return issue, nil
}

// Archive は号をarchivedへ遷移させる。draftとpublishedのどちらからも遷移できるが、
// archivedからの再遷移とdraftへの巻き戻しは拒否される。
func (s *Service) Archive(ctx context.Context, issueID string) (*model.Issue, error) {
	const op = "newsletter.Archive"

	issue, err := s.issues.FindByID(ctx, issueID)
	if err != nil {
		return nil, model.NewDatabaseError(op, err)
	}
	if issue == nil {
		return nil, model.NewNotFoundError(op, fmt.Sprintf("号が見つかりません: %s", issueID))
	}
	if !issue.Status.CanTransitionTo(model.IssueStatusArchived) {
		return nil, model.NewInvalidStateTransitionError(op,
			fmt.Sprintf("%sからarchivedへは遷移できません", issue.Status))
	}

	ok, err := s.issues.UpdateStatus(ctx, issueID,
		issue.Status, model.IssueStatusArchived, nil)
	if err != nil {
		return nil, model.NewDatabaseError(op, err)
	}
	if !ok {
		return nil, model.NewInvalidStateTransitionError(op,
			fmt.Sprintf("号はすでに%s状態ではありません", issue.Status))
	}

	issue.Status = model.IssueStatusArchived

	s.logger.Info("号をアーカイブしました",
		"issue_id", issueID, "issue_number", issue.IssueNumber)
	return issue, nil
}

// NextIssueNumber は次に採番される号番号を返す（読み取り専用のプレビュー）。
func (s *Service) NextIssueNumber(ctx context.Context) (int, error) {
	const op = "newsletter.NextIssueNumber"

	next, err := s.issues.NextIssueNumber(ctx)
	if err != nil {
		return 0, model.NewDatabaseError(op, err)
	}
	return next, nil
}

// Get は号をセクションツリー込みで取得する。
func (s *Service) Get(ctx context.Context, issueID string) (*model.Issue, error) {
	const op = "newsletter.Get"

	issue, err := s.issues.FindByID(ctx, issueID)
	if err != nil {
		return nil, model.NewDatabaseError(op, err)
	}
	if issue == nil {
		return nil, model.NewNotFoundError(op, fmt.Sprintf("号が見つかりません: %s", issueID))
	}
	return issue, nil
}
