package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/hitoshi/globalnews/internal/model"
)

// PostgresArticleRepo はPostgreSQLを使用した記事リポジトリ。
type PostgresArticleRepo struct {
	db *sql.DB
}

// NewPostgresArticleRepo はPostgresArticleRepoを生成する。
func NewPostgresArticleRepo(db *sql.DB) *PostgresArticleRepo {
	return &PostgresArticleRepo{db: db}
}

const articleColumns = `id, feed_id, title, author, description, content, url, image_url,
       published_at, language, needs_manual_review, summary, translated_from,
       selected, created_at, updated_at`

// ExistsByURL は指定の正規URLを持つ記事が存在するかを返す。
// 重複排除の存在判定に使用される読み取り専用クエリ。
func (r *PostgresArticleRepo) ExistsByURL(ctx context.Context, url string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM articles WHERE url = $1)`, url,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("記事の存在判定に失敗しました: %w", err)
	}
	return exists, nil
}

// FindByID は指定IDの記事を取得する。見つからない場合はnilを返す。
func (r *PostgresArticleRepo) FindByID(ctx context.Context, id string) (*model.Article, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE id = $1`, id)

	article, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("記事の取得に失敗しました: %w", err)
	}
	return article, nil
}

// Create は新規記事を作成する。
func (r *PostgresArticleRepo) Create(ctx context.Context, article *model.Article) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO articles (id, feed_id, title, author, description, content, url,
		                       image_url, published_at, language, needs_manual_review,
		                       summary, translated_from, selected, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		article.ID, article.FeedID, article.Title, article.Author, article.Description,
		article.Content, article.URL, article.ImageURL, article.PublishedAt,
		article.Language, article.NeedsManualReview, article.Summary,
		nullString(article.TranslatedFrom), article.Selected,
		article.CreatedAt, article.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("記事の作成に失敗しました: %w", err)
	}
	return nil
}

// Update は既存記事を上書き更新する（再処理の永続化用）。
func (r *PostgresArticleRepo) Update(ctx context.Context, article *model.Article) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE articles SET
		    title = $2, author = $3, description = $4, content = $5,
		    language = $6, needs_manual_review = $7, summary = $8,
		    selected = $9, updated_at = $10
		 WHERE id = $1`,
		article.ID, article.Title, article.Author, article.Description, article.Content,
		article.Language, article.NeedsManualReview, article.Summary,
		article.Selected, article.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("記事の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateSummary は記事のサマリーのみを更新する。
func (r *PostgresArticleRepo) UpdateSummary(ctx context.Context, id, summary string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE articles SET summary = $2, updated_at = now() WHERE id = $1`,
		id, summary,
	)
	if err != nil {
		return fmt.Errorf("記事サマリーの更新に失敗しました: %w", err)
	}
	return nil
}

// List はフィルタ条件に一致する記事を作成日時降順で返す。
func (r *PostgresArticleRepo) List(ctx context.Context, filter ArticleFilter, limit, offset int) ([]*model.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles WHERE TRUE`
	args := []interface{}{}
	argIndex := 1

	if filter.FeedID != "" {
		query += fmt.Sprintf(" AND feed_id = $%d", argIndex)
		args = append(args, filter.FeedID)
		argIndex++
	}
	if filter.NeedsReview != nil {
		query += fmt.Sprintf(" AND needs_manual_review = $%d", argIndex)
		args = append(args, *filter.NeedsReview)
		argIndex++
	}
	if filter.Language != "" {
		query += fmt.Sprintf(" AND language = $%d", argIndex)
		args = append(args, filter.Language)
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanArticles(rows)
}

// ListByIssue は号に割り当てられた記事をセクション・割り当て順で返す。
func (r *PostgresArticleRepo) ListByIssue(ctx context.Context, issueID string) ([]*model.Article, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT a.id, a.feed_id, a.title, a.author, a.description, a.content, a.url,
		        a.image_url, a.published_at, a.language, a.needs_manual_review,
		        a.summary, a.translated_from, a.selected, a.created_at, a.updated_at
		 FROM articles a
		 JOIN issue_articles ia ON ia.article_id = a.id
		 JOIN issue_sections s ON s.id = ia.section_id
		 WHERE s.issue_id = $1
		 ORDER BY s.position ASC, ia.position ASC`,
		issueID,
	)
	if err != nil {
		return nil, fmt.Errorf("号の記事一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return scanArticles(rows)
}

// MarkSelected は記事群の選択フラグを設定する。
func (r *PostgresArticleRepo) MarkSelected(ctx context.Context, ids []string, selected bool) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.db.ExecContext(ctx,
		`UPDATE articles SET selected = $2, updated_at = now() WHERE id = ANY($1)`,
		pq.StringArray(ids), selected,
	)
	if err != nil {
		return fmt.Errorf("記事の選択フラグの更新に失敗しました: %w", err)
	}
	return nil
}

func scanArticles(rows *sql.Rows) ([]*model.Article, error) {
	var articles []*model.Article
	for rows.Next() {
		article, err := scanArticle(rows)
		if err != nil {
			return nil, fmt.Errorf("記事行の読み取りに失敗しました: %w", err)
		}
		articles = append(articles, article)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("記事一覧の走査に失敗しました: %w", err)
	}
	return articles, nil
}

func scanArticle(row rowScanner) (*model.Article, error) {
	article := &model.Article{}
	var publishedAt sql.NullTime
	var translatedFrom sql.NullString

	err := row.Scan(
		&article.ID, &article.FeedID, &article.Title, &article.Author,
		&article.Description, &article.Content, &article.URL, &article.ImageURL,
		&publishedAt, &article.Language, &article.NeedsManualReview,
		&article.Summary, &translatedFrom, &article.Selected,
		&article.CreatedAt, &article.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if publishedAt.Valid {
		article.PublishedAt = &publishedAt.Time
	}
	article.TranslatedFrom = nullStringValue(translatedFrom)
	return article, nil
}

var _ ArticleRepository = (*PostgresArticleRepo)(nil)
