package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/globalnews/internal/model"
)

// PostgresFeedRepo はPostgreSQLを使用したフィードリポジトリ。
type PostgresFeedRepo struct {
	db *sql.DB
}

// NewPostgresFeedRepo はPostgresFeedRepoを生成する。
func NewPostgresFeedRepo(db *sql.DB) *PostgresFeedRepo {
	return &PostgresFeedRepo{db: db}
}

const feedColumns = `id, name, feed_url, language, region, category, active,
       consecutive_errors, error_message, last_polled_at, created_at, updated_at`

// FindByID は指定IDのフィードを取得する。見つからない場合はnilを返す。
func (r *PostgresFeedRepo) FindByID(ctx context.Context, id string) (*model.Feed, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE id = $1`, id)

	feed, err := scanFeed(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	return feed, nil
}

// FindByFeedURL はフィードURLでフィードを検索する。見つからない場合はnilを返す。
func (r *PostgresFeedRepo) FindByFeedURL(ctx context.Context, feedURL string) (*model.Feed, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE feed_url = $1`, feedURL)

	feed, err := scanFeed(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("フィードURLによる検索に失敗しました: %w", err)
	}
	return feed, nil
}

// Create はフィードを作成する。
func (r *PostgresFeedRepo) Create(ctx context.Context, feed *model.Feed) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO feeds (id, name, feed_url, language, region, category, active,
		                    consecutive_errors, error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		feed.ID, feed.Name, feed.FeedURL, feed.Language, feed.Region, feed.Category,
		feed.Active, feed.ConsecutiveErrors, feed.ErrorMessage,
		feed.CreatedAt, feed.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("フィードの作成に失敗しました: %w", err)
	}
	return nil
}

// List は全フィードを作成日時昇順で返す。
func (r *PostgresFeedRepo) List(ctx context.Context) ([]*model.Feed, error) {
	return r.list(ctx, `SELECT `+feedColumns+` FROM feeds ORDER BY created_at ASC`)
}

// ListActive はポーリング対象のアクティブなフィードを返す。
func (r *PostgresFeedRepo) ListActive(ctx context.Context) ([]*model.Feed, error) {
	return r.list(ctx,
		`SELECT `+feedColumns+` FROM feeds WHERE active = TRUE ORDER BY created_at ASC`)
}

func (r *PostgresFeedRepo) list(ctx context.Context, query string) ([]*model.Feed, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("フィード一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var feeds []*model.Feed
	for rows.Next() {
		feed, err := scanFeed(rows)
		if err != nil {
			return nil, fmt.Errorf("フィード行の読み取りに失敗しました: %w", err)
		}
		feeds = append(feeds, feed)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フィード一覧の走査に失敗しました: %w", err)
	}
	return feeds, nil
}

// SetActive はフィードのアクティブフラグを更新する。
// 再有効化時は連続エラー回数とエラーメッセージをリセットし、
// 自動停止からの復帰を即座にポーリング対象へ戻す。
func (r *PostgresFeedRepo) SetActive(ctx context.Context, id string, active bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET
		    active = $2,
		    consecutive_errors = CASE WHEN $2 THEN 0 ELSE consecutive_errors END,
		    error_message = CASE WHEN $2 THEN '' ELSE error_message END,
		    updated_at = now()
		 WHERE id = $1`,
		id, active,
	)
	if err != nil {
		return fmt.Errorf("フィードのアクティブ状態の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdatePollState はポーリング結果を更新する。
func (r *PostgresFeedRepo) UpdatePollState(ctx context.Context, feed *model.Feed) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE feeds SET
		    consecutive_errors = $2, error_message = $3, last_polled_at = $4,
		    active = $5, updated_at = $6
		 WHERE id = $1`,
		feed.ID, feed.ConsecutiveErrors, feed.ErrorMessage, feed.LastPolledAt,
		feed.Active, feed.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("フィードのポーリング状態の更新に失敗しました: %w", err)
	}
	return nil
}

// rowScanner は*sql.Rowと*sql.Rowsの両方を受け付けるためのインターフェース。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFeed(row rowScanner) (*model.Feed, error) {
	feed := &model.Feed{}
	var lastPolledAt sql.NullTime

	err := row.Scan(
		&feed.ID, &feed.Name, &feed.FeedURL, &feed.Language, &feed.Region,
		&feed.Category, &feed.Active, &feed.ConsecutiveErrors, &feed.ErrorMessage,
		&lastPolledAt, &feed.CreatedAt, &feed.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastPolledAt.Valid {
		feed.LastPolledAt = &lastPolledAt.Time
	}
	return feed, nil
}

var _ FeedRepository = (*PostgresFeedRepo)(nil)

// 以下はリポジトリ共通のNULL変換ヘルパー。

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullStringValue(ns sql.NullString) string {
	if ns.Valid {
		return ns.String
	}
	return ""
}
