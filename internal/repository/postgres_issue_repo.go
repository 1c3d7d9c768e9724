package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/globalnews/internal/model"
)

// PostgresIssueRepo はPostgreSQLを使用したニュースレター号リポジトリ。
type PostgresIssueRepo struct {
	db *sql.DB
}

// NewPostgresIssueRepo はPostgresIssueRepoを生成する。
func NewPostgresIssueRepo(db *sql.DB) *PostgresIssueRepo {
	return &PostgresIssueRepo{db: db}
}

// CreateDraft はdraft状態の号を作成する。
// issue_numberはINSERT内のサブクエリでmax+1を計算して採番する。
// 並行作成が同一番号で衝突した場合はissue_numberの一意制約違反が返り、
// サービス層がリトライする。採番された番号はissue.IssueNumberに書き戻される。
func (r *PostgresIssueRepo) CreateDraft(ctx context.Context, issue *model.Issue) error {
	metadata, err := json.Marshal(issue.Metadata)
	if err != nil {
		return fmt.Errorf("メタデータのシリアライズに失敗しました: %w", err)
	}

	err = r.db.QueryRowContext(ctx,
		`INSERT INTO newsletter_issues
		    (id, issue_number, title, subtitle, language, status, metadata, created_at, updated_at)
		 VALUES ($1,
		         (SELECT COALESCE(MAX(issue_number), 0) + 1 FROM newsletter_issues),
		         $2, $3, $4, $5, $6, $7, $8)
		 RETURNING issue_number`,
		issue.ID, issue.Title, issue.Subtitle, issue.Language,
		string(model.IssueStatusDraft), metadata, issue.CreatedAt, issue.UpdatedAt,
	).Scan(&issue.IssueNumber)
	if err != nil {
		return fmt.Errorf("号の作成に失敗しました: %w", err)
	}

	issue.Status = model.IssueStatusDraft
	return nil
}

// FindByID は号をセクションツリー込みで取得する。見つからない場合はnilを返す。
func (r *PostgresIssueRepo) FindByID(ctx context.Context, id string) (*model.Issue, error) {
	issue := &model.Issue{}
	var publishedAt sql.NullTime
	var status string
	var metadata []byte

	err := r.db.QueryRowContext(ctx,
		`SELECT id, issue_number, title, subtitle, language, status,
		        published_at, metadata, created_at, updated_at
		 FROM newsletter_issues WHERE id = $1`,
		id,
	).Scan(
		&issue.ID, &issue.IssueNumber, &issue.Title, &issue.Subtitle,
		&issue.Language, &status, &publishedAt, &metadata,
		&issue.CreatedAt, &issue.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("号の取得に失敗しました: %w", err)
	}

	issue.Status = model.IssueStatus(status)
	if publishedAt.Valid {
		issue.PublishedAt = &publishedAt.Time
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &issue.Metadata); err != nil {
			return nil, fmt.Errorf("メタデータのデシリアライズに失敗しました: %w", err)
		}
	}

	sections, err := r.loadSections(ctx, id)
	if err != nil {
		return nil, err
	}
	issue.Sections = sections

	return issue, nil
}

// loadSections は号のセクションと記事割り当てをposition順で読み込む。
func (r *PostgresIssueRepo) loadSections(ctx context.Context, issueID string) ([]model.Section, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, heading, position FROM issue_sections
		 WHERE issue_id = $1 ORDER BY position ASC`,
		issueID,
	)
	if err != nil {
		return nil, fmt.Errorf("セクション一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sections []model.Section
	for rows.Next() {
		var s model.Section
		if err := rows.Scan(&s.ID, &s.Heading, &s.Position); err != nil {
			return nil, fmt.Errorf("セクション行の読み取りに失敗しました: %w", err)
		}
		sections = append(sections, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("セクション一覧の走査に失敗しました: %w", err)
	}

	for i := range sections {
		assignments, err := r.loadAssignments(ctx, sections[i].ID)
		if err != nil {
			return nil, err
		}
		sections[i].Articles = assignments
	}

	return sections, nil
}

func (r *PostgresIssueRepo) loadAssignments(ctx context.Context, sectionID string) ([]model.ArticleAssignment, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, article_id, position, display_title FROM issue_articles
		 WHERE section_id = $1 ORDER BY position ASC`,
		sectionID,
	)
	if err != nil {
		return nil, fmt.Errorf("記事割り当ての取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var assignments []model.ArticleAssignment
	for rows.Next() {
		var a model.ArticleAssignment
		if err := rows.Scan(&a.ID, &a.ArticleID, &a.Position, &a.DisplayTitle); err != nil {
			return nil, fmt.Errorf("記事割り当て行の読み取りに失敗しました: %w", err)
		}
		assignments = append(assignments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("記事割り当ての走査に失敗しました: %w", err)
	}
	return assignments, nil
}

// NextIssueNumber は次に採番される号番号を返す（読み取り専用のプレビュー）。
func (r *PostgresIssueRepo) NextIssueNumber(ctx context.Context) (int, error) {
	var next int
	err := r.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(issue_number), 0) + 1 FROM newsletter_issues`,
	).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("次号番号の取得に失敗しました: %w", err)
	}
	return next, nil
}

// ReplaceSections は号のセクションと記事割り当てを同一トランザクションで差し替える。
// draft状態の行をFOR UPDATEでロックしてから差し替えることで、
// publish/archiveとの競合時にも編集がdraft以外へ漏れないことを保証する。
func (r *PostgresIssueRepo) ReplaceSections(ctx context.Context, issueID string, sections []model.Section) (ok bool, err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("トランザクションの開始に失敗しました: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var status string
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM newsletter_issues WHERE id = $1 FOR UPDATE`,
		issueID,
	).Scan(&status)
	if err == sql.ErrNoRows {
		_ = tx.Rollback()
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("号のロック取得に失敗しました: %w", err)
	}

	if !model.IssueStatus(status).IsEditable() {
		_ = tx.Rollback()
		return false, nil
	}

	// 既存セクションを削除（issue_articlesはCASCADE削除される）
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM issue_sections WHERE issue_id = $1`, issueID); err != nil {
		return false, fmt.Errorf("既存セクションの削除に失敗しました: %w", err)
	}

	for _, section := range sections {
		sectionID := section.ID
		if sectionID == "" {
			sectionID = uuid.New().String()
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO issue_sections (id, issue_id, heading, position)
			 VALUES ($1, $2, $3, $4)`,
			sectionID, issueID, section.Heading, section.Position,
		); err != nil {
			return false, fmt.Errorf("セクションの作成に失敗しました: %w", err)
		}

		for _, assignment := range section.Articles {
			assignmentID := assignment.ID
			if assignmentID == "" {
				assignmentID = uuid.New().String()
			}
			if _, err = tx.ExecContext(ctx,
				`INSERT INTO issue_articles (id, section_id, article_id, position, display_title)
				 VALUES ($1, $2, $3, $4, $5)`,
				assignmentID, sectionID, assignment.ArticleID, assignment.Position,
				assignment.DisplayTitle,
			); err != nil {
				return false, fmt.Errorf("記事割り当ての作成に失敗しました: %w", err)
			}
		}
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE newsletter_issues SET updated_at = now() WHERE id = $1`, issueID); err != nil {
		return false, fmt.Errorf("号の更新時刻の設定に失敗しました: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("トランザクションのコミットに失敗しました: %w", err)
	}
	return true, nil
}

// UpdateStatus は号の状態をfromからtoへ遷移させる。
// WHERE status = from のガード付きUPDATEであり、遷移できた場合のみtrueを返す。
func (r *PostgresIssueRepo) UpdateStatus(ctx context.Context, id string, from, to model.IssueStatus, publishedAt *time.Time) (bool, error) {
	var result sql.Result
	var err error

	if publishedAt != nil {
		result, err = r.db.ExecContext(ctx,
			`UPDATE newsletter_issues
			 SET status = $3, published_at = $4, updated_at = now()
			 WHERE id = $1 AND status = $2`,
			id, string(from), string(to), *publishedAt,
		)
	} else {
		result, err = r.db.ExecContext(ctx,
			`UPDATE newsletter_issues
			 SET status = $3, updated_at = now()
			 WHERE id = $1 AND status = $2`,
			id, string(from), string(to),
		)
	}
	if err != nil {
		return false, fmt.Errorf("号の状態遷移に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	return affected > 0, nil
}

var _ IssueRepository = (*PostgresIssueRepo)(nil)
