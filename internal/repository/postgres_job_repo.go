package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hitoshi/globalnews/internal/model"
)

// PostgresJobRepo はPostgreSQLを使用した翻訳ジョブリポジトリ。
// 状態遷移のガードはすべてWHERE句で行い、終端状態の不変性をSQLレベルで保証する。
type PostgresJobRepo struct {
	db *sql.DB
}

// NewPostgresJobRepo はPostgresJobRepoを生成する。
func NewPostgresJobRepo(db *sql.DB) *PostgresJobRepo {
	return &PostgresJobRepo{db: db}
}

const jobColumns = `id, scope_type, scope_ref, target_language, status,
       result, error_detail, lease_expires_at, created_at, updated_at`

// Insert は新規ジョブをpending状態で作成する。
// 同一対象・同一言語の非終端ジョブが存在する場合は部分一意インデックスにより
// 一意制約違反が返る（呼び出し側が既存ジョブを再検索する）。
func (r *PostgresJobRepo) Insert(ctx context.Context, job *model.TranslationJob) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO translation_jobs
		    (id, scope_type, scope_ref, target_language, status, error_detail, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, '', $6, $7)`,
		job.ID, string(job.ScopeType), job.ScopeRef, job.TargetLanguage,
		string(model.JobStatusPending), job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("翻訳ジョブの作成に失敗しました: %w", err)
	}
	job.Status = model.JobStatusPending
	return nil
}

// FindByID は指定IDのジョブを取得する。見つからない場合はnilを返す。
func (r *PostgresJobRepo) FindByID(ctx context.Context, id string) (*model.TranslationJob, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM translation_jobs WHERE id = $1`, id)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("翻訳ジョブの取得に失敗しました: %w", err)
	}
	return job, nil
}

// FindActiveByScope は同一対象・同一言語の非終端ジョブを検索する。見つからない場合はnilを返す。
func (r *PostgresJobRepo) FindActiveByScope(ctx context.Context, scopeType model.JobScopeType, scopeRef, targetLanguage string) (*model.TranslationJob, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM translation_jobs
		 WHERE scope_type = $1 AND scope_ref = $2 AND target_language = $3
		   AND status IN ('pending', 'running')`,
		string(scopeType), scopeRef, targetLanguage,
	)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("非終端ジョブの検索に失敗しました: %w", err)
	}
	return job, nil
}

// List はフィルタ条件に一致するジョブを作成日時降順で返す。
func (r *PostgresJobRepo) List(ctx context.Context, filter JobFilter, limit, offset int) ([]*model.TranslationJob, error) {
	query := `SELECT ` + jobColumns + ` FROM translation_jobs WHERE TRUE`
	args := []interface{}{}
	argIndex := 1

	if filter.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIndex)
		args = append(args, string(filter.Status))
		argIndex++
	}
	if filter.ScopeType != "" {
		query += fmt.Sprintf(" AND scope_type = $%d", argIndex)
		args = append(args, string(filter.ScopeType))
		argIndex++
	}

	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d OFFSET $%d", argIndex, argIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("翻訳ジョブ一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var jobs []*model.TranslationJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("翻訳ジョブ行の読み取りに失敗しました: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("翻訳ジョブ一覧の走査に失敗しました: %w", err)
	}
	return jobs, nil
}

// ClaimPending は最古のpendingジョブを1件、FOR UPDATE SKIP LOCKEDで排他的に取得し、
// running状態とリース期限を設定して返す。対象がない場合はnilを返す。
// 複数ワーカーが同時に動作しても同一ジョブが二重に取得されることはない。
func (r *PostgresJobRepo) ClaimPending(ctx context.Context, lease time.Duration) (*model.TranslationJob, error) {
	leaseInterval := fmt.Sprintf("%d seconds", int(lease.Seconds()))

	row := r.db.QueryRowContext(ctx,
		`UPDATE translation_jobs
		 SET status = 'running', lease_expires_at = now() + $1::interval, updated_at = now()
		 WHERE id = (
		     SELECT id FROM translation_jobs
		     WHERE status = 'pending'
		     ORDER BY created_at ASC
		     LIMIT 1
		     FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		leaseInterval,
	)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pendingジョブの取得に失敗しました: %w", err)
	}
	return job, nil
}

// MarkSucceeded はrunning状態のジョブをsucceededへ遷移させ、結果ペイロードを記録する。
func (r *PostgresJobRepo) MarkSucceeded(ctx context.Context, id string, result *model.JobResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("結果ペイロードのシリアライズに失敗しました: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`UPDATE translation_jobs
		 SET status = 'succeeded', result = $2, lease_expires_at = NULL, updated_at = now()
		 WHERE id = $1 AND status = 'running'`,
		id, payload,
	)
	if err != nil {
		return fmt.Errorf("ジョブの完了記録に失敗しました: %w", err)
	}
	return nil
}

// MarkFailed はrunning状態のジョブをfailedへ遷移させ、エラー詳細を記録する。
func (r *PostgresJobRepo) MarkFailed(ctx context.Context, id, errorDetail string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE translation_jobs
		 SET status = 'failed', error_detail = $2, lease_expires_at = NULL, updated_at = now()
		 WHERE id = $1 AND status = 'running'`,
		id, errorDetail,
	)
	if err != nil {
		return fmt.Errorf("ジョブの失敗記録に失敗しました: %w", err)
	}
	return nil
}

// ReapExpired はリース期限切れのrunningジョブをpendingへ戻し、戻した件数を返す。
func (r *PostgresJobRepo) ReapExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE translation_jobs
		 SET status = 'pending', lease_expires_at = NULL, updated_at = now()
		 WHERE status = 'running' AND lease_expires_at < now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("期限切れジョブの回収に失敗しました: %w", err)
	}

	reaped, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("回収件数の取得に失敗しました: %w", err)
	}
	return reaped, nil
}

func scanJob(row rowScanner) (*model.TranslationJob, error) {
	job := &model.TranslationJob{}
	var status, scopeType string
	var result []byte
	var leaseExpiresAt sql.NullTime

	err := row.Scan(
		&job.ID, &scopeType, &job.ScopeRef, &job.TargetLanguage, &status,
		&result, &job.ErrorDetail, &leaseExpiresAt, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	job.ScopeType = model.JobScopeType(scopeType)
	job.Status = model.JobStatus(status)
	if leaseExpiresAt.Valid {
		job.LeaseExpiresAt = &leaseExpiresAt.Time
	}
	if len(result) > 0 {
		var jr model.JobResult
		if err := json.Unmarshal(result, &jr); err != nil {
			return nil, fmt.Errorf("結果ペイロードのデシリアライズに失敗しました: %w", err)
		}
		job.Result = &jr
	}
	return job, nil
}

var _ JobRepository = (*PostgresJobRepo)(nil)
