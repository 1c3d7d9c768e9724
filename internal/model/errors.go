package model

import (
	"errors"
	"fmt"
)

// ErrorKind はパイプライン全体で使用するエラー分類を表す。
// 呼び出し側は分類に基づいてリトライ可否とHTTPステータスを決定する。
type ErrorKind string

const (
	// KindValidation は不正な入力。I/O実行前に拒否され、リトライされない。
	KindValidation ErrorKind = "validation"
	// KindDatabase はストア障害またはクエリ失敗。バッチ/サイクル単位で中断される。
	KindDatabase ErrorKind = "database"
	// KindEnrichment は言語モデル呼び出しの失敗またはタイムアウト。
	// 記事単位で隔離され、バッチは継続する。
	KindEnrichment ErrorKind = "enrichment"
	// KindInvalidStateTransition は号/ジョブの状態機械に違反する遷移。
	// 同期的に拒否され、副作用は適用されない。
	KindInvalidStateTransition ErrorKind = "invalid_state_transition"
	// KindNotFound は対象エンティティの未検出。
	KindNotFound ErrorKind = "not_found"
)

// AppError はパイプラインの構造化エラー。
// 分類（Kind）、発生操作（Op）、人間可読な詳細（Message）を持ち、
// 下位エラーをラップする。生のドライバ例外をそのまま伝播させない。
type AppError struct {
	Kind    ErrorKind
	Op      string // 失敗した操作名（例: "dedup.FilterNew"）
	Message string
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", e.Kind, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Kind, e.Op, e.Message)
}

// Unwrap はラップされた下位エラーを返す。
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(op, message string) *AppError {
	return &AppError{Kind: KindValidation, Op: op, Message: message}
}

// NewDatabaseError はストア障害エラーを生成する。下位エラーを必ずラップする。
func NewDatabaseError(op string, err error) *AppError {
	return &AppError{Kind: KindDatabase, Op: op, Message: "ストア操作に失敗しました", Err: err}
}

// NewEnrichmentError は言語モデル呼び出しの失敗エラーを生成する。
func NewEnrichmentError(op string, err error) *AppError {
	return &AppError{Kind: KindEnrichment, Op: op, Message: "言語モデル呼び出しに失敗しました", Err: err}
}

// NewInvalidStateTransitionError は状態遷移違反エラーを生成する。
func NewInvalidStateTransitionError(op, message string) *AppError {
	return &AppError{Kind: KindInvalidStateTransition, Op: op, Message: message}
}

// NewNotFoundError はエンティティ未検出エラーを生成する。
func NewNotFoundError(op, message string) *AppError {
	return &AppError{Kind: KindNotFound, Op: op, Message: message}
}

// KindOf はエラーから分類を取り出す。AppErrorでない場合は空文字列を返す。
func KindOf(err error) ErrorKind {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// IsKind はエラーが指定分類に属するかを返す。
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
