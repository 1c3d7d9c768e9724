package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hitoshi/globalnews/internal/model"
)

// ErrorResponseBody はAPIエラーレスポンスの統一フォーマット。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteAppError はAppErrorの分類をHTTPステータスへ対応付けて
// 統一エラーフォーマットで書き込む。
// validation→400、not_found→404、invalid_state_transition→409、
// enrichment→502、database・未分類→500。
func WriteAppError(w http.ResponseWriter, err error) {
	var appErr *model.AppError
	if !errors.As(err, &appErr) {
		WriteInternalServerError(w)
		return
	}

	switch appErr.Kind {
	case model.KindValidation:
		writeErrorResponse(w, http.StatusBadRequest, ErrorResponseBody{
			Code:     "VALIDATION_ERROR",
			Message:  appErr.Message,
			Category: "request",
			Action:   "リクエスト内容を確認して再度お試しください。",
		})
	case model.KindNotFound:
		writeErrorResponse(w, http.StatusNotFound, ErrorResponseBody{
			Code:     "NOT_FOUND",
			Message:  appErr.Message,
			Category: "request",
			Action:   "指定したIDを確認してください。",
		})
	case model.KindInvalidStateTransition:
		writeErrorResponse(w, http.StatusConflict, ErrorResponseBody{
			Code:     "INVALID_STATE_TRANSITION",
			Message:  appErr.Message,
			Category: "state",
			Action:   "現在の状態を取得し直してから操作してください。",
		})
	case model.KindEnrichment:
		writeErrorResponse(w, http.StatusBadGateway, ErrorResponseBody{
			Code:     "ENRICHMENT_FAILED",
			Message:  "言語モデル処理に失敗しました。",
			Category: "enrichment",
			Action:   "しばらく待ってから再度お試しください。",
		})
	default:
		// database分類を含む。内部詳細はログのみに残す
		WriteInternalServerError(w)
	}
}

// WriteInternalServerError は内部サーバーエラーの統一レスポンスを書き込む。
// 詳細はログのみに記録し、クライアントには一般的なメッセージを返す。
func WriteInternalServerError(w http.ResponseWriter) {
	writeErrorResponse(w, http.StatusInternalServerError, ErrorResponseBody{
		Code:     "INTERNAL_ERROR",
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	})
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, body ErrorResponseBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(body)
}
