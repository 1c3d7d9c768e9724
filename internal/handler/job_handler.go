package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/globalnews/internal/model"
	"github.com/hitoshi/globalnews/internal/repository"
)

// TranslationQueueInterface はジョブハンドラーが必要とするキューインターフェース。
type TranslationQueueInterface interface {
	Enqueue(ctx context.Context, scopeType model.JobScopeType, scopeRef, target string) (*model.TranslationJob, bool, error)
	GetStatus(ctx context.Context, id string) (*model.TranslationJob, error)
	List(ctx context.Context, filter repository.JobFilter, limit, offset int) ([]*model.TranslationJob, error)
}

// JobHandler は翻訳ジョブのHTTPハンドラー。
type JobHandler struct {
	queue TranslationQueueInterface
}

// NewJobHandler はJobHandlerを生成する。
func NewJobHandler(queue TranslationQueueInterface) *JobHandler {
	return &JobHandler{queue: queue}
}

// enqueueRequest は翻訳ジョブ登録リクエストのボディ。
type enqueueRequest struct {
	ScopeType      string `json:"scope_type"`
	ScopeRef       string `json:"scope_ref"`
	TargetLanguage string `json:"target_language"`
}

// jobResponse は翻訳ジョブのAPIレスポンス。
type jobResponse struct {
	ID             string           `json:"id"`
	ScopeType      string           `json:"scope_type"`
	ScopeRef       string           `json:"scope_ref"`
	TargetLanguage string           `json:"target_language"`
	Status         string           `json:"status"`
	Result         *model.JobResult `json:"result,omitempty"`
	ErrorDetail    string           `json:"error_detail,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Enqueue は翻訳ジョブを登録する。
// POST /api/translations
// 新規作成時は202、冪等化で既存ジョブが返る場合は200を返す。
func (h *JobHandler) Enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequestBody(w)
		return
	}

	job, created, err := h.queue.Enqueue(r.Context(),
		model.JobScopeType(req.ScopeType), req.ScopeRef, req.TargetLanguage)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusAccepted
	}
	writeJSON(w, status, toJobResponse(job))
}

// Get はジョブの状態を照会する。
// GET /api/translations/{id}
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	job, err := h.queue.GetStatus(r.Context(), jobID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(job))
}

// List はジョブ一覧をフィルタ付きで返す。
// GET /api/translations?status=&scope_type=&limit=&offset=
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := repository.JobFilter{
		Status:    model.JobStatus(q.Get("status")),
		ScopeType: model.JobScopeType(q.Get("scope_type")),
	}
	limit := parseIntParam(q.Get("limit"), 0)
	offset := parseIntParam(q.Get("offset"), 0)

	jobs, err := h.queue.List(r.Context(), filter, limit, offset)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	out := make([]jobResponse, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, toJobResponse(job))
	}
	writeJSON(w, http.StatusOK, out)
}

// toJobResponse はmodel.TranslationJobからAPIレスポンスに変換する。
func toJobResponse(job *model.TranslationJob) jobResponse {
	return jobResponse{
		ID:             job.ID,
		ScopeType:      string(job.ScopeType),
		ScopeRef:       job.ScopeRef,
		TargetLanguage: job.TargetLanguage,
		Status:         string(job.Status),
		Result:         job.Result,
		ErrorDetail:    job.ErrorDetail,
		CreatedAt:      job.CreatedAt,
		UpdatedAt:      job.UpdatedAt,
	}
}
