package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/globalnews/internal/model"
	"github.com/hitoshi/globalnews/internal/newsletter"
)

// IssueServiceInterface は号ハンドラーが必要とするサービスインターフェース。
type IssueServiceInterface interface {
	CreateDraft(ctx context.Context, meta newsletter.DraftMeta) (*model.Issue, error)
	Get(ctx context.Context, issueID string) (*model.Issue, error)
	AssignArticles(ctx context.Context, issueID string, sections []model.Section) (*model.Issue, error)
	Publish(ctx context.Context, issueID string) (*model.Issue, error)
	Archive(ctx context.Context, issueID string) (*model.Issue, error)
}

// IssueHandler はニュースレター号管理のHTTPハンドラー。
type IssueHandler struct {
	service IssueServiceInterface
}

// NewIssueHandler はIssueHandlerを生成する。
func NewIssueHandler(service IssueServiceInterface) *IssueHandler {
	return &IssueHandler{service: service}
}

// createIssueRequest は号作成リクエストのボディ。
type createIssueRequest struct {
	Title    string            `json:"title"`
	Subtitle string            `json:"subtitle"`
	Language string            `json:"language"`
	Metadata map[string]string `json:"metadata"`
}

// assignArticlesRequest はセクション差し替えリクエストのボディ。
type assignArticlesRequest struct {
	Sections []sectionInput `json:"sections"`
}

type sectionInput struct {
	Heading  string            `json:"heading"`
	Articles []assignmentInput `json:"articles"`
}

type assignmentInput struct {
	ArticleID    string `json:"article_id"`
	DisplayTitle string `json:"display_title"`
}

// issueResponse は号のAPIレスポンス。
type issueResponse struct {
	ID          string            `json:"id"`
	IssueNumber int               `json:"issue_number"`
	Title       string            `json:"title"`
	Subtitle    string            `json:"subtitle,omitempty"`
	Language    string            `json:"language"`
	Status      string            `json:"status"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Sections    []sectionResponse `json:"sections"`
	CreatedAt   time.Time         `json:"created_at"`
}

type sectionResponse struct {
	Heading  string               `json:"heading"`
	Position int                  `json:"position"`
	Articles []assignmentResponse `json:"articles"`
}

type assignmentResponse struct {
	ArticleID    string `json:"article_id"`
	Position     int    `json:"position"`
	DisplayTitle string `json:"display_title,omitempty"`
}

// Create はdraft状態の号を作成する。
// POST /api/issues
func (h *IssueHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createIssueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequestBody(w)
		return
	}

	issue, err := h.service.CreateDraft(r.Context(), newsletter.DraftMeta{
		Title:    req.Title,
		Subtitle: req.Subtitle,
		Language: req.Language,
		Metadata: req.Metadata,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toIssueResponse(issue))
}

// Get は号をセクションツリー込みで取得する。
// GET /api/issues/{id}
func (h *IssueHandler) Get(w http.ResponseWriter, r *http.Request) {
	issueID := chi.URLParam(r, "id")

	issue, err := h.service.Get(r.Context(), issueID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toIssueResponse(issue))
}

// AssignArticles は号のセクション構成と記事割り当てを差し替える。
// PUT /api/issues/{id}/articles
func (h *IssueHandler) AssignArticles(w http.ResponseWriter, r *http.Request) {
	issueID := chi.URLParam(r, "id")

	var req assignArticlesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequestBody(w)
		return
	}

	sections := make([]model.Section, 0, len(req.Sections))
	for i, s := range req.Sections {
		assignments := make([]model.ArticleAssignment, 0, len(s.Articles))
		for j, a := range s.Articles {
			assignments = append(assignments, model.ArticleAssignment{
				ArticleID:    a.ArticleID,
				Position:     j,
				DisplayTitle: a.DisplayTitle,
			})
		}
		sections = append(sections, model.Section{
			Heading:  s.Heading,
			Position: i,
			Articles: assignments,
		})
	}

	issue, err := h.service.AssignArticles(r.Context(), issueID, sections)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toIssueResponse(issue))
}

// Publish は号をdraftからpublishedへ遷移させる。
// POST /api/issues/{id}/publish
func (h *IssueHandler) Publish(w http.ResponseWriter, r *http.Request) {
	issueID := chi.URLParam(r, "id")

	issue, err := h.service.Publish(r.Context(), issueID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toIssueResponse(issue))
}

// Archive は号をarchivedへ遷移させる。
// POST /api/issues/{id}/archive
func (h *IssueHandler) Archive(w http.ResponseWriter, r *http.Request) {
	issueID := chi.URLParam(r, "id")

	issue, err := h.service.Archive(r.Context(), issueID)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toIssueResponse(issue))
}

// toIssueResponse はmodel.IssueからAPIレスポンスに変換する。
func toIssueResponse(issue *model.Issue) issueResponse {
	sections := make([]sectionResponse, 0, len(issue.Sections))
	for _, s := range issue.Sections {
		assignments := make([]assignmentResponse, 0, len(s.Articles))
		for _, a := range s.Articles {
			assignments = append(assignments, assignmentResponse{
				ArticleID:    a.ArticleID,
				Position:     a.Position,
				DisplayTitle: a.DisplayTitle,
			})
		}
		sections = append(sections, sectionResponse{
			Heading:  s.Heading,
			Position: s.Position,
			Articles: assignments,
		})
	}

	return issueResponse{
		ID:          issue.ID,
		IssueNumber: issue.IssueNumber,
		Title:       issue.Title,
		Subtitle:    issue.Subtitle,
		Language:    issue.Language,
		Status:      string(issue.Status),
		PublishedAt: issue.PublishedAt,
		Metadata:    issue.Metadata,
		Sections:    sections,
		CreatedAt:   issue.CreatedAt,
	}
}
