package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/qaboard/internal/model"
)

// 質問操作のレスポンスステータス
const (
	statusQuestionCreated = "QUESTION CREATED"
	statusQuestionDeleted = "QUESTION DELETED"
	statusQuestionEdited  = "QUESTION EDITED"
)

// QuestionServiceInterface は質問ハンドラーが必要とするサービスインターフェース。
type QuestionServiceInterface interface {
	Create(ctx context.Context, principal *model.Principal, content string) (*model.Question, error)
	ListAll(ctx context.Context) ([]*model.Question, error)
	Delete(ctx context.Context, principal *model.Principal, questionID string) error
	Edit(ctx context.Context, principal *model.Principal, questionID, content string) (*model.Question, error)
	ListByUser(ctx context.Context, userID string) ([]*model.Question, error)
}

// QuestionHandler は質問関連のHTTPハンドラー。
type QuestionHandler struct {
	service QuestionServiceInterface
}

// NewQuestionHandler はQuestionHandlerを生成する。
func NewQuestionHandler(service QuestionServiceInterface) *QuestionHandler {
	return &QuestionHandler{service: service}
}

// questionRequest は質問の作成・編集リクエストのボディ。
// 本文の検証（空文字・文字数）はサニタイズ後にサービス層で行う。
type questionRequest struct {
	Content string `json:"content"`
}

// questionStatusResponse は質問の作成・削除・編集のレスポンス。
type questionStatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// questionDetailsResponse は質問一覧の要素。
type questionDetailsResponse struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

// Create は質問を作成する。
// POST /question/create
func (h *QuestionHandler) Create(w http.ResponseWriter, r *http.Request) {
	principal := requirePrincipal(w, r)
	if principal == nil {
		return
	}

	var req questionRequest
	if apiErr := decodeJSONBody(w, r, &req); apiErr != nil {
		handleServiceError(w, apiErr)
		return
	}

	q, err := h.service.Create(r.Context(), principal, req.Content)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, questionStatusResponse{ID: q.ID, Status: statusQuestionCreated})
}

// ListAll は全ユーザーの質問を返す。
// GET /question/all
func (h *QuestionHandler) ListAll(w http.ResponseWriter, r *http.Request) {
	if requirePrincipal(w, r) == nil {
		return
	}

	questions, err := h.service.ListAll(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toQuestionDetails(questions))
}

// Delete は質問を削除する。投稿者または管理者のみ実行できる。
// DELETE /question/delete/{questionId}
func (h *QuestionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	principal := requirePrincipal(w, r)
	if principal == nil {
		return
	}

	questionID := chi.URLParam(r, "questionId")
	if err := h.service.Delete(r.Context(), principal, questionID); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, questionStatusResponse{ID: questionID, Status: statusQuestionDeleted})
}

// Edit は質問本文を編集する。投稿者のみ実行できる。
// PUT /question/edit/{questionId}
func (h *QuestionHandler) Edit(w http.ResponseWriter, r *http.Request) {
	principal := requirePrincipal(w, r)
	if principal == nil {
		return
	}

	var req questionRequest
	if apiErr := decodeJSONBody(w, r, &req); apiErr != nil {
		handleServiceError(w, apiErr)
		return
	}

	q, err := h.service.Edit(r.Context(), principal, chi.URLParam(r, "questionId"), req.Content)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, questionStatusResponse{ID: q.ID, Status: statusQuestionEdited})
}

// ListByUser は指定ユーザーの質問を返す。
// GET /question/all/{userId}
func (h *QuestionHandler) ListByUser(w http.ResponseWriter, r *http.Request) {
	if requirePrincipal(w, r) == nil {
		return
	}

	questions, err := h.service.ListByUser(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, toQuestionDetails(questions))
}

// toQuestionDetails は質問一覧をレスポンス形式に変換する。空の場合も[]を返す。
func toQuestionDetails(questions []*model.Question) []questionDetailsResponse {
	resp := make([]questionDetailsResponse, 0, len(questions))
	for _, q := range questions {
		resp = append(resp, questionDetailsResponse{ID: q.ID, Content: q.Content})
	}
	return resp
}
