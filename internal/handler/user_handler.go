package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/qaboard/internal/model"
)

const statusUserDeleted = "USER SUCCESSFULLY DELETED"

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	GetProfile(ctx context.Context, userID string) (*model.User, error)
	DeleteUser(ctx context.Context, principal *model.Principal, userID string) error
}

// UserHandler はユーザープロフィールと管理者向けユーザー操作のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{service: service}
}

// userProfileResponse はユーザープロフィールのレスポンス。
// パスワードハッシュとロールは含めない。
type userProfileResponse struct {
	ID        string `json:"id"`
	UserName  string `json:"user_name"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	AboutMe   string `json:"about_me"`
}

// GetProfile は指定ユーザーのプロフィールを返す。
// GET /userprofile/{userId}
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	if requirePrincipal(w, r) == nil {
		return
	}

	user, err := h.service.GetProfile(r.Context(), chi.URLParam(r, "userId"))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, userProfileResponse{
		ID:        user.ID,
		UserName:  user.UserName,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		AboutMe:   user.AboutMe,
	})
}

// DeleteUser は指定ユーザーとそのセッション・質問を削除する。管理者のみ実行できる。
// DELETE /admin/user/{userId}
func (h *UserHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	principal := requirePrincipal(w, r)
	if principal == nil {
		return
	}

	userID := chi.URLParam(r, "userId")
	if err := h.service.DeleteUser(r.Context(), principal, userID); err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, userStatusResponse{ID: userID, Status: statusUserDeleted})
}
