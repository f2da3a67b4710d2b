// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/hitoshi/qaboard/internal/auth"
	"github.com/hitoshi/qaboard/internal/model"
)

// accessTokenHeader はサインイン成功時にアクセストークンを返すレスポンスヘッダー名。
const accessTokenHeader = "access-token"

// 認証操作のレスポンスメッセージ
const (
	statusUserRegistered = "USER SUCCESSFULLY REGISTERED"
	messageSignedIn      = "SIGNED IN SUCCESSFULLY"
	messageSignedOut     = "SIGNED OUT SUCCESSFULLY"
)

// サインイン結果のメトリクスラベル
const (
	signinResultSuccess          = "success"
	signinResultUnknownUser      = "unknown_user"
	signinResultPasswordMismatch = "password_mismatch"
	signinResultInvalid          = "invalid"
	signinResultError            = "error"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Signup(ctx context.Context, in auth.SignupInput) (*model.User, error)
	Signin(ctx context.Context, userName, password string) (*model.Session, error)
	Signout(ctx context.Context, token string) (*model.Principal, error)
}

// SigninRecorder はサインイン試行の結果を記録するインターフェース。
type SigninRecorder interface {
	RecordSignin(result string)
}

// AuthHandler はユーザー登録・サインイン・サインアウトのHTTPハンドラー。
type AuthHandler struct {
	service  AuthServiceInterface
	recorder SigninRecorder
}

// NewAuthHandler はAuthHandlerを生成する。recorderがnilの場合はメトリクスを記録しない。
func NewAuthHandler(service AuthServiceInterface, recorder SigninRecorder) *AuthHandler {
	return &AuthHandler{
		service:  service,
		recorder: recorder,
	}
}

// signupRequest はユーザー登録リクエストのボディ。
type signupRequest struct {
	UserName  string `json:"user_name" validate:"required,max=64"`
	Email     string `json:"email" validate:"required,email,max=254"`
	Password  string `json:"password" validate:"required,min=8,max=72"`
	FirstName string `json:"first_name" validate:"max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	AboutMe   string `json:"about_me" validate:"max=1000"`
}

type userStatusResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type authMessageResponse struct {
	ID      string `json:"id"`
	Message string `json:"message"`
}

// Signup はユーザーを登録する。
// POST /user/signup
func (h *AuthHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if apiErr := decodeJSONBody(w, r, &req); apiErr != nil {
		handleServiceError(w, apiErr)
		return
	}

	user, err := h.service.Signup(r.Context(), auth.SignupInput{
		UserName:  req.UserName,
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
		AboutMe:   req.AboutMe,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, userStatusResponse{ID: user.ID, Status: statusUserRegistered})
}

// Signin はBasic認証ヘッダーのユーザー名とパスワードでサインインする。
// 発行したアクセストークンはaccess-tokenレスポンスヘッダーで返す。
// POST /user/signin
func (h *AuthHandler) Signin(w http.ResponseWriter, r *http.Request) {
	userName, password, ok := r.BasicAuth()
	if !ok || userName == "" {
		h.record(signinResultInvalid)
		handleServiceError(w, model.NewInvalidRequestError("authorizationヘッダーはBasic形式で指定してください"))
		return
	}

	session, err := h.service.Signin(r.Context(), userName, password)
	if err != nil {
		h.record(signinResultLabel(err))
		handleServiceError(w, err)
		return
	}
	h.record(signinResultSuccess)

	w.Header().Set(accessTokenHeader, session.Token)
	writeJSON(w, http.StatusOK, authMessageResponse{ID: session.UserID, Message: messageSignedIn})
}

// Signout はリクエストのアクセストークンを無効化する。
// POST /user/signout
func (h *AuthHandler) Signout(w http.ResponseWriter, r *http.Request) {
	principal := requirePrincipal(w, r)
	if principal == nil {
		return
	}

	signedOut, err := h.service.Signout(r.Context(), principal.Token)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, authMessageResponse{ID: signedOut.UserID, Message: messageSignedOut})
}

func (h *AuthHandler) record(result string) {
	if h.recorder != nil {
		h.recorder.RecordSignin(result)
	}
}

// signinResultLabel はサインインのエラーをメトリクスのラベルに変換する。
func signinResultLabel(err error) string {
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		return signinResultError
	}
	switch apiErr.Code {
	case model.ErrCodeUnknownUserName:
		return signinResultUnknownUser
	case model.ErrCodePasswordMismatch:
		return signinResultPasswordMismatch
	default:
		return signinResultError
	}
}
