package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/qaboard/internal/auth"
	"github.com/hitoshi/qaboard/internal/middleware"
	"github.com/hitoshi/qaboard/internal/model"
)

// --- モック定義 ---

// mockQuestionService はQuestionServiceInterfaceのモック実装。
type mockQuestionService struct {
	createFn     func(ctx context.Context, principal *model.Principal, content string) (*model.Question, error)
	listAllFn    func(ctx context.Context) ([]*model.Question, error)
	deleteFn     func(ctx context.Context, principal *model.Principal, questionID string) error
	editFn       func(ctx context.Context, principal *model.Principal, questionID, content string) (*model.Question, error)
	listByUserFn func(ctx context.Context, userID string) ([]*model.Question, error)
}

func (m *mockQuestionService) Create(ctx context.Context, principal *model.Principal, content string) (*model.Question, error) {
	if m.createFn != nil {
		return m.createFn(ctx, principal, content)
	}
	return &model.Question{ID: "q-1", Content: content, UserID: principal.UserID}, nil
}

func (m *mockQuestionService) ListAll(ctx context.Context) ([]*model.Question, error) {
	if m.listAllFn != nil {
		return m.listAllFn(ctx)
	}
	return nil, nil
}

func (m *mockQuestionService) Delete(ctx context.Context, principal *model.Principal, questionID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, principal, questionID)
	}
	return nil
}

func (m *mockQuestionService) Edit(ctx context.Context, principal *model.Principal, questionID, content string) (*model.Question, error) {
	if m.editFn != nil {
		return m.editFn(ctx, principal, questionID, content)
	}
	return &model.Question{ID: questionID, Content: content, UserID: principal.UserID}, nil
}

func (m *mockQuestionService) ListByUser(ctx context.Context, userID string) ([]*model.Question, error) {
	if m.listByUserFn != nil {
		return m.listByUserFn(ctx, userID)
	}
	return nil, nil
}

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	signupFn  func(ctx context.Context, in auth.SignupInput) (*model.User, error)
	signinFn  func(ctx context.Context, userName, password string) (*model.Session, error)
	signoutFn func(ctx context.Context, token string) (*model.Principal, error)
}

func (m *mockAuthService) Signup(ctx context.Context, in auth.SignupInput) (*model.User, error) {
	if m.signupFn != nil {
		return m.signupFn(ctx, in)
	}
	return &model.User{ID: "user-new", UserName: in.UserName}, nil
}

func (m *mockAuthService) Signin(ctx context.Context, userName, password string) (*model.Session, error) {
	if m.signinFn != nil {
		return m.signinFn(ctx, userName, password)
	}
	return &model.Session{Token: "token-abc", UserID: "user-1", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (m *mockAuthService) Signout(ctx context.Context, token string) (*model.Principal, error) {
	if m.signoutFn != nil {
		return m.signoutFn(ctx, token)
	}
	return &model.Principal{Token: token, UserID: "user-1"}, nil
}

// mockUserService はUserServiceInterfaceのモック実装。
type mockUserService struct {
	getProfileFn func(ctx context.Context, userID string) (*model.User, error)
	deleteUserFn func(ctx context.Context, principal *model.Principal, userID string) error
}

func (m *mockUserService) GetProfile(ctx context.Context, userID string) (*model.User, error) {
	if m.getProfileFn != nil {
		return m.getProfileFn(ctx, userID)
	}
	return &model.User{ID: userID}, nil
}

func (m *mockUserService) DeleteUser(ctx context.Context, principal *model.Principal, userID string) error {
	if m.deleteUserFn != nil {
		return m.deleteUserFn(ctx, principal, userID)
	}
	return nil
}

// mockSigninRecorder はSigninRecorderのモック実装。
type mockSigninRecorder struct {
	results []string
}

func (m *mockSigninRecorder) RecordSignin(result string) {
	m.results = append(m.results, result)
}

// mockTokenValidator はmiddleware.TokenValidatorのモック実装。
// tokensに登録されたトークンのみ有効とする。
type mockTokenValidator struct {
	tokens map[string]*model.Principal
}

func (m *mockTokenValidator) ValidateToken(ctx context.Context, token string) (*model.Principal, error) {
	if p, ok := m.tokens[token]; ok {
		return p, nil
	}
	return nil, model.NewNotSignedInError()
}

// pingerFunc は関数をdatabase.Pingerとして扱うアダプタ。
type pingerFunc func(ctx context.Context) error

func (f pingerFunc) PingContext(ctx context.Context) error {
	return f(ctx)
}

// --- ヘルパー ---

// withPrincipal はリクエストのコンテキストにリクエスト主体を注入する。
func withPrincipal(r *http.Request, userID string, role model.Role) *http.Request {
	principal := &model.Principal{Token: "token-" + userID, UserID: userID, Role: role}
	return r.WithContext(middleware.ContextWithPrincipal(r.Context(), principal))
}

// decodeErrorBody はエラーレスポンスのボディをデコードする。
func decodeErrorBody(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body
}

// decodeBody はレスポンスボディを任意の型にデコードする。
func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

// withURLParam はchiのURLパラメータをリクエストに設定する。
func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
