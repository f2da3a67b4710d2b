package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/qaboard/internal/auth"
	"github.com/hitoshi/qaboard/internal/cache"
	"github.com/hitoshi/qaboard/internal/metrics"
	"github.com/hitoshi/qaboard/internal/middleware"
	"github.com/hitoshi/qaboard/internal/question"
	"github.com/hitoshi/qaboard/internal/repository/memory"
	"github.com/hitoshi/qaboard/internal/security"
	"github.com/hitoshi/qaboard/internal/user"
)

// --- 統合テスト用のアプリケーション構築ヘルパー ---

// integrationApp はインメモリリポジトリと実サービスで構成したルーターを保持する。
type integrationApp struct {
	t           *testing.T
	router      http.Handler
	authService *auth.Service
	questions   *memory.QuestionRepo
	redis       *fakeRedis // トークンキャッシュ無効時はnil
}

// fakeRedis はcache.Clientのインメモリ実装。
type fakeRedis struct {
	mu   sync.Mutex
	data map[string]string
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, _ time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := value.([]byte); ok {
		f.data[key] = string(b)
	}
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.data)
}

var _ cache.Client = (*fakeRedis)(nil)

func newIntegrationApp(t *testing.T) *integrationApp {
	return buildIntegrationApp(t, false)
}

// newCachedIntegrationApp はトークン検証をRedisキャッシュ経由にした構成を返す。
func newCachedIntegrationApp(t *testing.T) *integrationApp {
	return buildIntegrationApp(t, true)
}

func buildIntegrationApp(t *testing.T, withTokenCache bool) *integrationApp {
	t.Helper()

	userRepo := memory.NewUserRepo()
	sessionRepo := memory.NewSessionRepo(userRepo)
	questionRepo := memory.NewQuestionRepo(userRepo)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	authService := auth.NewService(userRepo, sessionRepo, auth.NewBcryptHasher(bcrypt.MinCost),
		auth.ServiceConfig{SessionMaxAge: 3600})
	questionService := question.NewService(questionRepo, userRepo, security.NewContentSanitizer(),
		collector, question.ServiceConfig{})
	userService := user.NewService(userRepo, sessionRepo, questionRepo)

	var validator middleware.TokenValidator = authService
	var fake *fakeRedis
	if withTokenCache {
		fake = &fakeRedis{data: map[string]string{}}
		tokenCache := cache.NewTokenCache(fake, authService, time.Hour)
		authService.SetTokenRevoker(tokenCache)
		userService.SetTokenRevoker(tokenCache)
		validator = tokenCache
	}

	rl := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(1000, 1000))
	t.Cleanup(rl.Stop)

	router := NewRouter(&RouterDeps{
		TokenValidator:    validator,
		CORSAllowedOrigin: "*",
		RateLimiter:       rl,
		HTTPMetrics:       collector,
		MetricsHandler:    metrics.Handler(reg),
		AuthService:       authService,
		SigninRecorder:    collector,
		QuestionService:   questionService,
		UserService:       userService,
	})

	return &integrationApp{t: t, router: router, authService: authService, questions: questionRepo, redis: fake}
}

// do はリクエストを実行しレスポンスを返す。
func (a *integrationApp) do(method, path, token, body string) *httptest.ResponseRecorder {
	a.t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

// signupAndSignin はユーザーを登録してサインインし、ユーザーIDとアクセストークンを返す。
func (a *integrationApp) signupAndSignin(userName string) (string, string) {
	a.t.Helper()

	body := `{"user_name":"` + userName + `","email":"` + userName + `@example.com","password":"s3cret-pass"}`
	w := a.do(http.MethodPost, "/user/signup", "", body)
	if w.Code != http.StatusCreated {
		a.t.Fatalf("signup %s status = %d, body=%s", userName, w.Code, w.Body.String())
	}

	req := httptest.NewRequest(http.MethodPost, "/user/signin", nil)
	req.SetBasicAuth(userName, "s3cret-pass")
	w = httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		a.t.Fatalf("signin %s status = %d, body=%s", userName, w.Code, w.Body.String())
	}

	var resp authMessageResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		a.t.Fatalf("failed to decode signin response: %v", err)
	}
	token := w.Header().Get("access-token")
	if token == "" {
		a.t.Fatal("access-token header is empty")
	}
	return resp.ID, token
}

// createQuestion は質問を作成しIDを返す。
func (a *integrationApp) createQuestion(token, content string) string {
	a.t.Helper()
	body, _ := json.Marshal(questionRequest{Content: content})
	w := a.do(http.MethodPost, "/question/create", token, string(body))
	if w.Code != http.StatusCreated {
		a.t.Fatalf("create status = %d, body=%s", w.Code, w.Body.String())
	}
	var resp questionStatusResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		a.t.Fatalf("failed to decode create response: %v", err)
	}
	return resp.ID
}

// listAll は全質問の一覧を返す。
func (a *integrationApp) listAll(token string) []questionDetailsResponse {
	a.t.Helper()
	w := a.do(http.MethodGet, "/question/all", token, "")
	if w.Code != http.StatusOK {
		a.t.Fatalf("list status = %d, body=%s", w.Code, w.Body.String())
	}
	var resp []questionDetailsResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		a.t.Fatalf("failed to decode list response: %v", err)
	}
	return resp
}

// --- 統合テスト ---

func TestIntegration_CreateThenListAll(t *testing.T) {
	app := newIntegrationApp(t)
	_, token := app.signupAndSignin("alice")

	id := app.createQuestion(token, "Why is the sky blue?")
	if id == "" {
		t.Fatal("created question ID should not be empty")
	}

	list := app.listAll(token)
	if len(list) != 1 {
		t.Fatalf("len = %d, want 1", len(list))
	}
	if list[0].ID != id || list[0].Content != "Why is the sky blue?" {
		t.Errorf("list[0] = %+v", list[0])
	}
}

func TestIntegration_CreatedQuestionAppearsExactlyOnce(t *testing.T) {
	app := newIntegrationApp(t)
	_, token := app.signupAndSignin("alice")

	app.createQuestion(token, "first")
	id := app.createQuestion(token, "second")
	app.createQuestion(token, "third")

	count := 0
	for _, q := range app.listAll(token) {
		if q.ID == id {
			count++
			if q.Content != "second" {
				t.Errorf("content = %q, want %q", q.Content, "second")
			}
		}
	}
	if count != 1 {
		t.Errorf("question appears %d times, want 1", count)
	}
}

func TestIntegration_MarkupIsRejected(t *testing.T) {
	app := newIntegrationApp(t)
	_, token := app.signupAndSignin("alice")

	for _, content := range []string{
		`<script>alert(1)</script><b>Is Go fun?</b>`,
		`&lt;script&gt;alert(1)&lt;/script&gt;`,
	} {
		body, _ := json.Marshal(questionRequest{Content: content})
		w := app.do(http.MethodPost, "/question/create", token, string(body))
		if w.Code != http.StatusBadRequest {
			t.Errorf("create %q status = %d, want %d", content, w.Code, http.StatusBadRequest)
			continue
		}
		if got := decodeErrorBody(t, w); got.Code != "QUES-002" {
			t.Errorf("create %q code = %q, want QUES-002", content, got.Code)
		}
	}

	if list := app.listAll(token); len(list) != 0 {
		t.Errorf("no question should be stored: %+v", list)
	}
}

func TestIntegration_PlainTextWithAngleBracketsIsStoredExactly(t *testing.T) {
	app := newIntegrationApp(t)
	_, token := app.signupAndSignin("alice")
	const content = "Is 3 < 5 && 7 > 2 always \"true\" in Go?"

	id := app.createQuestion(token, content)

	list := app.listAll(token)
	if len(list) != 1 || list[0].ID != id || list[0].Content != content {
		t.Errorf("list = %+v, want content %q", list, content)
	}

	// 同じ本文での再編集も受け付けられる
	body, _ := json.Marshal(questionRequest{Content: list[0].Content})
	w := app.do(http.MethodPut, "/question/edit/"+id, token, string(body))
	if w.Code != http.StatusOK {
		t.Errorf("re-edit status = %d, want %d, body=%s", w.Code, http.StatusOK, w.Body.String())
	}
}

func TestIntegration_EmptyContentRejected(t *testing.T) {
	app := newIntegrationApp(t)
	_, token := app.signupAndSignin("alice")

	w := app.do(http.MethodPost, "/question/create", token, `{"content":"   "}`)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if len(app.listAll(token)) != 0 {
		t.Error("no question should be stored")
	}
}

func TestIntegration_DeleteTwice(t *testing.T) {
	app := newIntegrationApp(t)
	_, token := app.signupAndSignin("alice")
	id := app.createQuestion(token, "to be deleted")

	w := app.do(http.MethodDelete, "/question/delete/"+id, token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("first delete status = %d, want %d", w.Code, http.StatusOK)
	}

	w = app.do(http.MethodDelete, "/question/delete/"+id, token, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("second delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if body := decodeErrorBody(t, w); body.Code != "QUES-001" {
		t.Errorf("code = %q, want QUES-001", body.Code)
	}
}

func TestIntegration_ConcurrentDeleteSucceedsOnce(t *testing.T) {
	app := newIntegrationApp(t)
	_, token := app.signupAndSignin("alice")
	id := app.createQuestion(token, "racy")

	const workers = 8
	codes := make([]int, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodDelete, "/question/delete/"+id, nil)
			req.Header.Set("Authorization", token)
			w := httptest.NewRecorder()
			app.router.ServeHTTP(w, req)
			codes[i] = w.Code
		}(i)
	}
	wg.Wait()

	ok := 0
	for _, code := range codes {
		switch code {
		case http.StatusOK:
			ok++
		case http.StatusNotFound:
		default:
			t.Errorf("unexpected status %d", code)
		}
	}
	if ok != 1 {
		t.Errorf("successful deletes = %d, want 1", ok)
	}
}

func TestIntegration_DeleteWithInvalidTokenLeavesQuestion(t *testing.T) {
	app := newIntegrationApp(t)
	_, token := app.signupAndSignin("alice")
	id := app.createQuestion(token, "keep me")

	w := app.do(http.MethodDelete, "/question/delete/"+id, "forged-token", "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}

	list := app.listAll(token)
	if len(list) != 1 || list[0].ID != id || list[0].Content != "keep me" {
		t.Errorf("question should be unchanged: %+v", list)
	}
}

func TestIntegration_EditKeepsID(t *testing.T) {
	app := newIntegrationApp(t)
	_, token := app.signupAndSignin("alice")
	id := app.createQuestion(token, "original")

	w := app.do(http.MethodPut, "/question/edit/"+id, token, `{"content":"edited"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if body := decodeBody[questionStatusResponse](t, w); body.ID != id {
		t.Errorf("edit response id = %q, want %q", body.ID, id)
	}

	list := app.listAll(token)
	if len(list) != 1 || list[0].ID != id || list[0].Content != "edited" {
		t.Errorf("list = %+v", list)
	}
}

func TestIntegration_OnlyOwnerCanEdit(t *testing.T) {
	app := newIntegrationApp(t)
	_, aliceToken := app.signupAndSignin("alice")
	_, bobToken := app.signupAndSignin("bob")
	id := app.createQuestion(aliceToken, "alice's question")

	w := app.do(http.MethodPut, "/question/edit/"+id, bobToken, `{"content":"hijacked"}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want %d", w.Code, http.StatusForbidden)
	}

	list := app.listAll(aliceToken)
	if len(list) != 1 || list[0].Content != "alice's question" {
		t.Errorf("list = %+v", list)
	}
}

func TestIntegration_AdminCanDeleteOthersQuestion(t *testing.T) {
	app := newIntegrationApp(t)
	_, aliceToken := app.signupAndSignin("alice")
	_, bobToken := app.signupAndSignin("bob")
	id := app.createQuestion(aliceToken, "alice's question")

	w := app.do(http.MethodDelete, "/question/delete/"+id, bobToken, "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("non-admin delete status = %d, want %d", w.Code, http.StatusForbidden)
	}

	if err := app.authService.GrantAdmin(context.Background(), "bob"); err != nil {
		t.Fatalf("GrantAdmin: %v", err)
	}

	w = app.do(http.MethodDelete, "/question/delete/"+id, bobToken, "")
	if w.Code != http.StatusOK {
		t.Errorf("admin delete status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestIntegration_ListByUserFilters(t *testing.T) {
	app := newIntegrationApp(t)
	aliceID, aliceToken := app.signupAndSignin("alice")
	_, bobToken := app.signupAndSignin("bob")

	app.createQuestion(aliceToken, "alice 1")
	app.createQuestion(bobToken, "bob 1")
	app.createQuestion(aliceToken, "alice 2")

	w := app.do(http.MethodGet, "/question/all/"+aliceID, bobToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	list := decodeBody[[]questionDetailsResponse](t, w)
	if len(list) != 2 {
		t.Fatalf("len = %d, want 2", len(list))
	}
	for _, q := range list {
		if !strings.HasPrefix(q.Content, "alice") {
			t.Errorf("unexpected question %+v", q)
		}
	}

	w = app.do(http.MethodGet, "/question/all/unknown-user", bobToken, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown user status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestIntegration_SignoutInvalidatesToken(t *testing.T) {
	app := newIntegrationApp(t)
	_, token := app.signupAndSignin("alice")

	w := app.do(http.MethodPost, "/user/signout", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("signout status = %d, want %d", w.Code, http.StatusOK)
	}

	w = app.do(http.MethodGet, "/question/all", token, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status after signout = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if body := decodeErrorBody(t, w); body.Code != "ATHR-002" {
		t.Errorf("code = %q, want ATHR-002", body.Code)
	}
}

func TestIntegration_SignupDuplicateUserName(t *testing.T) {
	app := newIntegrationApp(t)
	app.signupAndSignin("alice")

	w := app.do(http.MethodPost, "/user/signup", "", `{"user_name":"alice","email":"other@example.com","password":"s3cret-pass"}`)
	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
	if body := decodeErrorBody(t, w); body.Code != "SGR-001" {
		t.Errorf("code = %q, want SGR-001", body.Code)
	}
}

func TestIntegration_SigninWrongPassword(t *testing.T) {
	app := newIntegrationApp(t)
	app.signupAndSignin("alice")

	req := httptest.NewRequest(http.MethodPost, "/user/signin", nil)
	req.SetBasicAuth("alice", "wrong-password")
	w := httptest.NewRecorder()
	app.router.ServeHTTP(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if body := decodeErrorBody(t, w); body.Code != "ATH-002" {
		t.Errorf("code = %q, want ATH-002", body.Code)
	}
}

func TestIntegration_AdminDeletesUser(t *testing.T) {
	app := newIntegrationApp(t)
	aliceID, aliceToken := app.signupAndSignin("alice")
	_, adminToken := app.signupAndSignin("root")
	if err := app.authService.GrantAdmin(context.Background(), "root"); err != nil {
		t.Fatalf("GrantAdmin: %v", err)
	}
	app.createQuestion(aliceToken, "soon gone")

	w := app.do(http.MethodDelete, "/admin/user/"+aliceID, aliceToken, "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("non-admin status = %d, want %d", w.Code, http.StatusForbidden)
	}

	w = app.do(http.MethodDelete, "/admin/user/"+aliceID, adminToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("admin status = %d, want %d", w.Code, http.StatusOK)
	}

	if list := app.listAll(adminToken); len(list) != 0 {
		t.Errorf("questions of deleted user should be removed: %+v", list)
	}
	w = app.do(http.MethodGet, "/userprofile/"+aliceID, adminToken, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("profile status = %d, want %d", w.Code, http.StatusNotFound)
	}
	w = app.do(http.MethodGet, "/question/all", aliceToken, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("deleted user's token status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestIntegration_MetricsExposeQuestionOperations(t *testing.T) {
	app := newIntegrationApp(t)
	_, token := app.signupAndSignin("alice")
	app.createQuestion(token, "counted")

	w := app.do(http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body := w.Body.String()
	for _, want := range []string{
		`qaboard_question_operations_total{operation="create",result="success"} 1`,
		`qaboard_signin_total{result="success"} 1`,
		`qaboard_http_status_total{status_code="201"}`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output should contain %q", want)
		}
	}
}

// --- トークンキャッシュ有効時 ---

func TestIntegration_CachedToken_DeletedUserIsRejected(t *testing.T) {
	app := newCachedIntegrationApp(t)
	aliceID, aliceToken := app.signupAndSignin("alice")
	_, adminToken := app.signupAndSignin("root")
	if err := app.authService.GrantAdmin(context.Background(), "root"); err != nil {
		t.Fatalf("GrantAdmin: %v", err)
	}

	// aliceのトークンをキャッシュに載せる
	app.listAll(aliceToken)
	if app.redis.size() == 0 {
		t.Fatal("token should be cached after a successful request")
	}

	w := app.do(http.MethodDelete, "/admin/user/"+aliceID, adminToken, "")
	if w.Code != http.StatusOK {
		t.Fatalf("admin delete status = %d, want %d", w.Code, http.StatusOK)
	}

	requests := []struct {
		method string
		path   string
		body   string
	}{
		{http.MethodGet, "/question/all", ""},
		{http.MethodGet, "/userprofile/" + aliceID, ""},
		{http.MethodPost, "/question/create", `{"content":"orphan?"}`},
	}
	for _, req := range requests {
		w := app.do(req.method, req.path, aliceToken, req.body)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want %d", req.method, req.path, w.Code, http.StatusUnauthorized)
			continue
		}
		if got := decodeErrorBody(t, w); got.Code != "ATHR-001" {
			t.Errorf("%s %s code = %q, want ATHR-001", req.method, req.path, got.Code)
		}
	}

	if list := app.listAll(adminToken); len(list) != 0 {
		t.Errorf("no question should be stored for the deleted user: %+v", list)
	}
}

func TestIntegration_CachedToken_GrantedRoleTakesEffect(t *testing.T) {
	app := newCachedIntegrationApp(t)
	_, aliceToken := app.signupAndSignin("alice")
	_, bobToken := app.signupAndSignin("bob")
	id := app.createQuestion(aliceToken, "alice's question")

	// bobのトークンは一般ユーザーとしてキャッシュされる
	w := app.do(http.MethodDelete, "/question/delete/"+id, bobToken, "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("non-admin delete status = %d, want %d", w.Code, http.StatusForbidden)
	}

	if err := app.authService.GrantAdmin(context.Background(), "bob"); err != nil {
		t.Fatalf("GrantAdmin: %v", err)
	}

	w = app.do(http.MethodDelete, "/question/delete/"+id, bobToken, "")
	if w.Code != http.StatusOK {
		t.Errorf("admin delete status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestIntegration_CachedToken_SignoutInvalidatesToken(t *testing.T) {
	app := newCachedIntegrationApp(t)
	_, token := app.signupAndSignin("alice")
	app.listAll(token)

	w := app.do(http.MethodPost, "/user/signout", token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("signout status = %d, want %d", w.Code, http.StatusOK)
	}

	w = app.do(http.MethodGet, "/question/all", token, "")
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status after signout = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if got := decodeErrorBody(t, w); got.Code != "ATHR-002" {
		t.Errorf("code = %q, want ATHR-002", got.Code)
	}
}
