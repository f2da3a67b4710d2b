// Package memory はリポジトリインターフェースのインメモリ実装を提供する。
// STORAGE_DRIVER=memory での起動とテストで使用する。いずれも並行利用に安全。
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/qaboard/internal/model"
	"github.com/hitoshi/qaboard/internal/repository"
)

// UserRepo はrepository.UserRepositoryのインメモリ実装。
// 削除時は登録された従属リポジトリのデータも同じロック内で削除する（ON DELETE CASCADE相当）。
type UserRepo struct {
	mu       sync.RWMutex
	byID     map[string]model.User
	cascades []func(userID string)
}

// NewUserRepo はUserRepoを生成する。
func NewUserRepo() *UserRepo {
	return &UserRepo{byID: make(map[string]model.User)}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *UserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// FindByUserName はユーザー名でユーザーを取得する。見つからない場合はnilを返す。
func (r *UserRepo) FindByUserName(ctx context.Context, userName string) (*model.User, error) {
	return r.findFirst(func(u model.User) bool { return u.UserName == userName }), nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
func (r *UserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.findFirst(func(u model.User) bool { return u.Email == email }), nil
}

func (r *UserRepo) findFirst(match func(model.User) bool) *model.User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, u := range r.byID {
		if match(u) {
			found := u
			return &found
		}
	}
	return nil
}

// Create はユーザーを作成する。ID・ユーザー名・メールアドレスの重複はErrDuplicateとなる。
func (r *UserRepo) Create(ctx context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.ID == user.ID || u.UserName == user.UserName || u.Email == user.Email {
			return fmt.Errorf("failed to insert user: %w", repository.ErrDuplicate)
		}
	}
	r.byID[user.ID] = *user
	return nil
}

// UpdateRole は指定ユーザー名のロールを更新する。
func (r *UserRepo) UpdateRole(ctx context.Context, userName string, role model.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, u := range r.byID {
		if u.UserName == userName {
			u.Role = role
			u.UpdatedAt = time.Now()
			r.byID[id] = u
			return nil
		}
	}
	return fmt.Errorf("user %s: %w", userName, repository.ErrNotFound)
}

// DeleteByID は指定IDのユーザーを削除する。
func (r *UserRepo) DeleteByID(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return fmt.Errorf("user %s: %w", id, repository.ErrNotFound)
	}
	delete(r.byID, id)
	for _, cascade := range r.cascades {
		cascade(id)
	}
	return nil
}

// onDelete はユーザー削除時に呼び出す関数を登録する。
func (r *UserRepo) onDelete(fn func(userID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cascades = append(r.cascades, fn)
}

// withOwner はユーザーが存在する場合のみfnを実行する。存在しない場合はErrNotFoundを返す。
// fnの実行中はユーザーの削除がブロックされる。ロック順序は常にUserRepo→従属リポジトリ。
func (r *UserRepo) withOwner(userID string, fn func() error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.byID[userID]; !ok {
		return fmt.Errorf("owner %s: %w", userID, repository.ErrNotFound)
	}
	return fn()
}

// SessionRepo はrepository.SessionRepositoryのインメモリ実装。
type SessionRepo struct {
	mu      sync.RWMutex
	users   *UserRepo
	byToken map[string]model.Session
}

// NewSessionRepo はSessionRepoを生成する。
// セッションはusersに存在するユーザーにのみ作成でき、ユーザー削除時に合わせて削除される。
func NewSessionRepo(users *UserRepo) *SessionRepo {
	r := &SessionRepo{users: users, byToken: make(map[string]model.Session)}
	users.onDelete(r.deleteOwnedBy)
	return r
}

// Create はセッションを作成する。ユーザーが存在しない場合はErrNotFoundを返す。
func (r *SessionRepo) Create(ctx context.Context, session *model.Session) error {
	return r.users.withOwner(session.UserID, func() error {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.byToken[session.Token]; ok {
			return fmt.Errorf("failed to create session: %w", repository.ErrDuplicate)
		}
		r.byToken[session.Token] = cloneSession(*session)
		return nil
	})
}

// FindByToken は指定トークンのセッションを取得する。見つからない場合はnilを返す。
func (r *SessionRepo) FindByToken(ctx context.Context, token string) (*model.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byToken[token]
	if !ok {
		return nil, nil
	}
	c := cloneSession(s)
	return &c, nil
}

// MarkLoggedOut はセッションのサインアウト時刻を記録する。
func (r *SessionRepo) MarkLoggedOut(ctx context.Context, token string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byToken[token]
	if !ok {
		return fmt.Errorf("session: %w", repository.ErrNotFound)
	}
	s.LogoutAt = &at
	r.byToken[token] = s
	return nil
}

// ListTokensByUserID は指定ユーザーの全セッションのトークンを返す。
func (r *SessionRepo) ListTokensByUserID(ctx context.Context, userID string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tokens := []string{}
	for token, s := range r.byToken {
		if s.UserID == userID {
			tokens = append(tokens, token)
		}
	}
	sort.Strings(tokens)
	return tokens, nil
}

// DeleteByUserID は指定ユーザーの全セッションを削除する。
func (r *SessionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	r.deleteOwnedBy(userID)
	return nil
}

func (r *SessionRepo) deleteOwnedBy(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for token, s := range r.byToken {
		if s.UserID == userID {
			delete(r.byToken, token)
		}
	}
}

// DeleteInactiveBefore はcutoffより前に期限切れまたはサインアウトしたセッションを削除し、削除件数を返す。
func (r *SessionRepo) DeleteInactiveBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var deleted int64
	for token, s := range r.byToken {
		if s.ExpiresAt.Before(cutoff) || (s.LogoutAt != nil && s.LogoutAt.Before(cutoff)) {
			delete(r.byToken, token)
			deleted++
		}
	}
	return deleted, nil
}

func cloneSession(s model.Session) model.Session {
	if s.LogoutAt != nil {
		t := *s.LogoutAt
		s.LogoutAt = &t
	}
	return s
}

// QuestionRepo はrepository.QuestionRepositoryのインメモリ実装。
// 挿入順を作成順として保持する。
type QuestionRepo struct {
	mu    sync.RWMutex
	users *UserRepo
	seq   int64
	byID  map[string]storedQuestion
}

type storedQuestion struct {
	model.Question
	seq int64
}

// NewQuestionRepo はQuestionRepoを生成する。
// 質問はusersに存在するユーザーのみが所有でき、ユーザー削除時に合わせて削除される。
func NewQuestionRepo(users *UserRepo) *QuestionRepo {
	r := &QuestionRepo{users: users, byID: make(map[string]storedQuestion)}
	users.onDelete(r.deleteOwnedBy)
	return r
}

// Create は質問を作成する。所有ユーザーが存在しない場合はErrNotFoundを返す。
func (r *QuestionRepo) Create(ctx context.Context, question *model.Question) error {
	return r.users.withOwner(question.UserID, func() error {
		r.mu.Lock()
		defer r.mu.Unlock()
		if _, ok := r.byID[question.ID]; ok {
			return fmt.Errorf("failed to insert question: %w", repository.ErrDuplicate)
		}
		r.seq++
		r.byID[question.ID] = storedQuestion{Question: *question, seq: r.seq}
		return nil
	})
}

// FindByID は指定IDの質問を取得する。見つからない場合はnilを返す。
func (r *QuestionRepo) FindByID(ctx context.Context, id string) (*model.Question, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	q, ok := r.byID[id]
	if !ok {
		return nil, nil
	}
	found := q.Question
	return &found, nil
}

// ListAll は全質問を作成順で返す。
func (r *QuestionRepo) ListAll(ctx context.Context) ([]*model.Question, error) {
	return r.list(func(model.Question) bool { return true }), nil
}

// ListByUserID は指定ユーザーの質問を作成順で返す。
func (r *QuestionRepo) ListByUserID(ctx context.Context, userID string) ([]*model.Question, error) {
	return r.list(func(q model.Question) bool { return q.UserID == userID }), nil
}

func (r *QuestionRepo) list(match func(model.Question) bool) []*model.Question {
	r.mu.RLock()
	stored := make([]storedQuestion, 0, len(r.byID))
	for _, q := range r.byID {
		if match(q.Question) {
			stored = append(stored, q)
		}
	}
	r.mu.RUnlock()

	sort.Slice(stored, func(i, j int) bool { return stored[i].seq < stored[j].seq })

	questions := make([]*model.Question, len(stored))
	for i := range stored {
		q := stored[i].Question
		questions[i] = &q
	}
	return questions
}

// UpdateContent は質問本文を更新する。
func (r *QuestionRepo) UpdateContent(ctx context.Context, id, content string, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	q, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("question %s: %w", id, repository.ErrNotFound)
	}
	q.Content = content
	q.UpdatedAt = updatedAt
	r.byID[id] = q
	return nil
}

// Delete は指定IDの質問を削除する。
func (r *QuestionRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return fmt.Errorf("question %s: %w", id, repository.ErrNotFound)
	}
	delete(r.byID, id)
	return nil
}

// DeleteByUserID は指定ユーザーの全質問を削除する。
func (r *QuestionRepo) DeleteByUserID(ctx context.Context, userID string) error {
	r.deleteOwnedBy(userID)
	return nil
}

func (r *QuestionRepo) deleteOwnedBy(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, q := range r.byID {
		if q.UserID == userID {
			delete(r.byID, id)
		}
	}
}

// compile-time interface checks
var (
	_ repository.UserRepository     = (*UserRepo)(nil)
	_ repository.SessionRepository  = (*SessionRepo)(nil)
	_ repository.QuestionRepository = (*QuestionRepo)(nil)
)
