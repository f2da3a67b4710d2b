// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, question, user, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeNotSignedIn       = "ATHR-001"
	ErrCodeSignedOut         = "ATHR-002"
	ErrCodeForbidden         = "ATHR-003"
	ErrCodeQuestionNotFound  = "QUES-001"
	ErrCodeInvalidContent    = "QUES-002"
	ErrCodeUserNotFound      = "USR-001"
	ErrCodeUserNameTaken     = "SGR-001"
	ErrCodeEmailTaken        = "SGR-002"
	ErrCodeUnknownUserName   = "ATH-001"
	ErrCodePasswordMismatch  = "ATH-002"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeInternal          = "INTERNAL_ERROR"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
)

// NewNotSignedInError はトークンが未指定または未知の場合のエラーを生成する。
func NewNotSignedInError() *APIError {
	return &APIError{
		Code:     ErrCodeNotSignedIn,
		Message:  "サインインしていません。",
		Category: "auth",
		Action:   "サインインしてアクセストークンを取得してください。",
	}
}

// NewSignedOutError はサインアウト済みまたは期限切れトークンのエラーを生成する。
func NewSignedOutError() *APIError {
	return &APIError{
		Code:     ErrCodeSignedOut,
		Message:  "サインアウト済みか、セッションの有効期限が切れています。",
		Category: "auth",
		Action:   "再度サインインしてください。",
	}
}

// NewNotQuestionOwnerError は質問の所有者以外が編集しようとした場合のエラーを生成する。
func NewNotQuestionOwnerError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "質問を編集できるのは投稿者のみです。",
		Category: "auth",
		Action:   "自分が投稿した質問のみ編集できます。",
	}
}

// NewDeleteForbiddenError は所有者でも管理者でもないユーザーが質問を削除しようとした場合のエラーを生成する。
func NewDeleteForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "質問を削除できるのは投稿者または管理者のみです。",
		Category: "auth",
		Action:   "自分が投稿した質問のみ削除できます。",
	}
}

// NewNotAdminError は管理者専用操作を一般ユーザーが実行した場合のエラーを生成する。
func NewNotAdminError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作は管理者のみ実行できます。",
		Category: "auth",
		Action:   "管理者アカウントでサインインしてください。",
	}
}

// NewQuestionNotFoundError は質問が見つからない場合のエラーを生成する。
func NewQuestionNotFoundError(questionID string) *APIError {
	return &APIError{
		Code:     ErrCodeQuestionNotFound,
		Message:  fmt.Sprintf("指定された質問が見つかりません: %s", questionID),
		Category: "question",
		Action:   "質問IDを確認してください。",
	}
}

// NewInvalidContentError は質問本文が不正な場合のエラーを生成する。
func NewInvalidContentError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidContent,
		Message:  fmt.Sprintf("質問の内容が不正です: %s", reason),
		Category: "validation",
		Action:   "空でない本文を文字数の上限内で入力してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "指定されたユーザーが見つかりません。",
		Category: "user",
		Action:   "ユーザーIDを確認してください。",
	}
}

// NewUserNameTakenError はユーザー名が既に使われている場合のエラーを生成する。
func NewUserNameTakenError(userName string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNameTaken,
		Message:  fmt.Sprintf("ユーザー名は既に使用されています: %s", userName),
		Category: "user",
		Action:   "別のユーザー名を指定してください。",
	}
}

// NewEmailTakenError はメールアドレスが既に登録されている場合のエラーを生成する。
func NewEmailTakenError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailTaken,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "user",
		Action:   "別のメールアドレスで登録してください。",
	}
}

// NewUnknownUserNameError はサインイン時にユーザー名が存在しない場合のエラーを生成する。
func NewUnknownUserNameError() *APIError {
	return &APIError{
		Code:     ErrCodeUnknownUserName,
		Message:  "ユーザー名が存在しません。",
		Category: "auth",
		Action:   "ユーザー名を確認してください。",
	}
}

// NewPasswordMismatchError はサインイン時にパスワードが一致しない場合のエラーを生成する。
func NewPasswordMismatchError() *APIError {
	return &APIError{
		Code:     ErrCodePasswordMismatch,
		Message:  "パスワードが正しくありません。",
		Category: "auth",
		Action:   "パスワードを確認してください。",
	}
}

// NewInvalidRequestError はリクエストの形式が不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "正しいJSON形式でリクエストしてください。",
	}
}

// NewRateLimitExceededError はレート制限を超過した場合のエラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}
