// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/qaboard/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// principalContextKey はリクエストコンテキストにリクエスト主体を格納するためのキー。
var principalContextKey = contextKey("principal")

// TokenValidator はアクセストークンの検証に必要なインターフェース。
// auth.Serviceおよびcache.TokenCacheが満たす。
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*model.Principal, error)
}

// NewTokenMiddleware はauthorizationヘッダーのアクセストークンを検証するミドルウェアを返す。
// トークンはそのままの値か"Bearer "付きのいずれでも受け付ける。
// 検証済みのリクエスト主体をコンテキストに注入し、検証に失敗した場合は401を返す。
func NewTokenMiddleware(validator TokenValidator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := AccessToken(r)
			if token == "" {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewNotSignedInError())
				return
			}

			principal, err := validator.ValidateToken(r.Context(), token)
			if err != nil {
				var apiErr *model.APIError
				if errors.As(err, &apiErr) {
					WriteErrorResponse(w, http.StatusUnauthorized, apiErr)
					return
				}
				slog.Error("failed to validate access token",
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}

			setLogUserID(r.Context(), principal.UserID)
			ctx := ContextWithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessToken はauthorizationヘッダーからアクセストークンを取り出す。
// Basic認証ヘッダーはトークンとして扱わない。
func AccessToken(r *http.Request) string {
	value := strings.TrimSpace(r.Header.Get("Authorization"))
	if value == "" {
		return ""
	}
	if scheme, rest, ok := strings.Cut(value, " "); ok {
		switch {
		case strings.EqualFold(scheme, "Bearer"):
			return strings.TrimSpace(rest)
		case strings.EqualFold(scheme, "Basic"):
			return ""
		}
	}
	return value
}

// PrincipalFromContext はリクエストコンテキストからリクエスト主体を取得する。
// トークンミドルウェアを通過したリクエストでのみ有効。
func PrincipalFromContext(ctx context.Context) (*model.Principal, error) {
	principal, ok := ctx.Value(principalContextKey).(*model.Principal)
	if !ok || principal == nil {
		return nil, fmt.Errorf("principal not found in context")
	}
	return principal, nil
}

// ContextWithPrincipal はコンテキストにリクエスト主体を注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithPrincipal(ctx context.Context, principal *model.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey, principal)
}
