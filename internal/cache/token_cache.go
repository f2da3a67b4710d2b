// Package cache はRedisを使用したアクセストークン検証結果のキャッシュを提供する。
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/qaboard/internal/model"
)

// keyPrefix はトークンキャッシュのRedisキー接頭辞。
const keyPrefix = "qaboard:token:"

// Client はTokenCacheが使用するRedisコマンドのサブセット。
// *redis.Clientがこのインターフェースを満たす。
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// TokenValidator はアクセストークンを検証するインターフェース。
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (*model.Principal, error)
}

// cachedPrincipal はRedisに保存する検証結果。
type cachedPrincipal struct {
	UserID    string    `json:"user_id"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TokenCache はTokenValidatorをデコレートし、検証に成功したトークンをRedisにキャッシュする。
// 検証エラーはキャッシュしない。Redisの障害時は下位のValidatorにフォールバックする。
type TokenCache struct {
	client Client
	next   TokenValidator
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenCache はTokenCacheを生成する。
func NewTokenCache(client Client, next TokenValidator, ttl time.Duration) *TokenCache {
	return &TokenCache{
		client: client,
		next:   next,
		ttl:    ttl,
		now:    time.Now,
	}
}

// ValidateToken はキャッシュを参照し、なければ下位のValidatorで検証して結果を保存する。
func (c *TokenCache) ValidateToken(ctx context.Context, token string) (*model.Principal, error) {
	if token == "" {
		return c.next.ValidateToken(ctx, token)
	}

	key := tokenKey(token)
	if principal, ok := c.lookup(ctx, key, token); ok {
		return principal, nil
	}

	principal, err := c.next.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}

	c.store(ctx, key, principal)
	return principal, nil
}

// Revoke はトークンのキャッシュを削除する。
func (c *TokenCache) Revoke(ctx context.Context, token string) error {
	if err := c.client.Del(ctx, tokenKey(token)).Err(); err != nil {
		return fmt.Errorf("failed to delete cached token: %w", err)
	}
	return nil
}

func (c *TokenCache) lookup(ctx context.Context, key, token string) (*model.Principal, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			slog.Warn("token cache lookup failed", slog.String("error", err.Error()))
		}
		return nil, false
	}

	var cached cachedPrincipal
	if err := json.Unmarshal(data, &cached); err != nil {
		slog.Warn("token cache entry is corrupted", slog.String("error", err.Error()))
		return nil, false
	}
	if !c.now().Before(cached.ExpiresAt) {
		return nil, false
	}

	return &model.Principal{
		Token:     token,
		UserID:    cached.UserID,
		Role:      model.Role(cached.Role),
		ExpiresAt: cached.ExpiresAt,
	}, true
}

func (c *TokenCache) store(ctx context.Context, key string, principal *model.Principal) {
	// セッションの有効期限を超えてキャッシュしない
	ttl := c.ttl
	if remaining := principal.ExpiresAt.Sub(c.now()); remaining < ttl {
		ttl = remaining
	}
	if ttl <= 0 {
		return
	}

	data, err := json.Marshal(cachedPrincipal{
		UserID:    principal.UserID,
		Role:      string(principal.Role),
		ExpiresAt: principal.ExpiresAt,
	})
	if err != nil {
		slog.Warn("failed to encode token cache entry", slog.String("error", err.Error()))
		return
	}

	if err := c.client.Set(ctx, key, data, ttl).Err(); err != nil {
		slog.Warn("token cache store failed", slog.String("error", err.Error()))
	}
}

// tokenKey はトークンのハッシュからRedisキーを生成する。トークン自体はRedisに保存しない。
func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// NewRedisClient はREDIS_URL形式の接続文字列からクライアントを生成し、疎通を確認する。
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return client, nil
}
