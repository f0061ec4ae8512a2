package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"storefront_payments/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// TokenSource 执行一次 client-credentials 交换，返回 token 和网关声明的有效期
type TokenSource func(ctx context.Context) (token string, expiresIn time.Duration, err error)

// tokenExpirySafetyMargin 在网关声明的有效期上提前过期，容忍时钟偏差和在途请求
const tokenExpirySafetyMargin = 60 * time.Second

type cachedToken struct {
	value     string
	expiresAt time.Time
}

// TokenCache 进程级 OAuth token 缓存，按 provider 维度存取
// 并发未命中通过 singleflight 合并成一次出站刷新，避免打爆网关的限流配额
type TokenCache struct {
	mu      sync.RWMutex
	tokens  map[string]cachedToken
	sources map[string]TokenSource
	group   singleflight.Group
	margin  time.Duration
	now     func() time.Time
}

func NewTokenCache() *TokenCache {
	return &TokenCache{
		tokens:  make(map[string]cachedToken),
		sources: make(map[string]TokenSource),
		margin:  tokenExpirySafetyMargin,
		now:     time.Now,
	}
}

// Register 注册某个 provider 的取 token 方式
func (c *TokenCache) Register(provider string, src TokenSource) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[provider] = src
}

// Token 返回可用的 bearer token，未命中或过期时触发刷新
// 刷新失败不缓存，错误原样抛给调用方
func (c *TokenCache) Token(ctx context.Context, provider string) (string, error) {
	if tok, ok := c.get(provider); ok {
		return tok, nil
	}

	v, err, _ := c.group.Do(provider, func() (interface{}, error) {
		// 别的调用者可能刚刷新过，进组后再查一次
		if tok, ok := c.get(provider); ok {
			return tok, nil
		}

		c.mu.RLock()
		src, ok := c.sources[provider]
		c.mu.RUnlock()
		if !ok {
			return "", fmt.Errorf("no token source registered for provider %s", provider)
		}

		token, expiresIn, err := src(ctx)
		if err != nil {
			logger.Log.Warn("token refresh failed",
				zap.String("provider", provider),
				zap.Error(err),
			)
			return "", err
		}

		c.mu.Lock()
		c.tokens[provider] = cachedToken{
			value:     token,
			expiresAt: c.now().Add(expiresIn - c.margin),
		}
		c.mu.Unlock()

		logger.Log.Info("token refreshed",
			zap.String("provider", provider),
			zap.Duration("expires_in", expiresIn),
		)
		return token, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *TokenCache) get(provider string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tok, ok := c.tokens[provider]
	if !ok || !c.now().Before(tok.expiresAt) {
		return "", false
	}
	return tok.value, true
}
