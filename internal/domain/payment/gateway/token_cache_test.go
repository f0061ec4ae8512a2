package gateway

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCache(t *testing.T) {
	t.Run("caches token until expiry", func(t *testing.T) {
		var calls int32
		cache := NewTokenCache()
		cache.Register("direct", func(ctx context.Context) (string, time.Duration, error) {
			atomic.AddInt32(&calls, 1)
			return "tok-1", time.Hour, nil
		})

		for i := 0; i < 5; i++ {
			tok, err := cache.Token(context.Background(), "direct")
			require.NoError(t, err)
			assert.Equal(t, "tok-1", tok)
		}
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("refreshes once after expiry", func(t *testing.T) {
		var calls int32
		now := time.Now()
		cache := NewTokenCache()
		cache.now = func() time.Time { return now }
		cache.Register("direct", func(ctx context.Context) (string, time.Duration, error) {
			n := atomic.AddInt32(&calls, 1)
			if n == 1 {
				return "tok-1", 2 * time.Minute, nil
			}
			return "tok-2", time.Hour, nil
		})

		tok, err := cache.Token(context.Background(), "direct")
		require.NoError(t, err)
		assert.Equal(t, "tok-1", tok)

		// 有效期 2 分钟减去 60 秒安全边际，61 秒后视为过期
		now = now.Add(61 * time.Second)

		tok, err = cache.Token(context.Background(), "direct")
		require.NoError(t, err)
		assert.Equal(t, "tok-2", tok)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("concurrent misses trigger a single fetch", func(t *testing.T) {
		var calls int32
		cache := NewTokenCache()
		cache.Register("direct", func(ctx context.Context) (string, time.Duration, error) {
			atomic.AddInt32(&calls, 1)
			time.Sleep(20 * time.Millisecond)
			return "tok-1", time.Hour, nil
		})

		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tok, err := cache.Token(context.Background(), "direct")
				assert.NoError(t, err)
				assert.Equal(t, "tok-1", tok)
			}()
		}
		wg.Wait()

		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	})

	t.Run("fetch failure is not cached", func(t *testing.T) {
		var calls int32
		cache := NewTokenCache()
		cache.Register("direct", func(ctx context.Context) (string, time.Duration, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				return "", 0, errors.New("boom")
			}
			return "tok-2", time.Hour, nil
		})

		_, err := cache.Token(context.Background(), "direct")
		require.Error(t, err)

		tok, err := cache.Token(context.Background(), "direct")
		require.NoError(t, err)
		assert.Equal(t, "tok-2", tok)
	})

	t.Run("unknown provider errors", func(t *testing.T) {
		cache := NewTokenCache()
		_, err := cache.Token(context.Background(), "nope")
		assert.Error(t, err)
	})
}
