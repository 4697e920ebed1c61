package redis

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestNewAutoRenewMutex(t *testing.T) {
	tests := []struct {
		name     string
		lockName string
		opts     []AutoRenewMutexOption
	}{
		{
			name:     "default options",
			lockName: "bid-lock",
		},
		{
			name:     "custom options",
			lockName: "bid-lock",
			opts: []AutoRenewMutexOption{
				WithAutoRenewMutexExpiry(5 * time.Second),
				WithAutoRenewMutexRenewInterval(1 * time.Second),
				WithAutoRenewMutexRetryDelay(100 * time.Millisecond),
				WithAutoRenewMutexLogger(slog.Default()),
			},
		},
		{
			name:     "empty name",
			lockName: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)
			client, _, cleanup := setupTest(t)
			defer cleanup()

			mutex := NewAutoRenewMutex(client, tt.lockName, tt.opts...)
			require.NotNil(t, mutex)
		})
	}
}

func TestAutoRenewMutex_Lock(t *testing.T) {
	t.Run("successful lock", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		// 鍵值帶有:lock後綴
		mock.Regexp().ExpectSetNX("bid-lock:lock", ".*", 8*time.Second).SetVal(true)
		mock.Regexp().ExpectEvalSha(".*", []string{"bid-lock:lock"}, []string{".*"}).SetVal(int64(1))

		mutex := NewAutoRenewMutex(client, "bid-lock")
		lockCtx, err := mutex.Lock(context.Background())
		assert.NoError(t, err)
		assert.NotNil(t, lockCtx)

		ok, err := mutex.Unlock()
		assert.NoError(t, err)
		assert.True(t, ok)

		// 解鎖後持鎖context應該被取消
		select {
		case <-lockCtx.Done():
		case <-time.After(100 * time.Millisecond):
			t.Error("lock context was not cancelled after unlock")
		}
	})

	t.Run("lock with context cancellation", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, _, cleanup := setupTest(t)
		defer cleanup()

		mutex := NewAutoRenewMutex(client, "bid-lock")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		lockCtx, err := mutex.Lock(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Nil(t, lockCtx)
	})

	t.Run("lock aborts on redis error", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		// 通訊異常不重試，直接回報
		mock.Regexp().ExpectSetNX("bid-lock:lock", ".*", 8*time.Second).SetErr(redis.ErrClosed)

		mutex := NewAutoRenewMutex(client, "bid-lock")
		lockCtx, err := mutex.Lock(context.Background())
		assert.Error(t, err)
		assert.ErrorIs(t, err, redis.ErrClosed)
		assert.Nil(t, lockCtx)
	})

	t.Run("lock contention times out", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		// 第一次鎖定成功
		mock.Regexp().ExpectSetNX("bid-lock:lock", ".*", 8*time.Second).SetVal(true)
		// 第二次鎖定被佔用，redsync會嘗試釋放
		mock.Regexp().ExpectSetNX("bid-lock:lock", ".*", 8*time.Second).SetVal(false)
		mock.Regexp().ExpectEvalSha(".*", []string{"bid-lock:lock"}, []string{".*"}).SetVal(int64(0))
		// 解鎖
		mock.Regexp().ExpectEvalSha(".*", []string{"bid-lock:lock"}, []string{".*"}).SetVal(int64(1))

		mutex := NewAutoRenewMutex(client, "bid-lock", WithAutoRenewMutexRetryDelay(time.Second))
		lockCtx, err := mutex.Lock(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, lockCtx)

		// 鎖被佔用時會持續重試，直到ctx超時
		ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		lockCtx, err = mutex.Lock(ctx)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Nil(t, lockCtx)

		ok, err := mutex.Unlock()
		assert.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestAutoRenewMutex_AutoRenew(t *testing.T) {
	t.Run("successful auto renew", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		// 初始鎖定
		mock.Regexp().ExpectSetNX("bid-lock:lock", ".*", 2*time.Second).SetVal(true)
		// 兩次續期
		mock.Regexp().ExpectEvalSha(".*", []string{"bid-lock:lock"}, []string{".*", "2000"}).SetVal(int64(1))
		mock.Regexp().ExpectEvalSha(".*", []string{"bid-lock:lock"}, []string{".*", "2000"}).SetVal(int64(1))
		// 解鎖
		mock.Regexp().ExpectEvalSha(".*", []string{"bid-lock:lock"}, []string{".*"}).SetVal(int64(1))

		mutex := NewAutoRenewMutex(client, "bid-lock",
			WithAutoRenewMutexExpiry(2*time.Second),
			WithAutoRenewMutexRenewInterval(100*time.Millisecond))

		lockCtx, err := mutex.Lock(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, lockCtx)

		time.Sleep(250 * time.Millisecond)
		assert.True(t, mutex.Valid())

		ok, err := mutex.Unlock()
		assert.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("auto renew fails", func(t *testing.T) {
		defer goleak.VerifyNone(t)
		client, mock, cleanup := setupTest(t)
		defer cleanup()

		// 初始鎖定成功
		mock.Regexp().ExpectSetNX("bid-lock:lock", ".*", 2*time.Second).SetVal(true)
		// 續期失敗
		mock.Regexp().ExpectEvalSha(".*", []string{"bid-lock:lock"}, []string{".*", "2000"}).SetErr(redis.ErrClosed)
		// 解鎖
		mock.Regexp().ExpectEvalSha(".*", []string{"bid-lock:lock"}, []string{".*"}).SetVal(int64(-1))

		mutex := NewAutoRenewMutex(client, "bid-lock",
			WithAutoRenewMutexExpiry(2*time.Second),
			WithAutoRenewMutexRenewInterval(100*time.Millisecond))

		lockCtx, err := mutex.Lock(context.Background())
		require.NoError(t, err)
		assert.NotNil(t, lockCtx)

		// 續期失敗後鎖會失效，持鎖context被取消
		time.Sleep(150 * time.Millisecond)
		assert.False(t, mutex.Valid())

		ok, err := mutex.Unlock()
		assert.ErrorIs(t, err, redsync.ErrLockAlreadyExpired)
		assert.False(t, ok)

		select {
		case <-lockCtx.Done():
		case <-time.After(100 * time.Millisecond):
			t.Error("lock context was not cancelled after renew failure")
		}
	})
}
