package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// AutoRenewMutex 帶自動續期的分散式互斥鎖，保護per-auction的出價序列化區段
// 同一場拍賣的出價在多個服務節點之間互斥，不同拍賣使用不同的name，彼此不互相阻塞
// 實際的redis鍵值固定為<name>:lock
//
// 取鎖失敗時只在鎖被其他持有者佔用的情況下重試，
// 與redis之間的通訊異常會直接回報給呼叫端
type AutoRenewMutex struct {
	mutex  *redsync.Mutex
	logger *slog.Logger

	renewInterval time.Duration
	retryDelay    time.Duration

	mu       sync.Mutex
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	renewing bool
}

type autoRenewMutexOptions struct {
	expiry        time.Duration
	renewInterval time.Duration
	retryDelay    time.Duration
	logger        *slog.Logger
}

type AutoRenewMutexOption func(*autoRenewMutexOptions)

// WithAutoRenewMutexExpiry 設置鎖的過期時間
func WithAutoRenewMutexExpiry(d time.Duration) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.expiry = d
	}
}

// WithAutoRenewMutexRenewInterval 設置自動續期間隔，未設置時使用過期時間的1/3
func WithAutoRenewMutexRenewInterval(d time.Duration) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.renewInterval = d
	}
}

// WithAutoRenewMutexRetryDelay 設置鎖被佔用時的重試間隔
func WithAutoRenewMutexRetryDelay(d time.Duration) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.retryDelay = d
	}
}

// WithAutoRenewMutexLogger 設置日誌記錄器
func WithAutoRenewMutexLogger(logger *slog.Logger) AutoRenewMutexOption {
	return func(o *autoRenewMutexOptions) {
		o.logger = logger
	}
}

// NewAutoRenewMutex 以<name>:lock為鍵值創建一個帶自動續期功能的互斥鎖
func NewAutoRenewMutex(client *redis.Client, name string, opts ...AutoRenewMutexOption) IAutoRenewMutex {
	// 默認選項
	options := autoRenewMutexOptions{
		expiry:     8 * time.Second,
		retryDelay: 500 * time.Millisecond,
		logger:     slog.Default(),
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	if options.renewInterval <= 0 {
		options.renewInterval = options.expiry / 3
	}

	key := name + ":lock"
	rs := redsync.New(goredis.NewPool(client))

	return &AutoRenewMutex{
		mutex: rs.NewMutex(
			key,
			redsync.WithExpiry(options.expiry),
			redsync.WithTries(1),
		),
		logger:        options.logger.With(slog.String("caller", "AutoRenewMutex"), slog.String("key", key)),
		renewInterval: options.renewInterval,
		retryDelay:    options.retryDelay,
	}
}

// Lock 獲取鎖並啟動自動續期，支持通過context取消
// 回傳的context會在鎖失效時被取消，持鎖期間的操作都應該使用它
func (m *AutoRenewMutex) Lock(ctx context.Context) (context.Context, error) {
	const op = "AutoRenewMutex.Lock"

	timer := time.NewTimer(1)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		err := m.mutex.LockContext(ctx)
		if err == nil {
			lockCtx, cancel := context.WithCancel(ctx)
			m.mu.Lock()
			m.cancel = cancel
			m.mu.Unlock()
			m.startAutoRenew(lockCtx)
			return lockCtx, nil
		}
		var commErr *redsync.RedisError
		if errors.As(err, &commErr) {
			return nil, fmt.Errorf("[%s] Fail to acquire lock, err=%w", op, err)
		}
		// 鎖被其他持有者佔用，等待後重試
		timer.Reset(m.retryDelay)
	}
}

// Unlock 停止自動續期並釋放鎖
func (m *AutoRenewMutex) Unlock() (bool, error) {
	m.stopAutoRenew()
	m.wg.Wait()
	return m.mutex.Unlock()
}

// Valid 檢查鎖是否仍然有效，通過比較當前時間和過期時間判斷
func (m *AutoRenewMutex) Valid() bool {
	m.mu.Lock()
	renewing := m.renewing
	m.mu.Unlock()
	return renewing && time.Now().Before(m.mutex.Until())
}

func (m *AutoRenewMutex) startAutoRenew(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.renewing {
		return
	}

	m.renewing = true
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.renewInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ok, err := m.mutex.Extend()
				if err == nil && ok {
					continue
				}
				// 續期失敗後鎖視為失效，取消持鎖context
				m.logger.Warn("lock renew failed", slog.Any("error", err))
				m.stopAutoRenew()
				return
			}
		}
	}()
}

func (m *AutoRenewMutex) stopAutoRenew() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.renewing {
		return
	}

	m.renewing = false
	if m.cancel != nil {
		m.cancel()
	}
}
