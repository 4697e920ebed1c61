package api

import (
	"time"

	"github.com/redis/go-redis/v9"

	redisAdapter "hammer/adapters/redis"
	"hammer/engine"
)

// redisLockProvider 以redis分散式鎖實作engine.ILockProvider
// 同一場拍賣的出價在多個服務節點之間互斥
type redisLockProvider struct {
	client    *redis.Client
	keyPrefix string
	expiry    time.Duration
}

func newRedisLockProvider(client *redis.Client, keyPrefix string, expiry time.Duration) *redisLockProvider {
	return &redisLockProvider{
		client:    client,
		keyPrefix: keyPrefix,
		expiry:    expiry,
	}
}

func (p *redisLockProvider) Mutex(key string) engine.ILocker {
	opts := []redisAdapter.AutoRenewMutexOption{}
	if p.expiry > 0 {
		opts = append(opts, redisAdapter.WithAutoRenewMutexExpiry(p.expiry))
	}
	return redisAdapter.NewAutoRenewMutex(p.client, p.keyPrefix+key, opts...)
}
