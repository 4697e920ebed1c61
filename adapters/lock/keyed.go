// Package lock 提供行程內的keyed mutex，實作engine.ILockProvider
// 單節點部署或測試時使用；多節點部署應改用Redis分散式鎖
package lock

import (
	"context"
	"sync"

	"hammer/engine"
)

// KeyedLockProvider 依鍵值提供互斥鎖
// 鎖以token channel實作，等待中的Lock可以被context取消，
// 沒有任何人持有或等待的鍵值會被回收
type KeyedLockProvider struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	token chan struct{}
	refs  int
}

func NewKeyedLockProvider() *KeyedLockProvider {
	return &KeyedLockProvider{
		entries: make(map[string]*entry),
	}
}

// Mutex 取得指定鍵值的互斥鎖
func (p *KeyedLockProvider) Mutex(key string) engine.ILocker {
	return &keyedMutex{provider: p, key: key}
}

func (p *KeyedLockProvider) acquire(key string) *entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	if !ok {
		e = &entry{token: make(chan struct{}, 1)}
		e.token <- struct{}{}
		p.entries[key] = e
	}
	e.refs++
	return e
}

func (p *KeyedLockProvider) release(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs <= 0 {
		delete(p.entries, key)
	}
}

type keyedMutex struct {
	provider *KeyedLockProvider
	key      string
	entry    *entry
	cancel   context.CancelFunc
}

// Lock 取得鎖，等待期間可以被context取消
func (m *keyedMutex) Lock(ctx context.Context) (context.Context, error) {
	e := m.provider.acquire(m.key)
	select {
	case <-ctx.Done():
		m.provider.release(m.key)
		return nil, ctx.Err()
	case <-e.token:
		m.entry = e
		lockCtx, cancel := context.WithCancel(ctx)
		m.cancel = cancel
		return lockCtx, nil
	}
}

// Unlock 釋放鎖
func (m *keyedMutex) Unlock() (bool, error) {
	if m.entry == nil {
		return false, nil
	}
	m.cancel()
	m.entry.token <- struct{}{}
	m.entry = nil
	m.provider.release(m.key)
	return true, nil
}
