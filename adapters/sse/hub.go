// Package sse 提供跨節點的SSE訊息廣播
// 事件經由Redis Stream在節點之間散播，每個節點的Hub把事件轉發給本地的訂閱者
package sse

import (
	"context"
	"log/slog"
	"sync"
)

// Envelope 帶主題的訊息，主題對應一個廣播頻道
type Envelope[T any] struct {
	Topic   string `json:"topic"`
	Message T      `json:"message"`
}

// ISource 定義Hub的上游訊息來源(通常是一個Redis Stream consumer)
type ISource[T any] interface {
	Start()
	Subscribe() <-chan T
	Close()
}

type hubOptions[T any] struct {
	logger *slog.Logger
	source ISource[Envelope[T]]
}

type HubOption[T any] func(*hubOptions[T])

// WithHubLogger 設置日誌記錄器
func WithHubLogger[T any](logger *slog.Logger) HubOption[T] {
	return func(o *hubOptions[T]) {
		o.logger = logger
	}
}

// WithHubSource 設置上游訊息來源
func WithHubSource[T any](source ISource[Envelope[T]]) HubOption[T] {
	return func(o *hubOptions[T]) {
		o.source = source
	}
}

// Hub 管理多個SSE主題的訂閱與廣播
type Hub[T any] struct {
	mu     sync.RWMutex
	wg     sync.WaitGroup
	active bool

	logger   *slog.Logger
	source   ISource[Envelope[T]]
	channels map[string]*Channel[T]
}

func NewHub[T any](opts ...HubOption[T]) *Hub[T] {
	options := hubOptions[T]{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Hub[T]{
		logger:   options.logger.With(slog.String("caller", "Hub")),
		source:   options.source,
		channels: make(map[string]*Channel[T]),
	}
}

// Start 啟動Hub，開始接收上游訊息並廣播
// 應在呼叫其他方法前先呼叫此方法
func (h *Hub[T]) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.active {
		return
	}
	h.active = true
	if h.source == nil {
		return
	}

	h.source.Start()
	h.logger.Info("hub started")
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer h.logger.Info("hub forwarding goroutine stopped")
		for msg := range h.source.Subscribe() {
			h.Broadcast(msg.Topic, msg.Message)
		}
	}()
}

// Broadcast 將訊息廣播給指定主題的本地訂閱者
func (h *Hub[T]) Broadcast(topic string, message T) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if channel, ok := h.channels[topic]; ok {
		channel.Broadcast(message)
	}
}

// Subscribe 訂閱指定主題，回傳接收訊息的唯讀通道
func (h *Hub[T]) Subscribe(topic string) (<-chan T, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active {
		return nil, context.Canceled
	}

	c, ok := h.channels[topic]
	if !ok {
		c = NewChannel[T]()
		h.channels[topic] = c
	}
	return c.Subscribe(), nil
}

// Unsubscribe 取消訂閱指定主題
func (h *Hub[T]) Unsubscribe(topic string, ch <-chan T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	c, ok := h.channels[topic]
	if !ok {
		return
	}
	c.Unsubscribe(ch)
	if c.IsIdle() {
		delete(h.channels, topic)
	}
}

// Done 停止Hub的運作並清除所有訂閱
func (h *Hub[T]) Done() {
	h.mu.Lock()
	if !h.active {
		h.mu.Unlock()
		return
	}
	h.active = false
	source := h.source
	h.mu.Unlock()

	if source != nil {
		source.Close()
	}
	h.wg.Wait()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, channel := range h.channels {
		channel.UnsubscribeAll()
	}
	clear(h.channels)
}
