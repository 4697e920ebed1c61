package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/chanx"
)

var (
	ErrProducerClosed = errors.New("producer is closed")
)

type producerOptions[T any] struct {
	logger     *slog.Logger
	bufferSize int
	maxLen     int64
	encodeFunc func(T) (map[string]any, error)
}

type ProducerOption[T any] func(*producerOptions[T])

// WithProducerLogger 設置日誌記錄器
func WithProducerLogger[T any](logger *slog.Logger) ProducerOption[T] {
	return func(o *producerOptions[T]) {
		o.logger = logger
	}
}

// WithProducerBufferSize 設置緩衝大小
func WithProducerBufferSize[T any](size int) ProducerOption[T] {
	return func(o *producerOptions[T]) {
		o.bufferSize = size
	}
}

// WithProducerMaxLen 設置stream的長度上限(approximate trimming)
func WithProducerMaxLen[T any](maxLen int64) ProducerOption[T] {
	return func(o *producerOptions[T]) {
		o.maxLen = maxLen
	}
}

// WithProducerEncodeFunc 設置消息序列化函數
func WithProducerEncodeFunc[T any](fn func(T) (map[string]any, error)) ProducerOption[T] {
	return func(o *producerOptions[T]) {
		o.encodeFunc = fn
	}
}

// Producer 將事件非同步寫入Redis Stream
// Publish只負責把事件放進unbounded channel，實際的XADD由背景goroutine處理，
// 避免通知發送阻塞出價與結算的主流程
type Producer[T any] struct {
	client     *redis.Client
	stream     string
	upstream   *chanx.UnboundedChan[map[string]any]
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool
	logger     *slog.Logger
	options    producerOptions[T]
}

func NewProducer[T any](client *redis.Client, stream string, opts ...ProducerOption[T]) (*Producer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" {
		return nil, errors.New("stream cannot be empty")
	}

	// 默認選項
	options := producerOptions[T]{
		logger:     slog.Default(),
		bufferSize: 100,
		encodeFunc: EncodeMessage[T],
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Producer[T]{
		client:  client,
		stream:  stream,
		closed:  true,
		logger:  options.logger.With(slog.String("caller", "Producer"), slog.String("stream", stream)),
		options: options,
	}, nil
}

func (p *Producer[T]) Start() {
	if !p.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.upstream = chanx.NewUnboundedChan[map[string]any](ctx, p.options.bufferSize)
	p.cancelFunc = cancel
	p.closed = false
	p.logger.Info("starting stream producer")

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.logger.Info("producer goroutine stopped")

		for {
			select {
			case <-ctx.Done():
				return
			case message := <-p.upstream.Out:
				id, err := p.client.XAdd(ctx, &redis.XAddArgs{
					Stream: p.stream,
					MaxLen: p.options.maxLen,
					Approx: p.options.maxLen > 0,
					Values: message,
				}).Result()
				if err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					p.logger.Error("publish message error", slog.Any("error", err))
					continue
				}
				p.logger.Debug("message published", slog.String("messageId", id))
			}
		}
	}()
}

// Publish 發布一筆事件，序列化失敗或producer已關閉時回傳錯誤
func (p *Producer[T]) Publish(data T) error {
	if p.closed {
		return ErrProducerClosed
	}

	message, err := p.options.encodeFunc(data)
	if err != nil {
		return fmt.Errorf("encode message error: %w", err)
	}

	p.upstream.In <- message
	return nil
}

func (p *Producer[T]) Close() {
	if p.closed {
		return
	}
	p.logger.Info("closing stream producer")
	p.closed = true
	p.cancelFunc()
	p.wg.Wait()
	p.logger.Info("stream producer closed")
}
