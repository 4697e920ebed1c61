package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrConsumerClosed = errors.New("consumer is closed")
)

// Message 封裝消息和ack所需資料
// 下游處理完成後必須呼叫Done或Fail，否則消息會以pending的形式留在stream中，
// 由下一次啟動時的pending恢復流程重新遞送(at least once)
type Message[T any] struct {
	Data T

	client    *redis.Client
	done      bool
	messageID string
	stream    string
	group     string

	raw map[string]any
}

// Done 確認消息已處理完成
func (m *Message[T]) Done(ctx context.Context) error {
	const op = "Message.Done"
	if m.done {
		return nil
	}
	if err := m.client.XAck(ctx, m.stream, m.group, m.messageID).Err(); err != nil {
		return fmt.Errorf("[%s] failed to ack message: %w", op, err)
	}
	m.done = true
	return nil
}

// Fail 確認消息處理失敗，移動到dead-letter後ack
func (m *Message[T]) Fail(ctx context.Context, failErr error) error {
	const op = "Message.Fail"
	if m.done {
		return nil
	}

	m.raw["error"] = failErr.Error()
	if err := m.client.XAdd(ctx, &redis.XAddArgs{
		Stream: m.stream + ":dead-letter",
		Values: m.raw,
	}).Err(); err != nil {
		return fmt.Errorf("[%s] failed to move message to dead letter queue: %w", op, err)
	}
	if err := m.client.XAck(ctx, m.stream, m.group, m.messageID).Err(); err != nil {
		return fmt.Errorf("[%s] failed to ack failed message: %w", op, err)
	}
	m.done = true
	return nil
}

type groupConsumerOptions[T any] struct {
	logger       *slog.Logger
	decodeFunc   func(map[string]any) (T, error)
	bufferSize   int
	blockTimeout time.Duration
}

type GroupConsumerOption[T any] func(*groupConsumerOptions[T])

// WithGroupConsumerLogger 設置日誌記錄器
func WithGroupConsumerLogger[T any](logger *slog.Logger) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.logger = logger
	}
}

// WithGroupConsumerDecodeFunc 設置消息解析函數
func WithGroupConsumerDecodeFunc[T any](fn func(map[string]any) (T, error)) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.decodeFunc = fn
	}
}

// WithGroupConsumerBufferSize 設置下游channel的緩衝大小
func WithGroupConsumerBufferSize[T any](size int) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.bufferSize = size
	}
}

// WithGroupConsumerBlockTimeout 設置阻塞讀取超時時間
func WithGroupConsumerBlockTimeout[T any](d time.Duration) GroupConsumerOption[T] {
	return func(o *groupConsumerOptions[T]) {
		o.blockTimeout = d
	}
}

// GroupConsumer 以consumer group讀取Redis Stream，提供at least once的消息遞送
// 啟動時會先撈出所有pending的消息優先處理，確保上一次沒有ack的消息不會遺失
// 解析失敗的消息會被移動到dead-letter，不會卡住後續消息
type GroupConsumer[T any] struct {
	client        *redis.Client
	stream        string
	group         string
	consumer      string
	downStream    chan *Message[T]
	cancelFunc    context.CancelFunc
	wg            sync.WaitGroup
	closed        bool
	logger        *slog.Logger
	pendingMsgIds []string
	options       groupConsumerOptions[T]
}

func NewGroupConsumer[T any](
	client *redis.Client,
	stream, group, consumer string,
	opts ...GroupConsumerOption[T],
) (IGroupConsumer[T], error) {
	if client == nil {
		return nil, errors.New("redis client cannot be nil")
	}
	if stream == "" || group == "" || consumer == "" {
		return nil, errors.New("stream, group and consumer cannot be empty")
	}

	// 默認選項
	options := groupConsumerOptions[T]{
		logger:       slog.Default(),
		decodeFunc:   DecodeMessage[T],
		bufferSize:   1,
		blockTimeout: time.Second,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &GroupConsumer[T]{
		logger:   options.logger.With(slog.String("caller", "GroupConsumer"), slog.String("stream", stream), slog.String("group", group), slog.String("consumer", consumer)),
		client:   client,
		stream:   stream,
		group:    group,
		consumer: consumer,
		closed:   true,
		options:  options,
	}, nil
}

func (s *GroupConsumer[T]) Start() error {
	if !s.closed {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.downStream = make(chan *Message[T], s.options.bufferSize)
	s.cancelFunc = cancel
	s.closed = false
	s.logger.Info("starting group consumer")

	// 確保consumer group存在，已存在時redis會回報BUSYGROUP
	if err := s.client.XGroupCreateMkStream(ctx, s.stream, s.group, "0").Err(); err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		s.logger.Warn("failed to create consumer group", slog.Any("error", err))
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("group consumer goroutine stopped")
		defer close(s.downStream)

		// 先恢復pending的消息
		if err := s.fetchPendingMessageIds(ctx); err != nil {
			s.logger.Error("initial pending messages fetch failed", slog.Any("error", err))
		}
		for {
			if err := s.nextMessageWorkflow(ctx); err != nil {
				if errors.Is(err, context.Canceled) && ctx.Err() != nil {
					return
				}
				// 其他錯誤一般是與redis之間的通訊異常，重試即可
				continue
			}
		}
	}()

	return nil
}

// nextMessageWorkflow 讀取、解析並遞送下一條消息
func (s *GroupConsumer[T]) nextMessageWorkflow(ctx context.Context) error {
	message, err := s.fetchNextMessage(ctx)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if !errors.Is(err, context.Canceled) {
			s.logger.Error("fetch message error", slog.Any("error", err))
		}
		return err
	}
	data, err := s.options.decodeFunc(message.Values)
	if err != nil {
		// 解析失敗不會因為重試就成功，移動到dead-letter後繼續處理下一條
		s.logger.Error("failed to decode message",
			slog.String("messageId", message.ID),
			slog.Any("error", err))
		if deadLetterErr := s.moveToDeadLetter(ctx, message); deadLetterErr != nil {
			s.logger.Error("error moving message to dead letter",
				slog.String("messageId", message.ID),
				slog.Any("error", deadLetterErr))
			return deadLetterErr
		}
		return nil
	}
	msg := &Message[T]{
		Data:      data,
		messageID: message.ID,
		stream:    s.stream,
		group:     s.group,
		client:    s.client,
		raw:       message.Values,
	}
	select {
	case <-ctx.Done():
		// 消息會以pending的形式留在stream中，下一次啟動時恢復
		return context.Canceled
	case s.downStream <- msg:
		return nil
	}
}

func (s *GroupConsumer[T]) fetchPendingMessageIds(ctx context.Context) error {
	s.pendingMsgIds = make([]string, 0, 1000)
	lastId := "-"

	for {
		pending, err := s.client.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: s.stream,
			Group:  s.group,
			Start:  lastId,
			End:    "+",
			Count:  100,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				break
			}
			return fmt.Errorf("error getting pending messages: %w", err)
		}
		if len(pending) == 0 {
			break
		}
		for _, p := range pending {
			s.pendingMsgIds = append(s.pendingMsgIds, p.ID)
		}
		lastId = pending[len(pending)-1].ID
		if len(pending) < 100 {
			break
		}
	}

	s.logger.Info("fetched all pending message IDs", slog.Int("count", len(s.pendingMsgIds)))
	return nil
}

func (s *GroupConsumer[T]) fetchNextMessage(ctx context.Context) (redis.XMessage, error) {
	var message redis.XMessage
	var err error

	if len(s.pendingMsgIds) > 0 {
		// 優先讀取pending消息
		var messages []redis.XMessage
		messages, err = s.client.XRangeN(ctx, s.stream, s.pendingMsgIds[0], s.pendingMsgIds[0], 1).Result()
		s.pendingMsgIds = s.pendingMsgIds[1:]
		if len(messages) > 0 {
			message = messages[0]
		}
	} else {
		// 讀取新消息
		var streams []redis.XStream
		streams, err = s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    s.group,
			Consumer: s.consumer,
			Streams:  []string{s.stream, ">"},
			Count:    1,
			Block:    s.options.blockTimeout,
		}).Result()
		if len(streams) > 0 && len(streams[0].Messages) > 0 {
			message = streams[0].Messages[0]
		}
	}

	if err != nil {
		return redis.XMessage{}, err
	}
	if message.ID == "" {
		return redis.XMessage{}, redis.Nil
	}
	return message, nil
}

func (s *GroupConsumer[T]) moveToDeadLetter(ctx context.Context, message redis.XMessage) error {
	deadLetterStream := s.stream + ":dead-letter"

	if err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: deadLetterStream,
		Values: message.Values,
	}).Err(); err != nil {
		return fmt.Errorf("failed to move message to dead letter queue: %w", err)
	}
	return s.client.XAck(ctx, s.stream, s.group, message.ID).Err()
}

// Subscribe 訂閱Stream，返回Message通道
func (s *GroupConsumer[T]) Subscribe() <-chan *Message[T] {
	return s.downStream
}

func (s *GroupConsumer[T]) Close() error {
	if s.closed {
		return nil
	}
	s.logger.Info("closing group consumer")
	s.closed = true
	s.cancelFunc()
	s.wg.Wait()
	s.logger.Info("group consumer closed gracefully")
	return nil
}
