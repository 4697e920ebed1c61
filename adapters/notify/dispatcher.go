package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	redisAdapter "hammer/adapters/redis"
)

// IDeliverer 定義通知的實際遞送介面(email、推播等)
type IDeliverer interface {
	Deliver(ctx context.Context, event Event) error
}

// LogDeliverer 只記錄日誌的遞送實作，沒有接上外部通知服務時使用
type LogDeliverer struct {
	logger *slog.Logger
}

func NewLogDeliverer(logger *slog.Logger) *LogDeliverer {
	return &LogDeliverer{
		logger: logger.With(slog.String("caller", "LogDeliverer")),
	}
}

func (d *LogDeliverer) Deliver(_ context.Context, event Event) error {
	d.logger.Info("deliver notification",
		slog.String("kind", string(event.Kind)),
		slog.String("auctionID", event.AuctionID.String()),
		slog.String("recipientID", event.RecipientID.String()),
		slog.Int64("amount", int64(event.Amount)),
	)
	return nil
}

type dispatcherOptions struct {
	logger    *slog.Logger
	deliverer IDeliverer
}

type DispatcherOption func(*dispatcherOptions)

// WithDispatcherLogger 設置日誌記錄器
func WithDispatcherLogger(logger *slog.Logger) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.logger = logger
	}
}

// WithDispatcherDeliverer 設置通知的遞送實作
func WithDispatcherDeliverer(deliverer IDeliverer) DispatcherOption {
	return func(o *dispatcherOptions) {
		o.deliverer = deliverer
	}
}

// Dispatcher 通知派送worker
// 以consumer group讀取事件stream，把個人通知交給deliverer遞送
// 廣播事件只給SSE轉發器使用，這裡會直接ack跳過
// 遞送為at least once: 未ack的事件會在下一次啟動時重新遞送
type Dispatcher struct {
	consumer redisAdapter.IGroupConsumer[Event]
	options  dispatcherOptions

	logger *slog.Logger
	wg     sync.WaitGroup
	closed bool
}

func NewDispatcher(consumer redisAdapter.IGroupConsumer[Event], opts ...DispatcherOption) (*Dispatcher, error) {
	if consumer == nil {
		return nil, errors.New("consumer cannot be nil")
	}

	// 默認選項
	options := dispatcherOptions{
		logger: slog.Default(),
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}
	if options.deliverer == nil {
		options.deliverer = NewLogDeliverer(options.logger)
	}

	return &Dispatcher{
		consumer: consumer,
		options:  options,
		logger:   options.logger.With(slog.String("caller", "Dispatcher")),
		closed:   true,
	}, nil
}

func (d *Dispatcher) Start() error {
	const op = "Dispatcher.Start"
	if !d.closed {
		return nil
	}
	if err := d.consumer.Start(); err != nil {
		return fmt.Errorf("[%s] Fail to start consumer, err=%w", op, err)
	}
	d.closed = false
	d.logger.Info("dispatcher started")

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.logger.Info("dispatcher goroutine stopped")
		for msg := range d.consumer.Subscribe() {
			d.handle(msg)
		}
	}()

	return nil
}

func (d *Dispatcher) handle(msg *redisAdapter.Message[Event]) {
	ctx := context.Background()
	event := msg.Data

	// 廣播事件不需要個人遞送
	if event.Broadcast() {
		if err := msg.Done(ctx); err != nil {
			d.logger.Error("failed to ack broadcast event", slog.Any("error", err))
		}
		return
	}

	if err := d.options.deliverer.Deliver(ctx, event); err != nil {
		d.logger.Error("failed to deliver notification",
			slog.String("kind", string(event.Kind)),
			slog.String("recipientID", event.RecipientID.String()),
			slog.Any("error", err))
		if failErr := msg.Fail(ctx, err); failErr != nil {
			d.logger.Error("failed to move event to dead letter", slog.Any("error", failErr))
		}
		return
	}
	if err := msg.Done(ctx); err != nil {
		d.logger.Error("failed to ack event", slog.Any("error", err))
	}
}

func (d *Dispatcher) Close() error {
	if d.closed {
		return nil
	}
	d.closed = true
	if err := d.consumer.Close(); err != nil {
		return err
	}
	d.wg.Wait()
	d.logger.Info("dispatcher closed gracefully")
	return nil
}
