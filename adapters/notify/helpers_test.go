package notify_test

import (
	"context"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"hammer/adapters/notify"
	redisAdapter "hammer/adapters/redis"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
}

func setupMiniredis(t *testing.T) *redis.Client {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

// fakeProducer 紀錄所有發布的事件
type fakeProducer struct {
	mu     sync.Mutex
	events []notify.Event
	err    error
}

func (p *fakeProducer) Start() {}

func (p *fakeProducer) Publish(event notify.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *fakeProducer) Close() {}

func (p *fakeProducer) published() []notify.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]notify.Event(nil), p.events...)
}

// fakeDeliverer 紀錄遞送的事件，可設定遞送失敗
type fakeDeliverer struct {
	mu        sync.Mutex
	delivered []notify.Event
	err       error
}

func (d *fakeDeliverer) Deliver(_ context.Context, event notify.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.delivered = append(d.delivered, event)
	return nil
}

func (d *fakeDeliverer) first() notify.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.delivered[0]
}

func (d *fakeDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.delivered)
}

func publishEvent(t *testing.T, client *redis.Client, stream string, event notify.Event) {
	t.Helper()
	values, err := redisAdapter.EncodeMessage(event)
	require.NoError(t, err)
	require.NoError(t, client.XAdd(context.Background(), &redis.XAddArgs{
		Stream: stream,
		Values: values,
	}).Err())
}
