// Package notify 將引擎產生的事件發布到Redis Stream
// 事件在stream中會被兩種消費者讀取:
//   - 每個節點上的SSE轉發器(plain consumer)，把事件廣播給網頁客戶端
//   - 通知派送worker(consumer group)，負責對外遞送通知(at least once)
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	redisAdapter "hammer/adapters/redis"
	"hammer/engine"
)

type EventKind string

const (
	KindBidPlaced  EventKind = "BID_PLACED"
	KindOutbid     EventKind = "OUTBID"
	KindPaymentDue EventKind = "PAYMENT_DUE"
	KindSettled    EventKind = "SETTLED"
)

// Event 拍賣事件的wire格式
// RecipientID為uuid.Nil時表示廣播事件，否則是針對單一使用者的通知
type Event struct {
	Kind        EventKind `json:"kind" msgpack:"kind"`
	AuctionID   uuid.UUID `json:"auctionID" msgpack:"auctionID"`
	RecipientID uuid.UUID `json:"recipientID,omitempty" msgpack:"recipientID"`
	Amount      uint64    `json:"amount,omitempty" msgpack:"amount"`
	PrevAmount  uint64    `json:"prevAmount,omitempty" msgpack:"prevAmount"`
	PaymentDue  time.Time `json:"paymentDue,omitempty" msgpack:"paymentDue"`
	Attempt     uint32    `json:"attempt,omitempty" msgpack:"attempt"`
	At          time.Time `json:"at" msgpack:"at"`
}

// Broadcast 判斷事件是否為廣播事件
func (e Event) Broadcast() bool {
	return e.RecipientID == uuid.Nil
}

// Gateway 實作engine.INotificationGateway，事件經由producer非同步發布
type Gateway struct {
	producer redisAdapter.IProducer[Event]
	now      func() time.Time
}

func NewGateway(producer redisAdapter.IProducer[Event]) (*Gateway, error) {
	if producer == nil {
		return nil, errors.New("producer cannot be nil")
	}
	return &Gateway{
		producer: producer,
		now:      time.Now,
	}, nil
}

func (g *Gateway) NotifyBidPlaced(_ context.Context, notice engine.BidPlacedNotice) error {
	return g.producer.Publish(Event{
		Kind:      KindBidPlaced,
		AuctionID: notice.AuctionID,
		Amount:    notice.Amount,
		At:        notice.BidTime,
	})
}

func (g *Gateway) NotifyOutbid(_ context.Context, notice engine.OutbidNotice) error {
	return g.producer.Publish(Event{
		Kind:        KindOutbid,
		AuctionID:   notice.AuctionID,
		RecipientID: notice.BidderID,
		Amount:      notice.NewAmount,
		PrevAmount:  notice.OldAmount,
		At:          g.now(),
	})
}

func (g *Gateway) NotifyPaymentDue(_ context.Context, notice engine.PaymentDueNotice) error {
	return g.producer.Publish(Event{
		Kind:        KindPaymentDue,
		AuctionID:   notice.AuctionID,
		RecipientID: notice.WinnerID,
		Amount:      notice.FinalPrice,
		PaymentDue:  notice.PaymentDue,
		Attempt:     notice.Attempt,
		At:          g.now(),
	})
}

func (g *Gateway) NotifySettled(_ context.Context, notice engine.SettledNotice) error {
	return g.producer.Publish(Event{
		Kind:        KindSettled,
		AuctionID:   notice.AuctionID,
		RecipientID: notice.WinnerID,
		Amount:      notice.FinalPrice,
		At:          notice.PaidAt,
	})
}
