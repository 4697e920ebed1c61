package engine_test

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"hammer/engine"
	"hammer/models"
	"hammer/store"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	log.SetOutput(io.Discard)
}

// setupStore 建立一個以sqlite為後端的Store
// 每個測試使用獨立的資料庫檔案，互不干擾
func setupStore(t *testing.T) *store.Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "hammer.db")), &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	})
	require.NoError(t, err)

	s, err := store.NewStore(db)
	require.NoError(t, err)
	require.NoError(t, s.AutoMigrate())
	return s
}

// fakeNotifier 紀錄引擎發出的所有事件
type fakeNotifier struct {
	mu         sync.Mutex
	bidPlaced  []engine.BidPlacedNotice
	outbid     []engine.OutbidNotice
	paymentDue []engine.PaymentDueNotice
	settled    []engine.SettledNotice
}

func (n *fakeNotifier) NotifyBidPlaced(_ context.Context, notice engine.BidPlacedNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.bidPlaced = append(n.bidPlaced, notice)
	return nil
}

func (n *fakeNotifier) NotifyOutbid(_ context.Context, notice engine.OutbidNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.outbid = append(n.outbid, notice)
	return nil
}

func (n *fakeNotifier) NotifyPaymentDue(_ context.Context, notice engine.PaymentDueNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paymentDue = append(n.paymentDue, notice)
	return nil
}

func (n *fakeNotifier) NotifySettled(_ context.Context, notice engine.SettledNotice) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.settled = append(n.settled, notice)
	return nil
}

// createAuction 建立一場進行中的測試拍賣
// 起標價50000，加價刻度1000，時間區間為前後各一小時
func createAuction(t *testing.T, s *store.Store, mutate func(*models.Auction)) *models.Auction {
	t.Helper()
	now := time.Now()
	auction := &models.Auction{
		SellerID:      uuid.Must(uuid.NewV7()),
		ProductRef:    "product-001",
		Title:         "Vintage mechanical watch",
		StartingPrice: 50000,
		TickSize:      1000,
		StartTime:     now.Add(-time.Hour),
		EndTime:       now.Add(time.Hour),
	}
	if mutate != nil {
		mutate(auction)
	}
	require.NoError(t, s.CreateAuction(context.Background(), auction))
	return auction
}

// placeBid 直接經由store寫入一筆出價
func placeBid(t *testing.T, s *store.Store, auction *models.Auction, bidderID uuid.UUID, amount uint64) *models.Bid {
	t.Helper()
	ctx := context.Background()
	current, err := s.GetAuction(ctx, auction.ID)
	require.NoError(t, err)
	bid := &models.Bid{
		AuctionID: auction.ID,
		BidderID:  bidderID,
		Amount:    amount,
	}
	require.NoError(t, s.AppendBid(ctx, bid, current.Version))
	return bid
}
