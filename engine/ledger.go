package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"hammer/models"
)

type ledgerOptions struct {
	logger          *slog.Logger
	maxRetries      int
	lockKeyPrefix   string
	allowSelfOutbid bool
}

type LedgerOption func(*ledgerOptions)

// WithLedgerLogger 設置日誌記錄器
func WithLedgerLogger(logger *slog.Logger) LedgerOption {
	return func(o *ledgerOptions) {
		o.logger = logger
	}
}

// WithLedgerMaxRetries 設置版本衝突時的內部重試上限
func WithLedgerMaxRetries(n int) LedgerOption {
	return func(o *ledgerOptions) {
		o.maxRetries = n
	}
}

// WithLedgerLockKeyPrefix 設置互斥鎖鍵值的前綴
func WithLedgerLockKeyPrefix(prefix string) LedgerOption {
	return func(o *ledgerOptions) {
		o.lockKeyPrefix = prefix
	}
}

// WithLedgerAllowSelfOutbid 設置是否允許領先者提高自己的出價
func WithLedgerAllowSelfOutbid(allow bool) LedgerOption {
	return func(o *ledgerOptions) {
		o.allowSelfOutbid = allow
	}
}

// Ledger 是出價的唯一寫入路徑，也是目前價格與領先出價的資料來源
// 同一場拍賣的出價會在per-auction的互斥鎖內被序列化，
// 確保「讀取目前價格、驗證、寫入」整段是原子的；不同拍賣之間互不阻塞
type Ledger struct {
	store    IAuctionStore
	locks    ILockProvider
	notifier INotificationGateway
	logger   *slog.Logger
	options  ledgerOptions
}

func NewLedger(store IAuctionStore, locks ILockProvider, notifier INotificationGateway, opts ...LedgerOption) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("auction store cannot be nil")
	}
	if locks == nil {
		return nil, errors.New("lock provider cannot be nil")
	}
	if notifier == nil {
		return nil, errors.New("notification gateway cannot be nil")
	}

	// 默認選項
	options := ledgerOptions{
		logger:        slog.Default(),
		maxRetries:    3,
		lockKeyPrefix: "auction:",
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Ledger{
		store:    store,
		locks:    locks,
		notifier: notifier,
		logger:   options.logger.With(slog.String("caller", "Ledger")),
		options:  options,
	}, nil
}

// Submit 處理一筆出價請求
// 流程:
//   - 1. 取得這場拍賣的互斥鎖
//   - 2. 讀取最新的拍賣狀態並驗證出價
//   - 3. 在同一個交易內寫入出價並推進目前價格(樂觀鎖版本檢查)
//   - 4. 版本衝突時以最新價格重新驗證並重試，超過上限才對呼叫端回報BID_CONFLICT
//   - 5. 通知前一位領先者與事件訂閱者
//
// 驗證失敗會回傳RejectError，呼叫端可以直接取出原因代碼
func (l *Ledger) Submit(ctx context.Context, auctionID, bidderID uuid.UUID, amount uint64) (*models.Bid, error) {
	const op = "Ledger.Submit"

	// 取得這場拍賣的出價鎖
	mutex := l.locks.Mutex(l.options.lockKeyPrefix + auctionID.String())
	lockCtx, err := mutex.Lock(ctx)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to acquire bid lock, err=%w", op, err)
	}
	defer func() {
		if _, err := mutex.Unlock(); err != nil {
			l.logger.Warn("Fail to release bid lock", slog.String("op", op), slog.Any("error", err))
		}
	}()

	policy := ValidatePolicy{AllowSelfOutbid: l.options.allowSelfOutbid}
	for attempt := 0; attempt <= l.options.maxRetries; attempt++ {
		// 讀取最新的拍賣狀態
		auction, err := l.store.GetAuction(lockCtx, auctionID)
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to load auction, err=%w", op, err)
		}
		// 以最新狀態驗證出價
		if err := ValidateBid(auction, bidderID, amount, time.Now(), policy); err != nil {
			return nil, err
		}
		// 寫入出價並推進目前價格
		bid := &models.Bid{
			AuctionID: auctionID,
			BidderID:  bidderID,
			Amount:    amount,
		}
		err = l.store.AppendBid(lockCtx, bid, auction.Version)
		if errors.Is(err, ErrVersionConflict) {
			// 基準價格已經過期，重新讀取後再驗證一次
			// 取消操作如果先一步提交，下一輪驗證會以AUCTION_CLOSED拒絕
			l.logger.Debug("Stale base price, retrying",
				slog.String("auctionID", auctionID.String()),
				slog.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to append bid, err=%w", op, err)
		}

		l.logger.Info("Higher bid occurs",
			slog.String("auctionID", auctionID.String()),
			slog.String("bidder", bidderID.String()),
			slog.Int64("bid", int64(amount)))
		l.notify(lockCtx, auction, bid)
		return bid, nil
	}
	return nil, ErrBidConflict
}

// notify 發送出價事件，失敗只記錄不影響出價結果
func (l *Ledger) notify(ctx context.Context, auction *models.Auction, bid *models.Bid) {
	if err := l.notifier.NotifyBidPlaced(ctx, BidPlacedNotice{
		AuctionID: auction.ID,
		BidderID:  bid.BidderID,
		Amount:    bid.Amount,
		BidTime:   time.Now(),
	}); err != nil {
		l.logger.Error("Fail to publish bid event", slog.Any("error", err))
	}
	// 通知前一位領先者
	if auction.CurrentBid != nil && auction.CurrentBid.BidderID != bid.BidderID {
		if err := l.notifier.NotifyOutbid(ctx, OutbidNotice{
			AuctionID: auction.ID,
			BidderID:  auction.CurrentBid.BidderID,
			OldAmount: auction.CurrentBid.Amount,
			NewAmount: bid.Amount,
		}); err != nil {
			l.logger.Error("Fail to publish outbid event", slog.Any("error", err))
		}
	}
}

// LeadingBid 取得目前領先的出價
// 這是領先者的標準答案來源，前端不應該用部分的出價歷史自行推斷
func (l *Ledger) LeadingBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error) {
	return l.store.LeadingBid(ctx, auctionID)
}

// History 分頁取得出價紀錄，由新到舊排序
// 讀取路徑只保證read committed，可能會錯過一筆剛好在讀取後提交的出價
func (l *Ledger) History(ctx context.Context, auctionID uuid.UUID, page, size int) ([]models.Bid, error) {
	const op = "Ledger.History"
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	bids, err := l.store.ListBids(ctx, auctionID, page, size)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to list bids, err=%w", op, err)
	}
	return bids, nil
}
