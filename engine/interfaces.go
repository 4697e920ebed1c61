//go:generate mockgen -package=engine -destination=mock.go -source=interfaces.go

package engine

import (
	"context"
	"time"

	"github.com/google/uuid"

	"hammer/models"
)

// AuctionFilter 定義查詢拍賣列表時的篩選條件
type AuctionFilter struct {
	Status       *models.AuctionStatus
	ExcludeEnded bool
	Page         int
	Size         int
}

// IAuctionStore 定義拍賣與出價紀錄的持久化介面
// AppendBid是唯一會改動共享狀態(目前價格與領先出價)的寫入路徑，
// 其餘寫入都是一次性的狀態轉移，由狀態前置條件保證冪等
type IAuctionStore interface {
	// CreateAuction 建立一場新的拍賣
	CreateAuction(ctx context.Context, auction *models.Auction) error
	// GetAuction 取得拍賣與目前領先出價，找不到時回傳ErrNotFound
	GetAuction(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error)
	// ListAuctions 依條件查詢拍賣列表
	ListAuctions(ctx context.Context, filter AuctionFilter) ([]models.Auction, error)
	// AppendBid 在同一個交易內寫入出價、推進目前價格並更新領先出價
	// 交易會檢查樂觀鎖版本與PROCEEDING狀態，不符合時回傳ErrVersionConflict
	AppendBid(ctx context.Context, bid *models.Bid, expectVersion uint64) error
	// LeadingBid 取得目前領先的出價，沒有任何出價時回傳ErrNotFound
	LeadingBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error)
	// ListBids 分頁取得出價紀錄，依出價時間由新到舊排序
	ListBids(ctx context.Context, auctionID uuid.UUID, page, size int) ([]models.Bid, error)
	// DueAuctions 取得所有已經超過結束時間但仍在PROCEEDING的拍賣
	DueAuctions(ctx context.Context, now time.Time, limit int) ([]models.Auction, error)
	// UpdateStatus 在狀態前置條件成立時轉移拍賣狀態，回傳是否實際發生轉移
	// endTime不為nil時會一併更新結束時間
	UpdateStatus(ctx context.Context, auctionID uuid.UUID, from, to models.AuctionStatus, endTime *time.Time) (bool, error)
	// UpdateEndTime 更新仍在PROCEEDING的拍賣的結束時間
	UpdateEndTime(ctx context.Context, auctionID uuid.UUID, endTime time.Time) (bool, error)
}

// IClaimStore 定義得標請求的持久化介面
type IClaimStore interface {
	// CloseWithClaim 在同一個交易內將拍賣由PROCEEDING轉移到COMPLETED並建立得標請求
	// 拍賣已經不在PROCEEDING時不做任何事並回傳false，讓排程器的關閉操作可以安全重送
	CloseWithClaim(ctx context.Context, auctionID uuid.UUID, claim *models.WinningClaim) (bool, error)
	// CreateClaim 建立一筆新的得標請求(遞補時使用)
	CreateClaim(ctx context.Context, claim *models.WinningClaim) error
	// GetClaim 取得得標請求，找不到時回傳ErrNotFound
	GetClaim(ctx context.Context, claimID uuid.UUID) (*models.WinningClaim, error)
	// LatestClaim 取得拍賣最新一筆得標請求，找不到時回傳ErrNotFound
	LatestClaim(ctx context.Context, auctionID uuid.UUID) (*models.WinningClaim, error)
	// DueClaims 取得所有已經超過付款期限但仍在PENDING的得標請求
	DueClaims(ctx context.Context, now time.Time, limit int) ([]models.WinningClaim, error)
	// MarkPaid 在PENDING前置條件成立時將得標請求標記為已付款，回傳是否實際發生轉移
	MarkPaid(ctx context.Context, claimID uuid.UUID, proof string, paidAt time.Time) (bool, error)
	// ExpireClaim 在PENDING前置條件成立時將得標請求標記為過期，回傳是否實際發生轉移
	ExpireClaim(ctx context.Context, claimID uuid.UUID) (bool, error)
	// OfferedWinners 取得這場拍賣曾經持有得標請求的所有出價者
	OfferedWinners(ctx context.Context, auctionID uuid.UUID) ([]uuid.UUID, error)
	// NextCandidateBid 取得未被遞補過的出價者中金額最高的出價，沒有時回傳ErrNotFound
	NextCandidateBid(ctx context.Context, auctionID uuid.UUID, exclude []uuid.UUID) (*models.Bid, error)
}

// ILocker 定義單一鍵值的互斥鎖介面
// Lock回傳的context會在鎖失效時被取消，持鎖期間的操作都應該使用它
type ILocker interface {
	Lock(ctx context.Context) (context.Context, error)
	Unlock() (bool, error)
}

// ILockProvider 依鍵值提供互斥鎖，用來實作per-auction的序列化區段
// 不同鍵值之間互不影響，避免單一全域鎖拖垮多場拍賣同時競價的吞吐量
type ILockProvider interface {
	Mutex(key string) ILocker
}

// INotificationGateway 定義對外的通知介面
// 通知的遞送屬於外部協作者的職責，引擎只負責在正確的時機發出事件
// 通知失敗不會影響出價與結算的結果，只會留下紀錄
type INotificationGateway interface {
	// NotifyBidPlaced 廣播一筆新的領先出價
	NotifyBidPlaced(ctx context.Context, notice BidPlacedNotice) error
	// NotifyOutbid 通知前一位領先者已被超越
	NotifyOutbid(ctx context.Context, notice OutbidNotice) error
	// NotifyPaymentDue 通知得標者付款期限
	NotifyPaymentDue(ctx context.Context, notice PaymentDueNotice) error
	// NotifySettled 發出結算完成事件，由下游的訂單系統消費
	NotifySettled(ctx context.Context, notice SettledNotice) error
}

// BidPlacedNotice 新領先出價事件
type BidPlacedNotice struct {
	AuctionID uuid.UUID
	BidderID  uuid.UUID
	Amount    uint64
	BidTime   time.Time
}

// OutbidNotice 出價被超越事件
type OutbidNotice struct {
	AuctionID uuid.UUID
	BidderID  uuid.UUID
	OldAmount uint64
	NewAmount uint64
}

// PaymentDueNotice 得標付款期限事件
type PaymentDueNotice struct {
	AuctionID  uuid.UUID
	WinnerID   uuid.UUID
	FinalPrice uint64
	PaymentDue time.Time
	Attempt    uint32
}

// SettledNotice 結算完成事件
type SettledNotice struct {
	AuctionID  uuid.UUID
	WinnerID   uuid.UUID
	FinalPrice uint64
	PaidAt     time.Time
}
