package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ClaimState 代表得標請求的狀態
// PENDING表示等待付款，PAID與EXPIRED為終止狀態，只會被設定一次
type ClaimState string

const (
	ClaimStatePending ClaimState = "PENDING"
	ClaimStatePaid    ClaimState = "PAID"
	ClaimStateExpired ClaimState = "EXPIRED"
)

// WinningClaim 代表得標者在付款期限內完成付款的權利與義務
// 同一場拍賣在任何時間點最多只會有一筆PENDING的得標請求
// EXPIRED的紀錄會被保留，用來確保同一位出價者不會在同一場拍賣被重複遞補
type WinningClaim struct {
	gorm.Model

	ID         uuid.UUID  `gorm:"type:uuid;primaryKey"`
	AuctionID  uuid.UUID  `gorm:"type:uuid;not null;index;<-:create"`
	BidID      uuid.UUID  `gorm:"type:uuid;not null;<-:create"`
	WinnerID   uuid.UUID  `gorm:"type:uuid;not null;<-:create"`
	FinalPrice uint64     `gorm:"type:bigint;not null;<-:create"`
	PaymentDue time.Time  `gorm:"type:timestamp with time zone;not null;<-:create"`
	State      ClaimState `gorm:"type:varchar(16);not null;default:'PENDING';index"`
	PaidAt     *time.Time `gorm:"type:timestamp with time zone"`
	// PaymentProof 付款閘道回呼帶回的憑證，只在標記已付款時寫入一次
	PaymentProof string `gorm:"type:text"`
	Attempt      uint32 `gorm:"type:integer;not null;default:1;<-:create"`

	// 外鍵關聯
	Auction Auction
	Bid     Bid
}
