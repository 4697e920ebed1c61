package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AuctionStatus 代表拍賣的生命週期狀態
// 狀態轉移是單向的，終止狀態(COMPLETED/CANCELLED/FAILED)不會再回到PROCEEDING
type AuctionStatus string

const (
	AuctionStatusProceeding AuctionStatus = "PROCEEDING"
	AuctionStatusCompleted  AuctionStatus = "COMPLETED"
	AuctionStatusCancelled  AuctionStatus = "CANCELLED"
	AuctionStatusFailed     AuctionStatus = "FAILED"
)

// Terminal 判斷狀態是否為終止狀態
func (s AuctionStatus) Terminal() bool {
	switch s {
	case AuctionStatusCompleted, AuctionStatusCancelled, AuctionStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo 判斷狀態是否允許轉移到目標狀態
//   - PROCEEDING -> COMPLETED/FAILED: 由排程器在拍賣結束時觸發
//   - PROCEEDING/COMPLETED -> CANCELLED: 管理員在結算完成前觸發
//   - 終止狀態之間不允許互相轉移，也不允許回到PROCEEDING
func (s AuctionStatus) CanTransitionTo(next AuctionStatus) bool {
	switch s {
	case AuctionStatusProceeding:
		return next == AuctionStatusCompleted || next == AuctionStatusCancelled || next == AuctionStatusFailed
	case AuctionStatusCompleted:
		// 結算超時或管理員取消
		return next == AuctionStatusCancelled || next == AuctionStatusFailed
	}
	return false
}

// Auction 代表拍賣系統中的拍賣場次
// 包含起標價、目前最高出價、加價刻度、拍賣時間區間與生命週期狀態
// CurrentPrice只會透過被接受的出價單調遞增，Version為樂觀鎖版本欄位
type Auction struct {
	gorm.Model

	ID            uuid.UUID     `gorm:"type:uuid;primaryKey"`
	SellerID      uuid.UUID     `gorm:"type:uuid;not null;<-:create"`
	ProductRef    string        `gorm:"type:varchar(255);not null;<-:create"`
	Title         string        `gorm:"type:varchar(255);not null"`
	StartingPrice uint64        `gorm:"type:bigint;not null;<-:create"`
	CurrentPrice  uint64        `gorm:"type:bigint;not null"`
	TickSize      uint64        `gorm:"type:bigint;not null;<-:create"`
	CurrentBidID  *uuid.UUID    `gorm:"type:uuid"`
	StartTime     time.Time     `gorm:"type:timestamp with time zone;not null;<-:create"`
	EndTime       time.Time     `gorm:"type:timestamp with time zone;not null"`
	Status        AuctionStatus `gorm:"type:varchar(16);not null;default:'PROCEEDING';index"`
	Version       uint64        `gorm:"type:bigint;not null;default:0"`

	// 外鍵關聯
	CurrentBid *Bid `gorm:"foreignKey:CurrentBidID"`
	BidRecords []Bid
}
