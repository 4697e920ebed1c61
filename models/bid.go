package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Bid 代表拍賣的出價紀錄
// 出價紀錄是append-only的，建立後不會被修改或刪除
// 同一場拍賣中被接受的出價金額嚴格遞增，且每一步都是加價刻度的正整數倍
type Bid struct {
	gorm.Model

	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	AuctionID uuid.UUID `gorm:"type:uuid;not null;index;<-:create"`
	BidderID  uuid.UUID `gorm:"type:uuid;not null;<-:create"`
	Amount    uint64    `gorm:"type:bigint;not null;<-:create"`

	// 外鍵關聯
	Auction Auction
}
