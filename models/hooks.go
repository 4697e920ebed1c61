package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// 主鍵統一使用uuidv7，依建立時間遞增，方便依id做穩定排序
// 在應用端產生而不是依賴資料庫函式，讓postgres與測試用的sqlite行為一致

func (a *Auction) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		a.ID = id
	}
	return nil
}

func (b *Bid) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		b.ID = id
	}
	return nil
}

func (c *WinningClaim) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		c.ID = id
	}
	return nil
}
