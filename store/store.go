package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hammer/engine"
	"hammer/models"
)

// Store 以gorm實作engine的儲存介面
// 出價寫入與狀態轉移都以單一交易完成，狀態前置條件直接寫進UPDATE的WHERE子句，
// 讓「影響列數為0」成為冪等操作的判斷依據
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	return &Store{db: db}, nil
}

// AutoMigrate 建立或更新資料表結構
func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(&models.Auction{}, &models.Bid{}, &models.WinningClaim{})
}

// translate 將gorm的錯誤轉換為領域錯誤
func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return engine.ErrNotFound
	}
	return err
}

// CreateAuction 建立一場新的拍賣
// 目前價格初始化為起標價，狀態固定為PROCEEDING
func (s *Store) CreateAuction(ctx context.Context, auction *models.Auction) error {
	const op = "Store.CreateAuction"
	if auction.TickSize == 0 {
		return fmt.Errorf("[%s] Tick size must be positive", op)
	}
	auction.CurrentPrice = auction.StartingPrice
	auction.Status = models.AuctionStatusProceeding
	if result := s.db.WithContext(ctx).Create(auction); result.Error != nil {
		return fmt.Errorf("[%s] Fail to create auction, err=%w", op, result.Error)
	}
	return nil
}

// GetAuction 取得拍賣與目前領先出價
func (s *Store) GetAuction(ctx context.Context, auctionID uuid.UUID) (*models.Auction, error) {
	auction := models.Auction{ID: auctionID}
	if result := s.db.WithContext(ctx).Preload("CurrentBid").First(&auction); result.Error != nil {
		return nil, translate(result.Error)
	}
	return &auction, nil
}

// ListAuctions 依條件查詢拍賣列表
func (s *Store) ListAuctions(ctx context.Context, filter engine.AuctionFilter) ([]models.Auction, error) {
	const op = "Store.ListAuctions"
	query := s.db.WithContext(ctx).Model(&models.Auction{})
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.ExcludeEnded {
		query = query.Where("end_time > ?", time.Now())
	}
	page, size := filter.Page, filter.Size
	if page < 1 {
		page = 1
	}
	if size < 1 || size > 100 {
		size = 20
	}
	query = query.Order(clause.OrderBy{Columns: []clause.OrderByColumn{
		{Column: clause.Column{Name: "end_time"}, Desc: false},
		{Column: clause.Column{Name: "id"}, Desc: false},
	}}).Offset((page - 1) * size).Limit(size)

	var auctions []models.Auction
	if result := query.Preload("CurrentBid").Find(&auctions); result.Error != nil {
		return nil, fmt.Errorf("[%s] Fail to list auctions, err=%w", op, result.Error)
	}
	return auctions, nil
}

// AppendBid 在同一個交易內寫入出價並推進目前價格
// UPDATE帶上樂觀鎖版本與PROCEEDING狀態的前置條件:
// 版本過期或拍賣已被關閉/取消時影響列數為0，整個交易回滾並回傳ErrVersionConflict
func (s *Store) AppendBid(ctx context.Context, bid *models.Bid, expectVersion uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if result := tx.Create(bid); result.Error != nil {
			return result.Error
		}
		result := tx.Model(&models.Auction{}).
			Where("id = ? AND version = ? AND status = ?", bid.AuctionID, expectVersion, models.AuctionStatusProceeding).
			Updates(map[string]any{
				"current_price":  bid.Amount,
				"current_bid_id": bid.ID,
				"version":        gorm.Expr("version + 1"),
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return engine.ErrVersionConflict
		}
		return nil
	})
}

// LeadingBid 取得目前領先的出價
// 被接受的出價金額嚴格遞增，金額最高的一筆就是最新的領先出價
func (s *Store) LeadingBid(ctx context.Context, auctionID uuid.UUID) (*models.Bid, error) {
	var bid models.Bid
	result := s.db.WithContext(ctx).
		Where("auction_id = ?", auctionID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "amount"}, Desc: true}).
		First(&bid)
	if result.Error != nil {
		return nil, translate(result.Error)
	}
	return &bid, nil
}

// ListBids 分頁取得出價紀錄，由新到舊排序
func (s *Store) ListBids(ctx context.Context, auctionID uuid.UUID, page, size int) ([]models.Bid, error) {
	var bids []models.Bid
	result := s.db.WithContext(ctx).
		Where("auction_id = ?", auctionID).
		Order(clause.OrderBy{Columns: []clause.OrderByColumn{
			{Column: clause.Column{Name: "amount"}, Desc: true},
			{Column: clause.Column{Name: "id"}, Desc: true},
		}}).
		Offset((page - 1) * size).Limit(size).
		Find(&bids)
	if result.Error != nil {
		return nil, result.Error
	}
	return bids, nil
}

// DueAuctions 取得所有已經超過結束時間但仍在PROCEEDING的拍賣
func (s *Store) DueAuctions(ctx context.Context, now time.Time, limit int) ([]models.Auction, error) {
	var auctions []models.Auction
	result := s.db.WithContext(ctx).
		Where("status = ? AND end_time <= ?", models.AuctionStatusProceeding, now).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "end_time"}}).
		Limit(limit).
		Find(&auctions)
	if result.Error != nil {
		return nil, result.Error
	}
	return auctions, nil
}

// UpdateStatus 在狀態前置條件成立時轉移拍賣狀態
func (s *Store) UpdateStatus(ctx context.Context, auctionID uuid.UUID, from, to models.AuctionStatus, endTime *time.Time) (bool, error) {
	values := map[string]any{"status": to}
	if endTime != nil {
		values["end_time"] = *endTime
	}
	result := s.db.WithContext(ctx).Model(&models.Auction{}).
		Where("id = ? AND status = ?", auctionID, from).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpdateEndTime 更新仍在PROCEEDING的拍賣的結束時間
func (s *Store) UpdateEndTime(ctx context.Context, auctionID uuid.UUID, endTime time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.Auction{}).
		Where("id = ? AND status = ?", auctionID, models.AuctionStatusProceeding).
		Update("end_time", endTime)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// CloseWithClaim 在同一個交易內關閉拍賣並建立得標請求
// 拍賣已經不在PROCEEDING時整個交易不做任何事，讓排程器可以安全重送關閉操作
func (s *Store) CloseWithClaim(ctx context.Context, auctionID uuid.UUID, claim *models.WinningClaim) (bool, error) {
	transitioned := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Auction{}).
			Where("id = ? AND status = ?", auctionID, models.AuctionStatusProceeding).
			Update("status", models.AuctionStatusCompleted)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		if result := tx.Create(claim); result.Error != nil {
			return result.Error
		}
		transitioned = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return transitioned, nil
}

// CreateClaim 建立一筆新的得標請求(遞補時使用)
func (s *Store) CreateClaim(ctx context.Context, claim *models.WinningClaim) error {
	if result := s.db.WithContext(ctx).Create(claim); result.Error != nil {
		return result.Error
	}
	return nil
}

// GetClaim 取得得標請求
func (s *Store) GetClaim(ctx context.Context, claimID uuid.UUID) (*models.WinningClaim, error) {
	claim := models.WinningClaim{ID: claimID}
	if result := s.db.WithContext(ctx).First(&claim); result.Error != nil {
		return nil, translate(result.Error)
	}
	return &claim, nil
}

// LatestClaim 取得拍賣最新一筆得標請求(遞補輪次最大的一筆)
func (s *Store) LatestClaim(ctx context.Context, auctionID uuid.UUID) (*models.WinningClaim, error) {
	var claim models.WinningClaim
	result := s.db.WithContext(ctx).
		Where("auction_id = ?", auctionID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "attempt"}, Desc: true}).
		First(&claim)
	if result.Error != nil {
		return nil, translate(result.Error)
	}
	return &claim, nil
}

// DueClaims 取得所有已經超過付款期限但仍在PENDING的得標請求
func (s *Store) DueClaims(ctx context.Context, now time.Time, limit int) ([]models.WinningClaim, error) {
	var claims []models.WinningClaim
	result := s.db.WithContext(ctx).
		Where("state = ? AND payment_due <= ?", models.ClaimStatePending, now).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "payment_due"}}).
		Limit(limit).
		Find(&claims)
	if result.Error != nil {
		return nil, result.Error
	}
	return claims, nil
}

// MarkPaid 在PENDING前置條件成立時將得標請求標記為已付款
func (s *Store) MarkPaid(ctx context.Context, claimID uuid.UUID, proof string, paidAt time.Time) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.WinningClaim{}).
		Where("id = ? AND state = ?", claimID, models.ClaimStatePending).
		Updates(map[string]any{
			"state":         models.ClaimStatePaid,
			"paid_at":       paidAt,
			"payment_proof": proof,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// ExpireClaim 在PENDING前置條件成立時將得標請求標記為過期
func (s *Store) ExpireClaim(ctx context.Context, claimID uuid.UUID) (bool, error) {
	result := s.db.WithContext(ctx).Model(&models.WinningClaim{}).
		Where("id = ? AND state = ?", claimID, models.ClaimStatePending).
		Update("state", models.ClaimStateExpired)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// OfferedWinners 取得這場拍賣曾經持有得標請求的所有出價者
func (s *Store) OfferedWinners(ctx context.Context, auctionID uuid.UUID) ([]uuid.UUID, error) {
	var winners []uuid.UUID
	result := s.db.WithContext(ctx).Model(&models.WinningClaim{}).
		Where("auction_id = ?", auctionID).
		Distinct().
		Pluck("winner_id", &winners)
	if result.Error != nil {
		return nil, result.Error
	}
	return winners, nil
}

// NextCandidateBid 取得未被遞補過的出價者中金額最高的出價
func (s *Store) NextCandidateBid(ctx context.Context, auctionID uuid.UUID, exclude []uuid.UUID) (*models.Bid, error) {
	query := s.db.WithContext(ctx).Where("auction_id = ?", auctionID)
	if len(exclude) > 0 {
		query = query.Where("bidder_id NOT IN ?", exclude)
	}
	var bid models.Bid
	result := query.
		Order(clause.OrderByColumn{Column: clause.Column{Name: "amount"}, Desc: true}).
		First(&bid)
	if result.Error != nil {
		return nil, translate(result.Error)
	}
	return &bid, nil
}
