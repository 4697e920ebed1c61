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

// Admin 提供管理端的拍賣生命週期操作
// 所有操作都受狀態機約束: 不能在沒有出價時手動COMPLETED、
// 不能把終止狀態救回PROCEEDING、已完成結算的拍賣不能再取消
type Admin struct {
	auctions   IAuctionStore
	claims     IClaimStore
	settlement *Settlement
	logger     *slog.Logger
}

func NewAdmin(auctions IAuctionStore, claims IClaimStore, settlement *Settlement, logger *slog.Logger) (*Admin, error) {
	if auctions == nil || claims == nil || settlement == nil {
		return nil, errors.New("dependencies cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Admin{
		auctions:   auctions,
		claims:     claims,
		settlement: settlement,
		logger:     logger.With(slog.String("caller", "Admin")),
	}, nil
}

// UpdateStatus 由管理員變更拍賣狀態
//   - newStatus == PROCEEDING: 只允許在拍賣仍在PROCEEDING時更新結束時間
//   - newStatus == COMPLETED: 提前結束拍賣，必須已有出價，會直接開立得標請求
//   - newStatus == CANCELLED: 在最終結算前都允許，PENDING的得標請求會被作廢且不遞補
//
// 取消的提交會與進行中的出價競爭: 取消先提交時，後續出價會在重新驗證時
// 以AUCTION_CLOSED被拒絕；在取消前一瞬間提交的出價仍然有效
func (a *Admin) UpdateStatus(ctx context.Context, auctionID uuid.UUID, newStatus models.AuctionStatus, endTime *time.Time) (*models.Auction, error) {
	const op = "Admin.UpdateStatus"

	auction, err := a.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		return nil, err
	}

	switch newStatus {
	case models.AuctionStatusProceeding:
		// 不允許把終止狀態救回PROCEEDING，只能作為結束時間的更新路徑
		if auction.Status != models.AuctionStatusProceeding || endTime == nil {
			return nil, ErrInvalidTransition
		}
		if _, err := a.auctions.UpdateEndTime(ctx, auctionID, *endTime); err != nil {
			return nil, fmt.Errorf("[%s] Fail to update end time, err=%w", op, err)
		}

	case models.AuctionStatusCompleted:
		if !auction.Status.CanTransitionTo(newStatus) {
			return nil, ErrInvalidTransition
		}
		// 沒有出價的拍賣不能手動COMPLETED
		winning, err := a.auctions.LeadingBid(ctx, auctionID)
		if errors.Is(err, ErrNotFound) {
			return nil, ErrInvalidTransition
		}
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to load leading bid, err=%w", op, err)
		}
		if _, _, err := a.settlement.OpenClaim(ctx, auction, winning); err != nil {
			return nil, fmt.Errorf("[%s] Fail to close auction early, err=%w", op, err)
		}
		a.logger.Info("Auction completed by admin", slog.String("auctionID", auctionID.String()))

	case models.AuctionStatusCancelled:
		if !auction.Status.CanTransitionTo(newStatus) {
			return nil, ErrInvalidTransition
		}
		// 已完成結算的拍賣不能再取消
		claim, err := a.claims.LatestClaim(ctx, auctionID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("[%s] Fail to load claim, err=%w", op, err)
		}
		if claim != nil {
			if claim.State == models.ClaimStatePaid {
				return nil, ErrInvalidTransition
			}
			// 作廢PENDING的得標請求，取消後不做遞補
			if _, err := a.claims.ExpireClaim(ctx, claim.ID); err != nil {
				return nil, fmt.Errorf("[%s] Fail to void pending claim, err=%w", op, err)
			}
		}
		if _, err := a.auctions.UpdateStatus(ctx, auctionID, auction.Status, models.AuctionStatusCancelled, nil); err != nil {
			return nil, fmt.Errorf("[%s] Fail to cancel auction, err=%w", op, err)
		}
		a.logger.Info("Auction cancelled by admin", slog.String("auctionID", auctionID.String()))

	default:
		// FAILED只會由引擎自己判定，不開放手動設定
		return nil, ErrInvalidTransition
	}

	return a.auctions.GetAuction(ctx, auctionID)
}
