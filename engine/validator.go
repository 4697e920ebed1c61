package engine

import (
	"time"

	"github.com/google/uuid"

	"hammer/models"
)

// ValidatePolicy 控制出價驗證的策略選項
type ValidatePolicy struct {
	// AllowSelfOutbid 是否允許領先者提高自己的出價
	AllowSelfOutbid bool
}

// ValidateBid 驗證一筆候選出價是否可以被接受
//
// 接受條件:
//   - 拍賣狀態為PROCEEDING且now落在拍賣時間區間內
//   - amount >= currentPrice + tickSize
//   - (amount - currentPrice)為tickSize的整數倍
//
// 金額被拒絕時的分類: 不高於現價的金額一律是BID_TOO_LOW，
// 高於現價但差額不落在tick刻度上的是BID_NOT_ON_TICK
//
// 此函式沒有任何副作用，前端可以在送出前先行呼叫來產生提示文字
// 實際接受出價時，Ledger會在per-auction的序列化區段內以最新的拍賣狀態重新驗證
func ValidateBid(auction *models.Auction, bidderID uuid.UUID, amount uint64, now time.Time, policy ValidatePolicy) error {
	if amount == 0 {
		return ErrInvalidAmount
	}
	if auction.Status != models.AuctionStatusProceeding {
		return ErrAuctionClosed
	}
	if now.Before(auction.StartTime) || !now.Before(auction.EndTime) {
		return ErrAuctionClosed
	}
	if !policy.AllowSelfOutbid && auction.CurrentBid != nil && auction.CurrentBid.BidderID == bidderID {
		return ErrSelfOutbid
	}
	// 先擋掉不高於現價的金額，之後的差額計算(uint64)才不會下溢
	if amount <= auction.CurrentPrice {
		return ErrBidTooLow
	}
	if (amount-auction.CurrentPrice)%auction.TickSize != 0 {
		return ErrBidNotOnTick
	}
	// 差額是tickSize的正整數倍，必然不低於currentPrice + tickSize
	return nil
}

// MinimumBid 計算下一筆合法出價的最低金額，用於出價輔助文字
func MinimumBid(auction *models.Auction) uint64 {
	return auction.CurrentPrice + auction.TickSize
}
