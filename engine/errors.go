package engine

import (
	"errors"
	"fmt"
)

// RejectReason 代表出價被拒絕的原因代碼
// 這些代碼會原封不動地回傳給呼叫端，前端會針對特定代碼顯示對應的訊息
type RejectReason string

const (
	ReasonBidTooLow     RejectReason = "BID_TOO_LOW"
	ReasonBidNotOnTick  RejectReason = "BID_NOT_ON_TICK"
	ReasonAuctionClosed RejectReason = "AUCTION_CLOSED"
	ReasonSelfOutbid    RejectReason = "SELF_OUTBID"
	ReasonInvalidAmount RejectReason = "INVALID_AMOUNT"
	ReasonBidConflict   RejectReason = "BID_CONFLICT"
)

// RejectError 代表一個可以回傳給使用者的出價拒絕錯誤
type RejectError struct {
	Reason RejectReason
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("bid rejected: %s", e.Reason)
}

var (
	ErrBidTooLow     = &RejectError{Reason: ReasonBidTooLow}
	ErrBidNotOnTick  = &RejectError{Reason: ReasonBidNotOnTick}
	ErrAuctionClosed = &RejectError{Reason: ReasonAuctionClosed}
	ErrSelfOutbid    = &RejectError{Reason: ReasonSelfOutbid}
	ErrInvalidAmount = &RejectError{Reason: ReasonInvalidAmount}
	ErrBidConflict   = &RejectError{Reason: ReasonBidConflict}
)

// RejectReasonOf 取出錯誤中的拒絕原因代碼
// 如果不是RejectError則回傳false，呼叫端應將其視為內部錯誤
func RejectReasonOf(err error) (RejectReason, bool) {
	var rejectErr *RejectError
	if errors.As(err, &rejectErr) {
		return rejectErr.Reason, true
	}
	return "", false
}

var (
	// ErrNotFound 表示指定的實體不存在
	ErrNotFound = errors.New("entity not found")
	// ErrVersionConflict 表示樂觀鎖版本檢查失敗，基準價格已經過期
	ErrVersionConflict = errors.New("stale auction version")
	// ErrInvalidTransition 表示不合法的狀態轉移
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrClaimExpired 表示得標請求已經超過付款期限
	ErrClaimExpired = errors.New("winning claim expired")
	// ErrNotWinner 表示呼叫者不是這場拍賣的得標者
	ErrNotWinner = errors.New("caller is not the winner")
)
