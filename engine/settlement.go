package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"hammer/models"
)

// ExpireOutcome 代表得標請求過期處理的結果
type ExpireOutcome string

const (
	// ExpireNoop 得標請求已經被處理過(已付款或已過期)，本次呼叫不做任何事
	ExpireNoop ExpireOutcome = "NOOP"
	// ExpireReoffered 已作廢並遞補給下一位出價者
	ExpireReoffered ExpireOutcome = "VOIDED_AND_REOFFERED"
	// ExpireFailed 已作廢且沒有可遞補的出價者，拍賣轉為FAILED
	ExpireFailed ExpireOutcome = "VOIDED_AND_FAILED"
)

type settlementOptions struct {
	logger        *slog.Logger
	gracePeriod   time.Duration
	reoffer       bool
	sweepInterval time.Duration
	sweepBatch    int
}

type SettlementOption func(*settlementOptions)

// WithSettlementLogger 設置日誌記錄器
func WithSettlementLogger(logger *slog.Logger) SettlementOption {
	return func(o *settlementOptions) {
		o.logger = logger
	}
}

// WithSettlementGracePeriod 設置拍賣結束後的付款寬限期
func WithSettlementGracePeriod(d time.Duration) SettlementOption {
	return func(o *settlementOptions) {
		o.gracePeriod = d
	}
}

// WithSettlementReoffer 設置付款超時後是否遞補給下一位出價者
func WithSettlementReoffer(reoffer bool) SettlementOption {
	return func(o *settlementOptions) {
		o.reoffer = reoffer
	}
}

// WithSettlementSweepInterval 設置過期掃描的間隔
func WithSettlementSweepInterval(d time.Duration) SettlementOption {
	return func(o *settlementOptions) {
		o.sweepInterval = d
	}
}

// WithSettlementSweepBatch 設置單次掃描處理的上限
func WithSettlementSweepBatch(n int) SettlementOption {
	return func(o *settlementOptions) {
		o.sweepBatch = n
	}
}

// Settlement 管理拍賣結束後的付款流程
// 負責開立得標請求、處理付款確認與付款超時後的作廢或遞補
// 所有轉移都以狀態前置條件保護，付款期限的觸發屬於at least once遞送，重複觸發是安全的
type Settlement struct {
	auctions IAuctionStore
	claims   IClaimStore
	notifier INotificationGateway
	logger   *slog.Logger

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool

	options settlementOptions
}

func NewSettlement(auctions IAuctionStore, claims IClaimStore, notifier INotificationGateway, opts ...SettlementOption) (*Settlement, error) {
	if auctions == nil || claims == nil {
		return nil, errors.New("stores cannot be nil")
	}
	if notifier == nil {
		return nil, errors.New("notification gateway cannot be nil")
	}

	// 默認選項
	options := settlementOptions{
		logger:        slog.Default(),
		gracePeriod:   48 * time.Hour,
		reoffer:       true,
		sweepInterval: time.Minute,
		sweepBatch:    64,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}
	if options.gracePeriod <= 0 {
		return nil, errors.New("grace period must be positive")
	}

	return &Settlement{
		auctions: auctions,
		claims:   claims,
		notifier: notifier,
		logger:   options.logger.With(slog.String("caller", "Settlement")),
		closed:   true,
		options:  options,
	}, nil
}

// OpenClaim 關閉拍賣並為最高出價開立得標請求
// 關閉與開立在同一個交易內完成，拍賣已經不在PROCEEDING時不做任何事
// 付款期限 = 關閉時間 + 寬限期
func (s *Settlement) OpenClaim(ctx context.Context, auction *models.Auction, winningBid *models.Bid) (*models.WinningClaim, bool, error) {
	const op = "Settlement.OpenClaim"

	now := time.Now()
	claim := &models.WinningClaim{
		AuctionID:  auction.ID,
		BidID:      winningBid.ID,
		WinnerID:   winningBid.BidderID,
		FinalPrice: winningBid.Amount,
		PaymentDue: now.Add(s.options.gracePeriod),
		State:      models.ClaimStatePending,
		Attempt:    1,
	}
	transitioned, err := s.claims.CloseWithClaim(ctx, auction.ID, claim)
	if err != nil {
		return nil, false, fmt.Errorf("[%s] Fail to close auction with claim, err=%w", op, err)
	}
	if !transitioned {
		return nil, false, nil
	}

	s.logger.Info("Winning claim opened",
		slog.String("auctionID", auction.ID.String()),
		slog.String("winner", claim.WinnerID.String()),
		slog.Int64("finalPrice", int64(claim.FinalPrice)))
	if err := s.notifier.NotifyPaymentDue(ctx, PaymentDueNotice{
		AuctionID:  claim.AuctionID,
		WinnerID:   claim.WinnerID,
		FinalPrice: claim.FinalPrice,
		PaymentDue: claim.PaymentDue,
		Attempt:    claim.Attempt,
	}); err != nil {
		s.logger.Error("Fail to publish payment due event", slog.Any("error", err))
	}
	return claim, true, nil
}

// ConfirmPayment 確認得標者已完成付款
// 這個操作是冪等的: 對已經完成付款的得標請求重複確認會直接回傳原本的結果，
// 不會重複發出結算事件，用來保護付款閘道重複回呼的情況
func (s *Settlement) ConfirmPayment(ctx context.Context, auctionID, payerID uuid.UUID, proof string) (*models.WinningClaim, error) {
	const op = "Settlement.ConfirmPayment"

	claim, err := s.claims.LatestClaim(ctx, auctionID)
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to load claim, err=%w", op, err)
	}
	if claim.WinnerID != payerID {
		return nil, ErrNotWinner
	}

	switch claim.State {
	case models.ClaimStatePaid:
		// 重複的付款確認，回傳原本的結果
		return claim, nil
	case models.ClaimStateExpired:
		return nil, ErrClaimExpired
	}

	now := time.Now()
	if now.After(claim.PaymentDue) {
		// 已過期但掃描還沒處理到，視同過期
		return nil, ErrClaimExpired
	}
	ok, err := s.claims.MarkPaid(ctx, claim.ID, proof, now)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to mark claim paid, err=%w", op, err)
	}
	if !ok {
		// 前置條件失敗，代表有並發的確認或過期先一步提交，以最新狀態為準
		claim, err = s.claims.GetClaim(ctx, claim.ID)
		if err != nil {
			return nil, fmt.Errorf("[%s] Fail to reload claim, err=%w", op, err)
		}
		if claim.State == models.ClaimStatePaid {
			return claim, nil
		}
		return nil, ErrClaimExpired
	}
	claim.State = models.ClaimStatePaid
	claim.PaidAt = &now
	claim.PaymentProof = proof

	s.logger.Info("Winning claim finalized",
		slog.String("auctionID", auctionID.String()),
		slog.String("winner", claim.WinnerID.String()))
	if err := s.notifier.NotifySettled(ctx, SettledNotice{
		AuctionID:  claim.AuctionID,
		WinnerID:   claim.WinnerID,
		FinalPrice: claim.FinalPrice,
		PaidAt:     now,
	}); err != nil {
		s.logger.Error("Fail to publish settled event", slog.Any("error", err))
	}
	return claim, nil
}

// Expire 作廢一筆超過付款期限的得標請求
// 遞補策略開啟時，會把得標請求轉給尚未被遞補過、金額最高的出價者；
// 遞補鏈受限於有限的出價紀錄，且同一位出價者不會被遞補第二次，所以必定終止
// 沒有可遞補的出價者時拍賣轉為FAILED
func (s *Settlement) Expire(ctx context.Context, claimID uuid.UUID) (ExpireOutcome, error) {
	const op = "Settlement.Expire"

	claim, err := s.claims.GetClaim(ctx, claimID)
	if errors.Is(err, ErrNotFound) {
		return ExpireNoop, ErrNotFound
	}
	if err != nil {
		return ExpireNoop, fmt.Errorf("[%s] Fail to load claim, err=%w", op, err)
	}
	ok, err := s.claims.ExpireClaim(ctx, claimID)
	if err != nil {
		return ExpireNoop, fmt.Errorf("[%s] Fail to expire claim, err=%w", op, err)
	}
	if !ok {
		// 已付款或已被其他節點作廢，重複觸發是安全的
		return ExpireNoop, nil
	}
	s.logger.Info("Winning claim expired",
		slog.String("auctionID", claim.AuctionID.String()),
		slog.String("winner", claim.WinnerID.String()),
		slog.Int("attempt", int(claim.Attempt)))

	if s.options.reoffer {
		outcome, err := s.reofferNext(ctx, claim)
		if err != nil {
			return ExpireNoop, err
		}
		if outcome == ExpireReoffered {
			return outcome, nil
		}
	}

	// 沒有可遞補的出價者，拍賣以流標收場
	if _, err := s.auctions.UpdateStatus(ctx, claim.AuctionID, models.AuctionStatusCompleted, models.AuctionStatusFailed, nil); err != nil {
		return ExpireNoop, fmt.Errorf("[%s] Fail to fail auction, err=%w", op, err)
	}
	s.logger.Warn("Auction failed after claim exhaustion", slog.String("auctionID", claim.AuctionID.String()))
	return ExpireFailed, nil
}

// reofferNext 嘗試把得標請求遞補給下一位出價者
func (s *Settlement) reofferNext(ctx context.Context, expired *models.WinningClaim) (ExpireOutcome, error) {
	const op = "Settlement.reofferNext"

	// 曾經持有得標請求的出價者不再列入遞補
	offered, err := s.claims.OfferedWinners(ctx, expired.AuctionID)
	if err != nil {
		return ExpireNoop, fmt.Errorf("[%s] Fail to list offered winners, err=%w", op, err)
	}
	next, err := s.claims.NextCandidateBid(ctx, expired.AuctionID, offered)
	if errors.Is(err, ErrNotFound) {
		return ExpireFailed, nil
	}
	if err != nil {
		return ExpireNoop, fmt.Errorf("[%s] Fail to find next candidate, err=%w", op, err)
	}

	now := time.Now()
	claim := &models.WinningClaim{
		AuctionID:  expired.AuctionID,
		BidID:      next.ID,
		WinnerID:   next.BidderID,
		FinalPrice: next.Amount,
		PaymentDue: now.Add(s.options.gracePeriod),
		State:      models.ClaimStatePending,
		Attempt:    expired.Attempt + 1,
	}
	if err := s.claims.CreateClaim(ctx, claim); err != nil {
		return ExpireNoop, fmt.Errorf("[%s] Fail to create reoffer claim, err=%w", op, err)
	}
	s.logger.Info("Winning claim reoffered",
		slog.String("auctionID", claim.AuctionID.String()),
		slog.String("winner", claim.WinnerID.String()),
		slog.Int("attempt", int(claim.Attempt)))
	if err := s.notifier.NotifyPaymentDue(ctx, PaymentDueNotice{
		AuctionID:  claim.AuctionID,
		WinnerID:   claim.WinnerID,
		FinalPrice: claim.FinalPrice,
		PaymentDue: claim.PaymentDue,
		Attempt:    claim.Attempt,
	}); err != nil {
		s.logger.Error("Fail to publish payment due event", slog.Any("error", err))
	}
	return ExpireReoffered, nil
}

// WinnerDetail 取得得標者視角的結算資訊
// 只有最新一筆得標請求的持有者可以查詢，其他呼叫者一律回傳ErrNotFound
func (s *Settlement) WinnerDetail(ctx context.Context, auctionID, callerID uuid.UUID) (*models.WinningClaim, error) {
	claim, err := s.claims.LatestClaim(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	if claim.WinnerID != callerID {
		return nil, ErrNotFound
	}
	return claim, nil
}

// Start 啟動付款期限掃描worker
// 掃描是可重複觸發的排程工作，狀態都在資料庫裡，程序重啟不會遺失待處理的過期事件
func (s *Settlement) Start() {
	if !s.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel
	s.closed = false
	s.logger.Info("Start settlement sweep worker")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("Settlement sweep worker stopped")
		ticker := time.NewTicker(s.options.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// sweep 處理所有已超過付款期限的得標請求
// 儲存層暫時不可用時只記錄錯誤，下一輪掃描會重試，不會因此把拍賣標成FAILED
func (s *Settlement) sweep(ctx context.Context) {
	due, err := s.claims.DueClaims(ctx, time.Now(), s.options.sweepBatch)
	if err != nil {
		s.logger.Error("Fail to list due claims", slog.Any("error", err))
		return
	}
	for _, claim := range due {
		if _, err := s.Expire(ctx, claim.ID); err != nil {
			s.logger.Error("Fail to expire claim",
				slog.String("claimID", claim.ID.String()),
				slog.Any("error", err))
		}
	}
}

// Close 停止付款期限掃描worker
func (s *Settlement) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.cancelFunc()
	s.wg.Wait()
}
