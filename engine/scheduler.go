package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hammer/models"
)

type schedulerOptions struct {
	logger        *slog.Logger
	sweepInterval time.Duration
	sweepBatch    int
}

type SchedulerOption func(*schedulerOptions)

// WithSchedulerLogger 設置日誌記錄器
func WithSchedulerLogger(logger *slog.Logger) SchedulerOption {
	return func(o *schedulerOptions) {
		o.logger = logger
	}
}

// WithSchedulerSweepInterval 設置關閉掃描的間隔
func WithSchedulerSweepInterval(d time.Duration) SchedulerOption {
	return func(o *schedulerOptions) {
		o.sweepInterval = d
	}
}

// WithSchedulerSweepBatch 設置單次掃描處理的上限
func WithSchedulerSweepBatch(n int) SchedulerOption {
	return func(o *schedulerOptions) {
		o.sweepBatch = n
	}
}

// Scheduler 負責在拍賣到達結束時間時關閉拍賣
// 有出價時轉為COMPLETED並由Settlement開立得標請求，沒有出價時轉為FAILED
// 關閉的觸發屬於at least once遞送，所有轉移都以狀態前置條件保證冪等:
// 對已經關閉的拍賣重複觸發不會有任何效果
type Scheduler struct {
	store      IAuctionStore
	settlement *Settlement
	logger     *slog.Logger

	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
	closed     bool

	options schedulerOptions
}

func NewScheduler(store IAuctionStore, settlement *Settlement, opts ...SchedulerOption) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("auction store cannot be nil")
	}
	if settlement == nil {
		return nil, errors.New("settlement cannot be nil")
	}

	// 默認選項
	options := schedulerOptions{
		logger:        slog.Default(),
		sweepInterval: 10 * time.Second,
		sweepBatch:    64,
	}

	// 應用自定義選項
	for _, opt := range opts {
		opt(&options)
	}

	return &Scheduler{
		store:      store,
		settlement: settlement,
		logger:     options.logger.With(slog.String("caller", "Scheduler")),
		closed:     true,
		options:    options,
	}, nil
}

// Start 啟動關閉掃描worker
// 到期事件不依賴程序內的一次性計時器，重啟後下一輪掃描會接手所有待關閉的拍賣
func (s *Scheduler) Start() {
	if !s.closed {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel
	s.closed = false
	s.logger.Info("Start auction close worker")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.logger.Info("Auction close worker stopped")
		ticker := time.NewTicker(s.options.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Sweep 關閉所有已經超過結束時間的拍賣
// 儲存層暫時不可用時只記錄錯誤，留給下一輪掃描重試，
// 不會因為基礎設施故障把拍賣標成FAILED
func (s *Scheduler) Sweep(ctx context.Context) {
	due, err := s.store.DueAuctions(ctx, time.Now(), s.options.sweepBatch)
	if err != nil {
		s.logger.Error("Fail to list due auctions", slog.Any("error", err))
		return
	}
	for _, auction := range due {
		if err := s.closeOne(ctx, &auction); err != nil {
			s.logger.Error("Fail to close auction",
				slog.String("auctionID", auction.ID.String()),
				slog.Any("error", err))
		}
	}
}

// closeOne 關閉單一一場拍賣
func (s *Scheduler) closeOne(ctx context.Context, auction *models.Auction) error {
	const op = "Scheduler.closeOne"

	winning, err := s.store.LeadingBid(ctx, auction.ID)
	if errors.Is(err, ErrNotFound) {
		// 沒有任何出價，以流標收場
		transitioned, err := s.store.UpdateStatus(ctx, auction.ID, models.AuctionStatusProceeding, models.AuctionStatusFailed, nil)
		if err != nil {
			return fmt.Errorf("[%s] Fail to fail auction, err=%w", op, err)
		}
		if transitioned {
			s.logger.Info("Auction closed without bids", slog.String("auctionID", auction.ID.String()))
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("[%s] Fail to load leading bid, err=%w", op, err)
	}

	_, transitioned, err := s.settlement.OpenClaim(ctx, auction, winning)
	if err != nil {
		return fmt.Errorf("[%s] Fail to open winning claim, err=%w", op, err)
	}
	if transitioned {
		s.logger.Info("Auction completed",
			slog.String("auctionID", auction.ID.String()),
			slog.String("winner", winning.BidderID.String()),
			slog.Int64("finalPrice", int64(winning.Amount)))
	}
	return nil
}

// Close 停止關閉掃描worker
func (s *Scheduler) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.cancelFunc()
	s.wg.Wait()
}
