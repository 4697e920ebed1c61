package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hammer/engine"
	"hammer/models"
)

func TestNewSettlement(t *testing.T) {
	s := setupStore(t)
	notifier := &fakeNotifier{}

	settlement, err := engine.NewSettlement(nil, s, notifier)
	assert.Error(t, err)
	assert.Nil(t, settlement)

	settlement, err = engine.NewSettlement(s, s, nil)
	assert.Error(t, err)
	assert.Nil(t, settlement)

	settlement, err = engine.NewSettlement(s, s, notifier, engine.WithSettlementGracePeriod(-time.Hour))
	assert.Error(t, err)
	assert.Nil(t, settlement)

	settlement, err = engine.NewSettlement(s, s, notifier)
	assert.NoError(t, err)
	assert.NotNil(t, settlement)
}

func TestSettlement_OpenClaim(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	notifier := &fakeNotifier{}
	settlement, err := engine.NewSettlement(s, s, notifier)
	require.NoError(t, err)

	auction := createAuction(t, s, nil)
	winnerID := uuid.Must(uuid.NewV7())
	winning := placeBid(t, s, auction, winnerID, 51000)

	claim, transitioned, err := settlement.OpenClaim(ctx, auction, winning)
	require.NoError(t, err)
	require.True(t, transitioned)
	assert.Equal(t, winnerID, claim.WinnerID)
	assert.Equal(t, uint64(51000), claim.FinalPrice)
	assert.Equal(t, models.ClaimStatePending, claim.State)
	assert.Equal(t, uint32(1), claim.Attempt)

	// 拍賣已轉為COMPLETED，得標者收到付款期限通知
	updated, err := s.GetAuction(ctx, auction.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AuctionStatusCompleted, updated.Status)
	require.Len(t, notifier.paymentDue, 1)
	assert.Equal(t, winnerID, notifier.paymentDue[0].WinnerID)

	// 重複開立不做任何事
	claim, transitioned, err = settlement.OpenClaim(ctx, auction, winning)
	require.NoError(t, err)
	assert.False(t, transitioned)
	assert.Nil(t, claim)
	assert.Len(t, notifier.paymentDue, 1)
}

func TestSettlement_ConfirmPayment(t *testing.T) {
	ctx := context.Background()

	t.Run("successful payment is idempotent", func(t *testing.T) {
		s := setupStore(t)
		notifier := &fakeNotifier{}
		settlement, err := engine.NewSettlement(s, s, notifier)
		require.NoError(t, err)

		auction := createAuction(t, s, nil)
		winnerID := uuid.Must(uuid.NewV7())
		winning := placeBid(t, s, auction, winnerID, 51000)
		_, _, err = settlement.OpenClaim(ctx, auction, winning)
		require.NoError(t, err)

		claim, err := settlement.ConfirmPayment(ctx, auction.ID, winnerID, "txn-001")
		require.NoError(t, err)
		assert.Equal(t, models.ClaimStatePaid, claim.State)
		require.NotNil(t, claim.PaidAt)
		assert.Equal(t, "txn-001", claim.PaymentProof)

		// 付款閘道重複回呼，回傳原本的結果且不重發結算事件
		again, err := settlement.ConfirmPayment(ctx, auction.ID, winnerID, "txn-001")
		require.NoError(t, err)
		assert.Equal(t, models.ClaimStatePaid, again.State)
		assert.Len(t, notifier.settled, 1)
	})

	t.Run("wrong payer", func(t *testing.T) {
		s := setupStore(t)
		settlement, err := engine.NewSettlement(s, s, &fakeNotifier{})
		require.NoError(t, err)

		auction := createAuction(t, s, nil)
		winning := placeBid(t, s, auction, uuid.Must(uuid.NewV7()), 51000)
		_, _, err = settlement.OpenClaim(ctx, auction, winning)
		require.NoError(t, err)

		_, err = settlement.ConfirmPayment(ctx, auction.ID, uuid.Must(uuid.NewV7()), "txn-001")
		assert.ErrorIs(t, err, engine.ErrNotWinner)
	})

	t.Run("payment after due time", func(t *testing.T) {
		s := setupStore(t)
		settlement, err := engine.NewSettlement(s, s, &fakeNotifier{},
			engine.WithSettlementGracePeriod(10*time.Millisecond))
		require.NoError(t, err)

		auction := createAuction(t, s, nil)
		winnerID := uuid.Must(uuid.NewV7())
		winning := placeBid(t, s, auction, winnerID, 51000)
		_, _, err = settlement.OpenClaim(ctx, auction, winning)
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)
		_, err = settlement.ConfirmPayment(ctx, auction.ID, winnerID, "txn-001")
		assert.ErrorIs(t, err, engine.ErrClaimExpired)
	})

	t.Run("no claim", func(t *testing.T) {
		s := setupStore(t)
		settlement, err := engine.NewSettlement(s, s, &fakeNotifier{})
		require.NoError(t, err)

		auction := createAuction(t, s, nil)
		_, err = settlement.ConfirmPayment(ctx, auction.ID, uuid.Must(uuid.NewV7()), "txn-001")
		assert.ErrorIs(t, err, engine.ErrNotFound)
	})
}

func TestSettlement_Expire(t *testing.T) {
	ctx := context.Background()

	t.Run("reoffer chain until exhaustion", func(t *testing.T) {
		s := setupStore(t)
		notifier := &fakeNotifier{}
		settlement, err := engine.NewSettlement(s, s, notifier)
		require.NoError(t, err)

		auction := createAuction(t, s, nil)
		bidderA := uuid.Must(uuid.NewV7())
		bidderB := uuid.Must(uuid.NewV7())
		placeBid(t, s, auction, bidderA, 51000)
		placeBid(t, s, auction, bidderB, 52000)
		winning := placeBid(t, s, auction, bidderA, 53000)

		first, _, err := settlement.OpenClaim(ctx, auction, winning)
		require.NoError(t, err)

		// A的得標請求過期，遞補給B；A雖然還有52000以下的出價，但不會被重複遞補
		outcome, err := settlement.Expire(ctx, first.ID)
		require.NoError(t, err)
		assert.Equal(t, engine.ExpireReoffered, outcome)

		second, err := s.LatestClaim(ctx, auction.ID)
		require.NoError(t, err)
		assert.Equal(t, bidderB, second.WinnerID)
		assert.Equal(t, uint64(52000), second.FinalPrice)
		assert.Equal(t, uint32(2), second.Attempt)
		require.Len(t, notifier.paymentDue, 2)
		assert.Equal(t, uint32(2), notifier.paymentDue[1].Attempt)

		// B也過期，沒有可遞補的出價者，拍賣以流標收場
		outcome, err = settlement.Expire(ctx, second.ID)
		require.NoError(t, err)
		assert.Equal(t, engine.ExpireFailed, outcome)

		updated, err := s.GetAuction(ctx, auction.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AuctionStatusFailed, updated.Status)
	})

	t.Run("expire paid claim is noop", func(t *testing.T) {
		s := setupStore(t)
		settlement, err := engine.NewSettlement(s, s, &fakeNotifier{})
		require.NoError(t, err)

		auction := createAuction(t, s, nil)
		winnerID := uuid.Must(uuid.NewV7())
		winning := placeBid(t, s, auction, winnerID, 51000)
		claim, _, err := settlement.OpenClaim(ctx, auction, winning)
		require.NoError(t, err)
		_, err = settlement.ConfirmPayment(ctx, auction.ID, winnerID, "txn-001")
		require.NoError(t, err)

		outcome, err := settlement.Expire(ctx, claim.ID)
		require.NoError(t, err)
		assert.Equal(t, engine.ExpireNoop, outcome)
	})

	t.Run("reoffer disabled", func(t *testing.T) {
		s := setupStore(t)
		settlement, err := engine.NewSettlement(s, s, &fakeNotifier{},
			engine.WithSettlementReoffer(false))
		require.NoError(t, err)

		auction := createAuction(t, s, nil)
		placeBid(t, s, auction, uuid.Must(uuid.NewV7()), 51000)
		winning := placeBid(t, s, auction, uuid.Must(uuid.NewV7()), 52000)
		claim, _, err := settlement.OpenClaim(ctx, auction, winning)
		require.NoError(t, err)

		// 遞補策略關閉時即使還有其他出價者，拍賣也直接流標
		outcome, err := settlement.Expire(ctx, claim.ID)
		require.NoError(t, err)
		assert.Equal(t, engine.ExpireFailed, outcome)
	})

	t.Run("unknown claim", func(t *testing.T) {
		s := setupStore(t)
		settlement, err := engine.NewSettlement(s, s, &fakeNotifier{})
		require.NoError(t, err)

		_, err = settlement.Expire(ctx, uuid.Must(uuid.NewV7()))
		assert.ErrorIs(t, err, engine.ErrNotFound)
	})
}

func TestSettlement_WinnerDetail(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	settlement, err := engine.NewSettlement(s, s, &fakeNotifier{})
	require.NoError(t, err)

	auction := createAuction(t, s, nil)
	winnerID := uuid.Must(uuid.NewV7())
	winning := placeBid(t, s, auction, winnerID, 51000)
	_, _, err = settlement.OpenClaim(ctx, auction, winning)
	require.NoError(t, err)

	claim, err := settlement.WinnerDetail(ctx, auction.ID, winnerID)
	require.NoError(t, err)
	assert.Equal(t, winnerID, claim.WinnerID)

	// 其他使用者查詢時一律回傳找不到，不洩漏得標者身分
	_, err = settlement.WinnerDetail(ctx, auction.ID, uuid.Must(uuid.NewV7()))
	assert.ErrorIs(t, err, engine.ErrNotFound)
}

func TestSettlement_SweepWorker(t *testing.T) {
	ctx := context.Background()
	s := setupStore(t)
	settlement, err := engine.NewSettlement(s, s, &fakeNotifier{},
		engine.WithSettlementGracePeriod(10*time.Millisecond),
		engine.WithSettlementSweepInterval(20*time.Millisecond),
		engine.WithSettlementReoffer(false))
	require.NoError(t, err)

	auction := createAuction(t, s, nil)
	winning := placeBid(t, s, auction, uuid.Must(uuid.NewV7()), 51000)
	claim, _, err := settlement.OpenClaim(ctx, auction, winning)
	require.NoError(t, err)

	// 掃描worker會把過期的得標請求作廢
	settlement.Start()
	defer settlement.Close()
	require.Eventually(t, func() bool {
		reloaded, err := s.GetClaim(ctx, claim.ID)
		return err == nil && reloaded.State == models.ClaimStateExpired
	}, 2*time.Second, 10*time.Millisecond)
}
