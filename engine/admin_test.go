package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hammer/adapters/lock"
	"hammer/engine"
	"hammer/models"
)

func TestNewAdmin(t *testing.T) {
	s := setupStore(t)
	settlement, err := engine.NewSettlement(s, s, &fakeNotifier{})
	require.NoError(t, err)

	admin, err := engine.NewAdmin(nil, s, settlement, nil)
	assert.Error(t, err)
	assert.Nil(t, admin)

	admin, err = engine.NewAdmin(s, s, nil, nil)
	assert.Error(t, err)
	assert.Nil(t, admin)

	admin, err = engine.NewAdmin(s, s, settlement, nil)
	assert.NoError(t, err)
	assert.NotNil(t, admin)
}

func TestAdmin_UpdateStatus(t *testing.T) {
	ctx := context.Background()

	t.Run("extend end time", func(t *testing.T) {
		s := setupStore(t)
		settlement, err := engine.NewSettlement(s, s, &fakeNotifier{})
		require.NoError(t, err)
		admin, err := engine.NewAdmin(s, s, settlement, nil)
		require.NoError(t, err)

		auction := createAuction(t, s, nil)
		newEnd := time.Now().Add(3 * time.Hour).Truncate(time.Second)
		updated, err := admin.UpdateStatus(ctx, auction.ID, models.AuctionStatusProceeding, lo.ToPtr(newEnd))
		require.NoError(t, err)
		assert.Equal(t, newEnd.Unix(), updated.EndTime.Unix())
		assert.Equal(t, models.AuctionStatusProceeding, updated.Status)
	})

	t.Run("proceeding without end time is invalid", func(t *testing.T) {
		s := setupStore(t)
		settlement, err := engine.NewSettlement(s, s, &fakeNotifier{})
		require.NoError(t, err)
		admin, err := engine.NewAdmin(s, s, settlement, nil)
		require.NoError(t, err)

		auction := createAuction(t, s, nil)
		_, err = admin.UpdateStatus(ctx, auction.ID, models.AuctionStatusProceeding, nil)
		assert.ErrorIs(t, err, engine.ErrInvalidTransition)
	})

	t.Run("terminal auction cannot be reopened", func(t *testing.T) {
		s := setupStore(t)
		settlement, err := engine.NewSettlement(s, s, &fakeNotifier{})
		require.NoError(t, err)
		admin, err := engine.NewAdmin(s, s, settlement, nil)
		require.NoError(t, err)

		auction := createAuction(t, s, nil)
		_, err = admin.UpdateStatus(ctx, auction.ID, models.AuctionStatusCancelled, nil)
		require.NoError(t, err)

		_, err = admin.UpdateStatus(ctx, auction.ID, models.AuctionStatusProceeding,
			lo.ToPtr(time.Now().Add(time.Hour)))
		assert.ErrorIs(t, err, engine.ErrInvalidTransition)
	})

	t.Run("close early with bids", func(t *testing.T) {
		s := setupStore(t)
		notifier := &fakeNotifier{}
		settlement, err := engine.NewSettlement(s, s, notifier)
		require.NoError(t, err)
		admin, err := engine.NewAdmin(s, s, settlement, nil)
		require.NoError(t, err)

		auction := createAuction(t, s, nil)
		winnerID := uuid.Must(uuid.NewV7())
		placeBid(t, s, auction, winnerID, 51000)

		updated, err := admin.UpdateStatus(ctx, auction.ID, models.AuctionStatusCompleted, nil)
		require.NoError(t, err)
		assert.Equal(t, models.AuctionStatusCompleted, updated.Status)

		claim, err := s.LatestClaim(ctx, auction.ID)
		require.NoError(t, err)
		assert.Equal(t, winnerID, claim.WinnerID)
		require.Len(t, notifier.paymentDue, 1)
	})

	t.Run("close early without bids is invalid", func(t *testing.T) {
		s := setupStore(t)
		settlement, err := engine.NewSettlement(s, s, &fakeNotifier{})
		require.NoError(t, err)
		admin, err := engine.NewAdmin(s, s, settlement, nil)
		require.NoError(t, err)

		auction := createAuction(t, s, nil)
		_, err = admin.UpdateStatus(ctx, auction.ID, models.AuctionStatusCompleted, nil)
		assert.ErrorIs(t, err, engine.ErrInvalidTransition)
	})

	t.Run("cancel proceeding auction", func(t *testing.T) {
		s := setupStore(t)
		settlement, err := engine.NewSettlement(s, s, &fakeNotifier{})
		require.NoError(t, err)
		admin, err := engine.NewAdmin(s, s, settlement, nil)
		require.NoError(t, err)

		auction := createAuction(t, s, nil)
		placeBid(t, s, auction, uuid.Must(uuid.NewV7()), 51000)

		updated, err := admin.UpdateStatus(ctx, auction.ID, models.AuctionStatusCancelled, nil)
		require.NoError(t, err)
		assert.Equal(t, models.AuctionStatusCancelled, updated.Status)
	})

	t.Run("cancel completed auction voids pending claim", func(t *testing.T) {
		s := setupStore(t)
		settlement, err := engine.NewSettlement(s, s, &fakeNotifier{})
		require.NoError(t, err)
		admin, err := engine.NewAdmin(s, s, settlement, nil)
		require.NoError(t, err)

		auction := createAuction(t, s, nil)
		winning := placeBid(t, s, auction, uuid.Must(uuid.NewV7()), 51000)
		claim, _, err := settlement.OpenClaim(ctx, auction, winning)
		require.NoError(t, err)

		updated, err := admin.UpdateStatus(ctx, auction.ID, models.AuctionStatusCancelled, nil)
		require.NoError(t, err)
		assert.Equal(t, models.AuctionStatusCancelled, updated.Status)

		// 取消時作廢PENDING的得標請求且不遞補
		voided, err := s.GetClaim(ctx, claim.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ClaimStateExpired, voided.State)
		latest, err := s.LatestClaim(ctx, auction.ID)
		require.NoError(t, err)
		assert.Equal(t, claim.ID, latest.ID)
	})

	t.Run("cancel settled auction is invalid", func(t *testing.T) {
		s := setupStore(t)
		settlement, err := engine.NewSettlement(s, s, &fakeNotifier{})
		require.NoError(t, err)
		admin, err := engine.NewAdmin(s, s, settlement, nil)
		require.NoError(t, err)

		auction := createAuction(t, s, nil)
		winnerID := uuid.Must(uuid.NewV7())
		winning := placeBid(t, s, auction, winnerID, 51000)
		_, _, err = settlement.OpenClaim(ctx, auction, winning)
		require.NoError(t, err)
		_, err = settlement.ConfirmPayment(ctx, auction.ID, winnerID, "txn-001")
		require.NoError(t, err)

		_, err = admin.UpdateStatus(ctx, auction.ID, models.AuctionStatusCancelled, nil)
		assert.ErrorIs(t, err, engine.ErrInvalidTransition)
	})

	t.Run("manual failed is invalid", func(t *testing.T) {
		s := setupStore(t)
		settlement, err := engine.NewSettlement(s, s, &fakeNotifier{})
		require.NoError(t, err)
		admin, err := engine.NewAdmin(s, s, settlement, nil)
		require.NoError(t, err)

		auction := createAuction(t, s, nil)
		_, err = admin.UpdateStatus(ctx, auction.ID, models.AuctionStatusFailed, nil)
		assert.ErrorIs(t, err, engine.ErrInvalidTransition)
	})

	t.Run("unknown auction", func(t *testing.T) {
		s := setupStore(t)
		settlement, err := engine.NewSettlement(s, s, &fakeNotifier{})
		require.NoError(t, err)
		admin, err := engine.NewAdmin(s, s, settlement, nil)
		require.NoError(t, err)

		_, err = admin.UpdateStatus(ctx, uuid.Must(uuid.NewV7()), models.AuctionStatusCancelled, nil)
		assert.ErrorIs(t, err, engine.ErrNotFound)
	})

	t.Run("bid after cancellation is rejected", func(t *testing.T) {
		s := setupStore(t)
		settlement, err := engine.NewSettlement(s, s, &fakeNotifier{})
		require.NoError(t, err)
		admin, err := engine.NewAdmin(s, s, settlement, nil)
		require.NoError(t, err)
		ledger, err := engine.NewLedger(s, lock.NewKeyedLockProvider(), &fakeNotifier{})
		require.NoError(t, err)

		auction := createAuction(t, s, nil)
		_, err = admin.UpdateStatus(ctx, auction.ID, models.AuctionStatusCancelled, nil)
		require.NoError(t, err)

		_, err = ledger.Submit(ctx, auction.ID, uuid.Must(uuid.NewV7()), 51000)
		reason, ok := engine.RejectReasonOf(err)
		require.True(t, ok)
		assert.Equal(t, engine.ReasonAuctionClosed, reason)
	})
}
