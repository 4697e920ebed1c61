package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"

	"hammer/engine"
	"hammer/models"
)

func (impl *ServerImpl) RegisterRoutes(router gin.IRouter) {
	router.POST("/auction/items", impl.PostAuctionItems)
	router.GET("/auction/items", impl.GetAuctionItems)
	router.GET("/auction/items/:itemID", impl.GetAuctionItem)
	router.GET("/auction/items/:itemID/bids", impl.GetAuctionItemBids)
	router.POST("/auction/items/:itemID/bids", impl.PostAuctionItemBids)
	router.GET("/auction/items/:itemID/tick", impl.GetAuctionItemTick)
	router.GET("/auction/items/:itemID/events", impl.GetAuctionItemEvents)
	router.GET("/auction/items/:itemID/winner", impl.GetAuctionItemWinner)
	router.POST("/auction/items/:itemID/payment", impl.PostAuctionItemPayment)
	router.PATCH("/admin/auction/items/:itemID/status", impl.PatchAuctionItemStatus)
}

// authenticate 解析並驗證請求帶的access token
// 支援Authorization header與cookie兩種帶法
// subject必須是合法的uuid，否則視為驗證失敗
func (impl *ServerImpl) authenticate(c *gin.Context) (uuid.UUID, *JWT, bool) {
	tokenString := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if tokenString == "" {
		tokenString, _ = c.Cookie("access_token")
	}
	if tokenString == "" {
		return uuid.Nil, nil, false
	}
	token, err := ParseAndValidateJWT(tokenString, impl.config.Auth.PrivateKey)
	if err != nil {
		slog.Error("Fail to parse and validate JWT", slog.Any("error", err))
		return uuid.Nil, nil, false
	}
	subject, err := uuid.Parse(token.Subject)
	if err != nil {
		slog.Error("Fail to parse JWT subject", slog.Any("error", err))
		return uuid.Nil, nil, false
	}
	return subject, token, true
}

func itemID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("itemID"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid item ID"})
		return uuid.Nil, false
	}
	return id, true
}

type CreateAuctionRequest struct {
	Title         string     `json:"title" binding:"required"`
	ProductRef    string     `json:"productRef" binding:"required"`
	StartingPrice uint64     `json:"startingPrice"`
	TickSize      uint64     `json:"tickSize" binding:"required"`
	StartTime     *time.Time `json:"startTime"`
	EndTime       time.Time  `json:"endTime" binding:"required"`
}

// Add a new auction item
// (POST /auction/items)
func (impl *ServerImpl) PostAuctionItems(c *gin.Context) {
	const op = "PostAuctionItems"
	sellerID, _, ok := impl.authenticate(c)
	if !ok {
		c.Status(http.StatusUnauthorized)
		return
	}
	var request CreateAuctionRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	// 處理預設值
	if request.StartTime == nil {
		request.StartTime = lo.ToPtr(time.Now())
	}
	// 檢查拍賣時間和加價刻度是否合法
	if request.StartTime.After(request.EndTime) || request.EndTime.Before(time.Now()) {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Invalid auction time"})
		return
	}
	if request.TickSize == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"message": "Tick size must be positive"})
		return
	}
	// 儲存拍賣
	auction := models.Auction{
		SellerID:      sellerID,
		ProductRef:    request.ProductRef,
		Title:         request.Title,
		StartingPrice: request.StartingPrice,
		TickSize:      request.TickSize,
		StartTime:     *request.StartTime,
		EndTime:       request.EndTime,
	}
	if err := impl.store.CreateAuction(c.Request.Context(), &auction); err != nil {
		impl.renderError(c, fmt.Errorf("[%s] Fail to create auction, err=%w", op, err))
		return
	}
	c.Header("Location", auction.ID.String())
	c.Status(http.StatusCreated)
}

type AuctionSummary struct {
	ID           uuid.UUID            `json:"id"`
	Title        string               `json:"title"`
	CurrentPrice uint64               `json:"currentPrice"`
	TickSize     uint64               `json:"tickSize"`
	StartTime    time.Time            `json:"startTime"`
	EndTime      time.Time            `json:"endTime"`
	Status       models.AuctionStatus `json:"status"`
	IsEnded      bool                 `json:"isEnded"`
}

// List auction items
// (GET /auction/items)
func (impl *ServerImpl) GetAuctionItems(c *gin.Context) {
	const op = "GetAuctionItems"
	now := time.Now()
	filter := engine.AuctionFilter{
		Page: parseIntDefault(c.Query("page"), 1),
		Size: parseIntDefault(c.Query("size"), 20),
	}
	if status := c.Query("status"); status != "" {
		filter.Status = lo.ToPtr(models.AuctionStatus(status))
	}
	if c.Query("excludeEnded") == "true" {
		filter.ExcludeEnded = true
	}
	auctions, err := impl.store.ListAuctions(c.Request.Context(), filter)
	if err != nil {
		impl.renderError(c, fmt.Errorf("[%s] Fail to list auctions, err=%w", op, err))
		return
	}
	items := make([]AuctionSummary, len(auctions))
	for i, auction := range auctions {
		items[i] = AuctionSummary{
			ID:           auction.ID,
			Title:        auction.Title,
			CurrentPrice: auction.CurrentPrice,
			TickSize:     auction.TickSize,
			StartTime:    auction.StartTime,
			EndTime:      auction.EndTime,
			Status:       auction.Status,
			IsEnded:      now.After(auction.EndTime) || auction.Status.Terminal(),
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(items),
		"items": items,
	})
}

// Get auction item details
// (GET /auction/items/{itemID})
func (impl *ServerImpl) GetAuctionItem(c *gin.Context) {
	const op = "GetAuctionItem"
	id, ok := itemID(c)
	if !ok {
		return
	}
	auction, err := impl.store.GetAuction(c.Request.Context(), id)
	if err != nil {
		impl.renderError(c, fmt.Errorf("[%s] Fail to find auction, err=%w", op, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":           auction.ID,
		"title":        auction.Title,
		"productRef":   auction.ProductRef,
		"startPrice":   auction.StartingPrice,
		"currentPrice": auction.CurrentPrice,
		"tickSize":     auction.TickSize,
		"minimumBid":   engine.MinimumBid(auction),
		"startTime":    auction.StartTime,
		"endTime":      auction.EndTime,
		"status":       auction.Status,
	})
}

type BidRecord struct {
	BidderID uuid.UUID `json:"bidderID"`
	Amount   uint64    `json:"amount"`
	Time     time.Time `json:"time"`
}

// Get bid history of an auction item
// (GET /auction/items/{itemID}/bids)
func (impl *ServerImpl) GetAuctionItemBids(c *gin.Context) {
	const op = "GetAuctionItemBids"
	id, ok := itemID(c)
	if !ok {
		return
	}
	page := parseIntDefault(c.Query("page"), 1)
	size := parseIntDefault(c.Query("size"), 20)
	bids, err := impl.ledger.History(c.Request.Context(), id, page, size)
	if err != nil {
		impl.renderError(c, fmt.Errorf("[%s] Fail to list bids, err=%w", op, err))
		return
	}
	records := make([]BidRecord, len(bids))
	for i, bid := range bids {
		records[i] = BidRecord{
			BidderID: bid.BidderID,
			Amount:   bid.Amount,
			Time:     bid.CreatedAt,
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(records),
		"records": records,
	})
}

type PlaceBidRequest struct {
	Amount uint64 `json:"amount" binding:"required"`
}

// Place a bid on an auction item
// (POST /auction/items/{itemID}/bids)
func (impl *ServerImpl) PostAuctionItemBids(c *gin.Context) {
	const op = "PostAuctionItemBids"
	id, ok := itemID(c)
	if !ok {
		return
	}
	bidderID, _, ok := impl.authenticate(c)
	if !ok {
		c.Status(http.StatusUnauthorized)
		return
	}
	var request PlaceBidRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}

	bid, err := impl.ledger.Submit(c.Request.Context(), id, bidderID, request.Amount)
	if err == nil {
		c.JSON(http.StatusOK, gin.H{
			"accepted":     true,
			"currentPrice": bid.Amount,
		})
		return
	}
	// 被拒絕的出價帶原因回覆，讓客戶端可以提示使用者
	if reason, rejected := engine.RejectReasonOf(err); rejected {
		body := gin.H{
			"accepted": false,
			"reason":   reason,
		}
		if auction, getErr := impl.store.GetAuction(c.Request.Context(), id); getErr == nil {
			body["currentPrice"] = auction.CurrentPrice
			body["minimumBid"] = engine.MinimumBid(auction)
		}
		c.JSON(rejectStatus(reason), body)
		return
	}
	impl.renderError(c, fmt.Errorf("[%s] Fail to place bid, err=%w", op, err))
}

// rejectStatus 將出價拒絕原因映射到HTTP狀態碼
func rejectStatus(reason engine.RejectReason) int {
	switch reason {
	case engine.ReasonAuctionClosed:
		return http.StatusGone
	case engine.ReasonBidConflict:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

// Get tick size of an auction item
// (GET /auction/items/{itemID}/tick)
func (impl *ServerImpl) GetAuctionItemTick(c *gin.Context) {
	const op = "GetAuctionItemTick"
	id, ok := itemID(c)
	if !ok {
		return
	}
	auction, err := impl.store.GetAuction(c.Request.Context(), id)
	if err != nil {
		impl.renderError(c, fmt.Errorf("[%s] Fail to find auction, err=%w", op, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"tickSize": auction.TickSize})
}

// Track auction item events
// (GET /auction/items/{itemID}/events)
func (impl *ServerImpl) GetAuctionItemEvents(c *gin.Context) {
	const op = "GetAuctionItemEvents"
	id, ok := itemID(c)
	if !ok {
		return
	}
	auction, err := impl.store.GetAuction(c.Request.Context(), id)
	if err != nil {
		impl.renderError(c, fmt.Errorf("[%s] Fail to find auction, err=%w", op, err))
		return
	}
	// 開始前5分鐘開放連線
	if time.Now().Before(auction.StartTime.Add(-5 * time.Minute)) {
		c.JSON(http.StatusForbidden, gin.H{"message": "Auction has not started"})
		return
	}
	if auction.Status.Terminal() || time.Now().After(auction.EndTime) {
		c.JSON(http.StatusGone, gin.H{"message": "Auction has ended"})
		return
	}
	// SSE請求合法，開始初始化串流
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Transfer-Encoding", "chunked")
	ch, err := impl.hub.Subscribe(id.String())
	if err != nil {
		impl.renderError(c, fmt.Errorf("[%s] Fail to subscribe to item events, err=%w", op, err))
		return
	}
LOOP:
	for {
		select {
		case <-w.CloseNotify():
			impl.hub.Unsubscribe(id.String(), ch)
			break LOOP
		case event := <-ch:
			c.SSEvent("bid", event)
			w.Flush()
		// 30秒沒有事件就發送一個空行，確保瀏覽器和Cloudflare不會斷開連線
		case <-time.After(30 * time.Second):
			w.WriteString("\n\n")
			w.Flush()
		}
	}
}

// Get winner details of an auction item
// (GET /auction/items/{itemID}/winner)
func (impl *ServerImpl) GetAuctionItemWinner(c *gin.Context) {
	const op = "GetAuctionItemWinner"
	id, ok := itemID(c)
	if !ok {
		return
	}
	callerID, _, ok := impl.authenticate(c)
	if !ok {
		c.Status(http.StatusUnauthorized)
		return
	}
	claim, err := impl.settlement.WinnerDetail(c.Request.Context(), id, callerID)
	if err != nil {
		// 呼叫者不是目前的得標者時一律回404，不洩漏得標者身分
		if errors.Is(err, engine.ErrNotWinner) || errors.Is(err, engine.ErrNotFound) {
			c.Status(http.StatusNotFound)
			return
		}
		impl.renderError(c, fmt.Errorf("[%s] Fail to get winner detail, err=%w", op, err))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"auctionID":  claim.AuctionID,
		"finalPrice": claim.FinalPrice,
		"paymentDue": claim.PaymentDue,
		"state":      claim.State,
		"attempt":    claim.Attempt,
		"paidAt":     claim.PaidAt,
	})
}

type ConfirmPaymentRequest struct {
	PaymentProof string `json:"paymentProof" binding:"required"`
}

// Confirm payment for an auction item
// (POST /auction/items/{itemID}/payment)
func (impl *ServerImpl) PostAuctionItemPayment(c *gin.Context) {
	const op = "PostAuctionItemPayment"
	id, ok := itemID(c)
	if !ok {
		return
	}
	callerID, _, ok := impl.authenticate(c)
	if !ok {
		c.Status(http.StatusUnauthorized)
		return
	}
	var request ConfirmPaymentRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	claim, err := impl.settlement.ConfirmPayment(c.Request.Context(), id, callerID, request.PaymentProof)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrNotWinner), errors.Is(err, engine.ErrNotFound):
			c.Status(http.StatusNotFound)
		case errors.Is(err, engine.ErrClaimExpired):
			c.JSON(http.StatusGone, gin.H{"message": "Payment window has expired"})
		default:
			impl.renderError(c, fmt.Errorf("[%s] Fail to confirm payment, err=%w", op, err))
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"finalizedAt": claim.PaidAt,
	})
}

type UpdateStatusRequest struct {
	Status  models.AuctionStatus `json:"status" binding:"required"`
	EndTime *time.Time           `json:"endTime"`
}

// Update auction item status
// (PATCH /admin/auction/items/{itemID}/status)
func (impl *ServerImpl) PatchAuctionItemStatus(c *gin.Context) {
	const op = "PatchAuctionItemStatus"
	id, ok := itemID(c)
	if !ok {
		return
	}
	_, token, ok := impl.authenticate(c)
	if !ok {
		c.Status(http.StatusUnauthorized)
		return
	}
	if !token.Admin() {
		c.Status(http.StatusForbidden)
		return
	}
	var request UpdateStatusRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
		return
	}
	auction, err := impl.admin.UpdateStatus(c.Request.Context(), id, request.Status, request.EndTime)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrNotFound):
			c.Status(http.StatusNotFound)
		case errors.Is(err, engine.ErrInvalidTransition):
			c.JSON(http.StatusConflict, gin.H{"message": "Invalid status transition"})
		default:
			impl.renderError(c, fmt.Errorf("[%s] Fail to update auction status, err=%w", op, err))
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":      auction.ID,
		"status":  auction.Status,
		"endTime": auction.EndTime,
	})
}

// renderError 統一處理非預期錯誤，404以外的錯誤只記錄不外洩細節
func (impl *ServerImpl) renderError(c *gin.Context, err error) {
	if errors.Is(err, engine.ErrNotFound) {
		c.Status(http.StatusNotFound)
		return
	}
	slog.Error("Request failed", slog.String("path", c.FullPath()), slog.Any("error", err))
	c.Status(http.StatusInternalServerError)
}

func parseIntDefault(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
