package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/watchads/rewardd/pkg/rewards"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

// Run boots the HTTP server and blocks until ctx is canceled or the listener fails.
func Run(ctx context.Context, cfg Config, service *rewards.Service, logger *zap.Logger) error {
	router := NewRouter(cfg, service, logger)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("rewardd listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(cfg Config, service *rewards.Service, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", requestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{
		logger:  logger,
		service: service,
		cfg:     cfg,
	}

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.POST("/reward", handler.handleReward)
	router.GET("/balance/:id", handler.handleBalance)
	router.POST("/withdraw", handler.handleWithdraw)
	router.GET("/withdraw", handler.handleWithdrawals)
	router.GET("/ads", handler.handleAds)
	router.POST("/init", handler.handleInit)
	router.GET("/referrals/:id", handler.handleReferrals)

	return router
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		requestID := ctx.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		ctx.Set("request_id", requestID)
		ctx.Header(requestIDHeader, requestID)
		ctx.Next()
	}
}

type httpHandler struct {
	logger  *zap.Logger
	service *rewards.Service
	cfg     Config
}

type rewardRequest struct {
	UserID int64    `json:"userId"`
	Amount *float64 `json:"amount"`
	AdID   *int64   `json:"adId"`
}

type initRequest struct {
	UserID   int64  `json:"userId"`
	Username string `json:"username"`
	Ref      *int64 `json:"ref"`
}

type withdrawRequest struct {
	UserID  int64   `json:"userId"`
	Amount  float64 `json:"amount"`
	Method  string  `json:"method"`
	Address string  `json:"address"`
}

func (handler *httpHandler) handleReward(ctx *gin.Context) {
	var request rewardRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("bad_request"))
		return
	}
	userID, err := rewards.NewUserID(request.UserID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("bad_request"))
		return
	}
	var requested *rewards.Amount
	if request.Amount != nil {
		amount, amountErr := rewards.NewAmountFromFloat(*request.Amount)
		if amountErr != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("bad_request"))
			return
		}
		requested = &amount
	}
	var adID *rewards.AdID
	if request.AdID != nil {
		parsed, adErr := rewards.NewAdID(*request.AdID)
		if adErr != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("bad_request"))
			return
		}
		adID = &parsed
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	result, err := handler.service.Claim(requestCtx, userID, requested, adID)
	if err != nil {
		var cooldownErr rewards.CooldownError
		if errors.As(err, &cooldownErr) {
			ctx.JSON(http.StatusTooManyRequests, gin.H{
				"ok":          false,
				"error":       "cooldown",
				"secondsLeft": cooldownErr.SecondsLeft,
			})
			return
		}
		if errors.Is(err, rewards.ErrUnknownAd) {
			ctx.JSON(http.StatusBadRequest, errorResponse("bad_request"))
			return
		}
		handler.logger.Error("reward claim failed", zap.Error(err), zap.Int64("user_id", userID.Int64()))
		ctx.JSON(http.StatusInternalServerError, errorResponse("server_error"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"balance":  jsonNumber(result.Balance.String()),
		"cooldown": 0,
	})
}

// handleBalance never errors to the caller; invalid ids, unknown users and
// store failures all read as a zero balance.
func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	zero := gin.H{"balance": jsonNumber(rewards.ZeroBalance().String())}

	parsed, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusOK, zero)
		return
	}
	userID, err := rewards.NewUserID(parsed)
	if err != nil {
		ctx.JSON(http.StatusOK, zero)
		return
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	balance, err := handler.service.Balance(requestCtx, userID)
	if err != nil {
		handler.logger.Error("balance read failed", zap.Error(err), zap.Int64("user_id", userID.Int64()))
		ctx.JSON(http.StatusOK, zero)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"balance": jsonNumber(balance.String())})
}

func (handler *httpHandler) handleWithdraw(ctx *gin.Context) {
	var request withdrawRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("bad_request"))
		return
	}
	userID, err := rewards.NewUserID(request.UserID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("bad_request"))
		return
	}
	amount, err := rewards.NewAmountFromFloat(request.Amount)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("bad_request"))
		return
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	withdrawal, balance, err := handler.service.Withdraw(requestCtx, userID, amount, request.Method, request.Address)
	if err != nil {
		switch {
		case errors.Is(err, rewards.ErrInsufficientBalance):
			ctx.JSON(http.StatusBadRequest, errorResponse("insufficient_balance"))
		case errors.Is(err, rewards.ErrBelowMinimumWithdraw), errors.Is(err, rewards.ErrInvalidWithdrawTarget):
			ctx.JSON(http.StatusBadRequest, errorResponse("bad_request"))
		default:
			handler.logger.Error("withdraw failed", zap.Error(err), zap.Int64("user_id", userID.Int64()))
			ctx.JSON(http.StatusInternalServerError, errorResponse("server_error"))
		}
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"ok":        true,
		"requestId": withdrawal.ID,
		"status":    withdrawal.Status,
		"balance":   jsonNumber(balance.String()),
	})
}

func (handler *httpHandler) handleWithdrawals(ctx *gin.Context) {
	rawUserID := ctx.Query("userId")
	parsed, err := strconv.ParseInt(rawUserID, 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("bad_request"))
		return
	}
	userID, err := rewards.NewUserID(parsed)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("bad_request"))
		return
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	withdrawals, err := handler.service.Withdrawals(requestCtx, userID)
	if err != nil {
		handler.logger.Error("withdrawals list failed", zap.Error(err), zap.Int64("user_id", userID.Int64()))
		ctx.JSON(http.StatusInternalServerError, errorResponse("server_error"))
		return
	}
	payload := make([]gin.H, 0, len(withdrawals))
	for _, withdrawal := range withdrawals {
		payload = append(payload, gin.H{
			"requestId": withdrawal.ID,
			"amount":    jsonNumber(withdrawal.Amount.String()),
			"method":    withdrawal.Method,
			"address":   withdrawal.Address,
			"status":    withdrawal.Status,
			"createdAt": withdrawal.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	ctx.JSON(http.StatusOK, payload)
}

func (handler *httpHandler) handleAds(ctx *gin.Context) {
	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	ads, err := handler.service.ActiveAds(requestCtx)
	if err != nil {
		handler.logger.Error("ads list failed", zap.Error(err))
		ctx.JSON(http.StatusInternalServerError, errorResponse("server_error"))
		return
	}
	payload := make([]gin.H, 0, len(ads))
	for _, ad := range ads {
		payload = append(payload, gin.H{
			"id":           ad.ID.Int64(),
			"title":        ad.Title,
			"media_url":    ad.MediaURL,
			"reward":       jsonNumber(ad.Reward.String()),
			"duration_sec": ad.DurationSec,
		})
	}
	// Clients iterate the response directly, so the list is not wrapped.
	ctx.JSON(http.StatusOK, payload)
}

func (handler *httpHandler) handleInit(ctx *gin.Context) {
	var request initRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("bad_request"))
		return
	}
	userID, err := rewards.NewUserID(request.UserID)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("bad_request"))
		return
	}
	var referredBy *rewards.UserID
	if request.Ref != nil {
		referrerID, refErr := rewards.NewUserID(*request.Ref)
		if refErr != nil {
			ctx.JSON(http.StatusBadRequest, errorResponse("bad_request"))
			return
		}
		referredBy = &referrerID
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	balance, err := handler.service.InitUser(requestCtx, userID, request.Username, referredBy)
	if err != nil {
		handler.logger.Error("init failed", zap.Error(err), zap.Int64("user_id", userID.Int64()))
		ctx.JSON(http.StatusInternalServerError, errorResponse("server_error"))
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"ok":      true,
		"balance": jsonNumber(balance.String()),
	})
}

func (handler *httpHandler) handleReferrals(ctx *gin.Context) {
	userID, ok := parseUserIDParam(ctx)
	if !ok {
		return
	}

	requestCtx, cancel := handler.requestContext(ctx)
	defer cancel()

	summary, err := handler.service.Referrals(requestCtx, userID)
	if err != nil {
		handler.logger.Error("referrals read failed", zap.Error(err), zap.Int64("user_id", userID.Int64()))
		ctx.JSON(http.StatusInternalServerError, errorResponse("server_error"))
		return
	}
	referrals := make([]gin.H, 0, len(summary.Referrals))
	for _, referral := range summary.Referrals {
		entry := gin.H{
			"userId":     referral.UserID.Int64(),
			"username":   referral.Username,
			"earned":     jsonNumber(referral.Earned.String()),
			"commission": jsonNumber(referral.Commission.String()),
		}
		if referral.JoinedAt != nil {
			entry["joinedAt"] = referral.JoinedAt.UTC().Format(time.RFC3339)
		}
		referrals = append(referrals, entry)
	}
	ctx.JSON(http.StatusOK, gin.H{
		"referrals":       referrals,
		"totalCommission": jsonNumber(summary.TotalCommission.String()),
	})
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

func parseUserIDParam(ctx *gin.Context) (rewards.UserID, bool) {
	parsed, err := strconv.ParseInt(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("bad_request"))
		return rewards.UserID{}, false
	}
	userID, err := rewards.NewUserID(parsed)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("bad_request"))
		return rewards.UserID{}, false
	}
	return userID, true
}

func errorResponse(code string) gin.H {
	return gin.H{"error": code}
}

// jsonNumber renders a decimal string as a bare JSON number so clients
// receive numeric balances without float round-tripping on the server.
func jsonNumber(value string) json.Number {
	return json.Number(value)
}
