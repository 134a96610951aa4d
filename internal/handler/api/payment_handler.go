package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"panelsync/internal/middleware"
	"panelsync/internal/orchestrator"
	"panelsync/internal/repository"
)

// PaymentHandler serves deposit confirmation and wallet queries.
type PaymentHandler struct {
	orch    *orchestrator.Orchestrator
	wallets *repository.WalletRepository
	deduper middleware.ConfirmationDeduper
	logger  *zap.Logger
}

func NewPaymentHandler(orch *orchestrator.Orchestrator, wallets *repository.WalletRepository, deduper middleware.ConfirmationDeduper, logger *zap.Logger) *PaymentHandler {
	return &PaymentHandler{orch: orch, wallets: wallets, deduper: deduper, logger: logger}
}

type confirmRequest struct {
	UserID    string `json:"user_id"`
	Amount    int64  `json:"amount"`
	Reference string `json:"reference"`
}

// Confirm handles POST /api/payments/confirm. The deduper is a fast
// first-line replay shield; the wallet's reference lookup is the durable
// one.
func (h *PaymentHandler) Confirm(c echo.Context) error {
	var req confirmRequest
	if err := c.Bind(&req); err != nil {
		return errResponse(c, http.StatusBadRequest, "bad_request", "invalid body")
	}
	if req.UserID == "" || req.Amount <= 0 || req.Reference == "" {
		return errResponse(c, http.StatusBadRequest, "bad_request", "user_id, positive amount and reference are required")
	}

	if h.deduper != nil {
		if dup, err := h.deduper.Seen(c.Request().Context(), req.Reference); err == nil && dup {
			return errResponse(c, http.StatusConflict, string(orchestrator.ResultDuplicate), "reference already processed")
		}
	}

	res := h.orch.ConfirmPayment(req.UserID, req.Amount, req.Reference)
	if res.Kind == orchestrator.ResultOK {
		h.logger.Info("Deposit confirmed",
			zap.String("user_id", req.UserID), zap.Int64("amount", req.Amount),
			zap.String("reference", req.Reference))
	}
	return resultResponse(c, res)
}

// Balance handles GET /api/users/:user_id/balance.
func (h *PaymentHandler) Balance(c echo.Context) error {
	userID := c.Param("user_id")
	if userID == "" {
		return errResponse(c, http.StatusBadRequest, "bad_request", "user_id is required")
	}
	balance, err := h.wallets.BalanceOf(userID)
	if err != nil {
		return errResponse(c, http.StatusInternalServerError, "failed", "balance lookup failed")
	}
	return okResponse(c, "", map[string]int64{"balance": balance})
}

// Transactions handles GET /api/users/:user_id/transactions.
func (h *PaymentHandler) Transactions(c echo.Context) error {
	userID := c.Param("user_id")
	if userID == "" {
		return errResponse(c, http.StatusBadRequest, "bad_request", "user_id is required")
	}
	txs, err := h.wallets.FindByUser(userID, 100)
	if err != nil {
		return errResponse(c, http.StatusInternalServerError, "failed", "lookup failed")
	}
	return okResponse(c, "", txs)
}
