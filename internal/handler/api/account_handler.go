package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"panelsync/internal/orchestrator"
	"panelsync/internal/protocol"
	"panelsync/internal/repository"
)

// AccountHandler serves purchase, renewal, revoke and profile endpoints.
type AccountHandler struct {
	orch     *orchestrator.Orchestrator
	accounts *repository.AccountRepository
	logger   *zap.Logger
}

func NewAccountHandler(orch *orchestrator.Orchestrator, accounts *repository.AccountRepository, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{orch: orch, accounts: accounts, logger: logger}
}

type purchaseRequest struct {
	UserID         string `json:"user_id"`
	PlanID         uint   `json:"plan_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

// Purchase handles POST /api/accounts/purchase.
func (h *AccountHandler) Purchase(c echo.Context) error {
	var req purchaseRequest
	if err := c.Bind(&req); err != nil {
		return errResponse(c, http.StatusBadRequest, "bad_request", "invalid body")
	}
	if req.UserID == "" || req.PlanID == 0 || req.IdempotencyKey == "" {
		return errResponse(c, http.StatusBadRequest, "bad_request", "user_id, plan_id and idempotency_key are required")
	}

	res := h.orch.RequestPurchase(c.Request().Context(), req.UserID, req.PlanID, req.IdempotencyKey)
	return resultResponse(c, res)
}

type renewRequest struct {
	IdempotencyKey string `json:"idempotency_key"`
}

// Renew handles POST /api/accounts/:id/renew.
func (h *AccountHandler) Renew(c echo.Context) error {
	id, err := accountID(c)
	if err != nil {
		return errResponse(c, http.StatusBadRequest, "bad_request", "invalid account id")
	}
	var req renewRequest
	if err := c.Bind(&req); err != nil || req.IdempotencyKey == "" {
		return errResponse(c, http.StatusBadRequest, "bad_request", "idempotency_key is required")
	}

	res := h.orch.RequestRenewal(c.Request().Context(), id, req.IdempotencyKey)
	return resultResponse(c, res)
}

// Revoke handles DELETE /api/accounts/:id.
func (h *AccountHandler) Revoke(c echo.Context) error {
	id, err := accountID(c)
	if err != nil {
		return errResponse(c, http.StatusBadRequest, "bad_request", "invalid account id")
	}
	res := h.orch.RequestRevoke(c.Request().Context(), id)
	return resultResponse(c, res)
}

// Get handles GET /api/accounts/:id.
func (h *AccountHandler) Get(c echo.Context) error {
	id, err := accountID(c)
	if err != nil {
		return errResponse(c, http.StatusBadRequest, "bad_request", "invalid account id")
	}
	acct, err := h.accounts.FindByID(id)
	if err != nil {
		return errResponse(c, http.StatusNotFound, "not_found", "account not found")
	}
	return okResponse(c, "", acct)
}

// ListByUser handles GET /api/users/:user_id/accounts.
func (h *AccountHandler) ListByUser(c echo.Context) error {
	userID := c.Param("user_id")
	if userID == "" {
		return errResponse(c, http.StatusBadRequest, "bad_request", "user_id is required")
	}
	accts, err := h.accounts.FindByUser(userID)
	if err != nil {
		return errResponse(c, http.StatusInternalServerError, "failed", "lookup failed")
	}
	return okResponse(c, "", accts)
}

// Profile handles GET /api/accounts/:id/profile: the importable client URI.
func (h *AccountHandler) Profile(c echo.Context) error {
	id, err := accountID(c)
	if err != nil {
		return errResponse(c, http.StatusBadRequest, "bad_request", "invalid account id")
	}
	acct, err := h.accounts.FindByID(id)
	if err != nil {
		return errResponse(c, http.StatusNotFound, "not_found", "account not found")
	}
	if acct.Terminal() {
		return errResponse(c, http.StatusGone, "not_found", "account no longer active")
	}

	uri, err := h.orch.ConnectionProfile(acct)
	if err != nil {
		h.logger.Error("Profile build failed", zap.Uint("account_id", acct.ID), zap.Error(err))
		return errResponse(c, http.StatusInternalServerError, "failed", "profile unavailable")
	}
	return okResponse(c, "", map[string]string{"uri": uri})
}

// ProfileQR handles GET /api/accounts/:id/profile/qr: the URI as a PNG.
func (h *AccountHandler) ProfileQR(c echo.Context) error {
	id, err := accountID(c)
	if err != nil {
		return errResponse(c, http.StatusBadRequest, "bad_request", "invalid account id")
	}
	acct, err := h.accounts.FindByID(id)
	if err != nil {
		return errResponse(c, http.StatusNotFound, "not_found", "account not found")
	}
	if acct.Terminal() {
		return errResponse(c, http.StatusGone, "not_found", "account no longer active")
	}

	uri, err := h.orch.ConnectionProfile(acct)
	if err != nil {
		return errResponse(c, http.StatusInternalServerError, "failed", "profile unavailable")
	}
	png, err := protocol.QRCode(uri, 256)
	if err != nil {
		return errResponse(c, http.StatusInternalServerError, "failed", "qr encode failed")
	}
	return c.Blob(http.StatusOK, "image/png", png)
}

func accountID(c echo.Context) (uint, error) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	return uint(id), err
}
