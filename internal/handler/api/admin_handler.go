package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"panelsync/internal/models"
	"panelsync/internal/recon"
	"panelsync/internal/repository"
)

// AdminHandler serves the operator surface: panel registry, plan registry
// and manual wallet adjustments.
type AdminHandler struct {
	panels  *repository.PanelRepository
	plans   *repository.PlanRepository
	wallets *repository.WalletRepository
	users   *repository.UserRepository
	engine  *recon.Engine
	logger  *zap.Logger
}

func NewAdminHandler(
	panels *repository.PanelRepository,
	plans *repository.PlanRepository,
	wallets *repository.WalletRepository,
	users *repository.UserRepository,
	engine *recon.Engine,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		panels:  panels,
		plans:   plans,
		wallets: wallets,
		users:   users,
		engine:  engine,
		logger:  logger,
	}
}

// ListPanels handles GET /api/admin/panels?status=.
func (h *AdminHandler) ListPanels(c echo.Context) error {
	status := c.QueryParam("status")
	var (
		panels []models.Panel
		err    error
	)
	if status == "" {
		panels, err = h.panels.FindByStatus(models.PanelActive)
	} else {
		panels, err = h.panels.FindByStatus(status)
	}
	if err != nil {
		return errResponse(c, http.StatusInternalServerError, "failed", "lookup failed")
	}
	return okResponse(c, "", panels)
}

type createPanelRequest struct {
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	BaseURL   string   `json:"base_url"`
	Username  string   `json:"username"`
	Password  string   `json:"password"`
	InboundID string   `json:"inbound_id"`
	Protocols []string `json:"protocols"`
}

// CreatePanel handles POST /api/admin/panels.
func (h *AdminHandler) CreatePanel(c echo.Context) error {
	var req createPanelRequest
	if err := c.Bind(&req); err != nil {
		return errResponse(c, http.StatusBadRequest, "bad_request", "invalid body")
	}
	if req.Name == "" || req.Type == "" || req.BaseURL == "" {
		return errResponse(c, http.StatusBadRequest, "bad_request", "name, type and base_url are required")
	}

	p := &models.Panel{
		Name:      req.Name,
		Type:      req.Type,
		BaseURL:   req.BaseURL,
		Username:  req.Username,
		Password:  req.Password,
		InboundID: req.InboundID,
		Protocols: models.EncodeProtocols(req.Protocols),
		Status:    models.PanelActive,
	}
	if err := h.panels.Create(p); err != nil {
		return errResponse(c, http.StatusInternalServerError, "failed", "create failed")
	}
	h.logger.Info("Panel registered", zap.Uint("panel_id", p.ID), zap.String("type", p.Type))
	return okResponse(c, "panel created", p)
}

type setPanelStatusRequest struct {
	Status string `json:"status"`
}

// SetPanelStatus handles PUT /api/admin/panels/:id/status. Setting a
// tripped panel back to active also clears its failure counter.
func (h *AdminHandler) SetPanelStatus(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return errResponse(c, http.StatusBadRequest, "bad_request", "invalid panel id")
	}
	var req setPanelStatusRequest
	if err := c.Bind(&req); err != nil {
		return errResponse(c, http.StatusBadRequest, "bad_request", "invalid body")
	}
	switch req.Status {
	case models.PanelActive, models.PanelDisabled, models.PanelError, models.PanelDeleted:
	default:
		return errResponse(c, http.StatusBadRequest, "bad_request", "unknown status")
	}

	if err := h.panels.SetStatus(uint(id), req.Status); err != nil {
		return errResponse(c, http.StatusInternalServerError, "failed", "update failed")
	}
	if req.Status == models.PanelActive && h.engine != nil {
		h.engine.Health().Success(uint(id))
	}
	return okResponse(c, "status updated", nil)
}

// ListPlans handles GET /api/admin/plans.
func (h *AdminHandler) ListPlans(c echo.Context) error {
	plans, err := h.plans.FindActive()
	if err != nil {
		return errResponse(c, http.StatusInternalServerError, "failed", "lookup failed")
	}
	return okResponse(c, "", plans)
}

type createPlanRequest struct {
	Name         string `json:"name"`
	Protocol     string `json:"protocol"`
	Price        int64  `json:"price"`
	TrafficLimit int64  `json:"traffic_limit"`
	DurationDays int    `json:"duration_days"`
}

// CreatePlan handles POST /api/admin/plans.
func (h *AdminHandler) CreatePlan(c echo.Context) error {
	var req createPlanRequest
	if err := c.Bind(&req); err != nil {
		return errResponse(c, http.StatusBadRequest, "bad_request", "invalid body")
	}
	if req.Name == "" || req.Protocol == "" || req.Price < 0 || req.DurationDays <= 0 {
		return errResponse(c, http.StatusBadRequest, "bad_request", "name, protocol, price and duration_days are required")
	}

	plan := &models.Plan{
		Name:         req.Name,
		Protocol:     req.Protocol,
		Price:        req.Price,
		TrafficLimit: req.TrafficLimit,
		DurationDays: req.DurationDays,
		Active:       true,
	}
	if err := h.plans.Create(plan); err != nil {
		return errResponse(c, http.StatusInternalServerError, "failed", "create failed")
	}
	return okResponse(c, "plan created", plan)
}

type adjustBalanceRequest struct {
	UserID string `json:"user_id"`
	Amount int64  `json:"amount"`
	Note   string `json:"note"`
}

// AdjustBalance handles POST /api/admin/wallet/adjust: a signed manual
// ledger entry. Negative adjustments are bounded by the balance.
func (h *AdminHandler) AdjustBalance(c echo.Context) error {
	var req adjustBalanceRequest
	if err := c.Bind(&req); err != nil {
		return errResponse(c, http.StatusBadRequest, "bad_request", "invalid body")
	}
	if req.UserID == "" || req.Amount == 0 {
		return errResponse(c, http.StatusBadRequest, "bad_request", "user_id and non-zero amount are required")
	}

	if err := h.users.EnsureExists(req.UserID); err != nil {
		return errResponse(c, http.StatusInternalServerError, "failed", "user lookup failed")
	}
	tx := &models.WalletTransaction{
		UserID:      req.UserID,
		Amount:      req.Amount,
		Type:        models.TxAdmin,
		Status:      models.TxCompleted,
		ReferenceID: "admin:" + uuid.NewString(),
		Note:        req.Note,
	}
	if err := h.wallets.Append(tx); err != nil {
		if errors.Is(err, repository.ErrInsufficientBalance) {
			return errResponse(c, http.StatusPaymentRequired, "insufficient_balance", "adjustment exceeds balance")
		}
		return errResponse(c, http.StatusInternalServerError, "failed", "append failed")
	}

	balance, _ := h.wallets.BalanceOf(req.UserID)
	h.logger.Info("Balance adjusted",
		zap.String("user_id", req.UserID), zap.Int64("amount", req.Amount))
	return okResponse(c, "balance adjusted", map[string]int64{"balance": balance})
}
