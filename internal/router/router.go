package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"panelsync/internal/handler/api"
	"panelsync/internal/middleware"
	"panelsync/internal/orchestrator"
	"panelsync/internal/recon"
)

// Setup configures all routes for the Echo server.
func Setup(
	e *echo.Echo,
	orch *orchestrator.Orchestrator,
	repos *orchestrator.Repos,
	engine *recon.Engine,
	deduper middleware.ConfirmationDeduper,
	logger *zap.Logger,
	apiKey string,
	hashFilePath string,
) {
	// Global middleware
	e.Use(echomw.Recover())
	e.Use(middleware.CORS())

	// Handlers
	accountHandler := api.NewAccountHandler(orch, repos.Account, logger)
	paymentHandler := api.NewPaymentHandler(orch, repos.Wallet, deduper, logger)
	adminHandler := api.NewAdminHandler(repos.Panel, repos.Plan, repos.Wallet, repos.User, engine, logger)

	e.GET("/healthz", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// API group behind token auth
	apiGroup := e.Group("/api")
	apiGroup.Use(middleware.APIAuth(apiKey, hashFilePath))

	// Accounts
	apiGroup.POST("/accounts/purchase", accountHandler.Purchase)
	apiGroup.POST("/accounts/:id/renew", accountHandler.Renew)
	apiGroup.DELETE("/accounts/:id", accountHandler.Revoke)
	apiGroup.GET("/accounts/:id", accountHandler.Get)
	apiGroup.GET("/accounts/:id/profile", accountHandler.Profile)
	apiGroup.GET("/accounts/:id/profile/qr", accountHandler.ProfileQR)
	apiGroup.GET("/users/:user_id/accounts", accountHandler.ListByUser)

	// Wallet
	apiGroup.POST("/payments/confirm", paymentHandler.Confirm)
	apiGroup.GET("/users/:user_id/balance", paymentHandler.Balance)
	apiGroup.GET("/users/:user_id/transactions", paymentHandler.Transactions)

	// Operator surface
	apiGroup.GET("/admin/panels", adminHandler.ListPanels)
	apiGroup.POST("/admin/panels", adminHandler.CreatePanel)
	apiGroup.PUT("/admin/panels/:id/status", adminHandler.SetPanelStatus)
	apiGroup.GET("/admin/plans", adminHandler.ListPlans)
	apiGroup.POST("/admin/plans", adminHandler.CreatePlan)
	apiGroup.POST("/admin/wallet/adjust", adminHandler.AdjustBalance)
}
