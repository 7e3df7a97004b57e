package console

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orion-pds/orion/internal/accounts"
)

// HealthChecker reports whether the PDS is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) bool
}

// AccountLister lists the accounts hosted on the PDS.
type AccountLister interface {
	ListAccounts(ctx context.Context) []accounts.Account
}

// DashboardHandler serves the accounts overview
type DashboardHandler struct {
	health   HealthChecker
	accounts AccountLister
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(health HealthChecker, lister AccountLister) *DashboardHandler {
	return &DashboardHandler{health: health, accounts: lister}
}

// Dashboard is the dashboard view model.
type Dashboard struct {
	IsServiceHealthy bool               `json:"is_service_healthy"`
	Accounts         []accounts.Account `json:"accounts"`
}

// GetDashboard returns PDS health and every hosted account.
// GET /dashboard/
func (h *DashboardHandler) GetDashboard(c *gin.Context) {
	ctx := c.Request.Context()
	view := Dashboard{
		IsServiceHealthy: h.health.HealthCheck(ctx),
		Accounts:         h.accounts.ListAccounts(ctx),
	}
	if view.Accounts == nil {
		view.Accounts = []accounts.Account{}
	}
	c.JSON(http.StatusOK, view)
}
