package handler

import (
	"net/http"
	"time"

	"github.com/evetabi/yesno/internal/domain"
	"github.com/evetabi/yesno/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ConnCounter reports live WebSocket connections. Implemented by ws.Hub.
type ConnCounter interface {
	ConnectedCount() int
}

// DashboardHandler serves the /admin/dashboard endpoint.
type DashboardHandler struct {
	marketSvc *service.MarketService
	tokenSvc  *service.TokenService
	hub       ConnCounter
}

// NewDashboardHandler creates a DashboardHandler. hub may be nil.
func NewDashboardHandler(marketSvc *service.MarketService, tokenSvc *service.TokenService, hub ConnCounter) *DashboardHandler {
	return &DashboardHandler{marketSvc: marketSvc, tokenSvc: tokenSvc, hub: hub}
}

const dashboardPage = 100

// Dashboard godoc
// GET /admin/dashboard
func (h *DashboardHandler) Dashboard(c *gin.Context) {
	ctx := c.Request.Context()
	now := time.Now().UTC()

	total, err := h.marketSvc.CountMarkets(ctx)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	// ── Registry scan ────────────────────────────────────────────────────────
	var (
		byStatus     = map[string]int{}
		awaiting     int
		openInterest = decimal.Zero
		volume       = decimal.Zero
		lopsided     []domain.MarketInfo
	)
	for offset := 0; int64(offset) < total; offset += dashboardPage {
		page, err := h.marketSvc.ListMarkets(ctx, offset, dashboardPage)
		if err != nil {
			respondDomainError(c, err)
			return
		}
		if len(page) == 0 {
			break
		}
		for _, m := range page {
			byStatus[m.StatusName]++
			volume = volume.Add(m.TotalVolume)
			if m.Status != domain.StatusActive {
				continue
			}
			openInterest = openInterest.Add(m.YesPool).Add(m.NoPool)
			if !now.Before(m.EndTime) {
				awaiting++
			}
			if riskIndicator(m.YesPrice) == "RED" {
				lopsided = append(lopsided, m)
			}
		}
	}

	// ── Factory account ──────────────────────────────────────────────────────
	factoryBalance, err := h.tokenSvc.BalanceOf(ctx, h.marketSvc.FactoryAddress())
	if err != nil {
		respondDomainError(c, err)
		return
	}

	// ── WS connections ────────────────────────────────────────────────────────
	var wsConnections int
	if h.hub != nil {
		wsConnections = h.hub.ConnectedCount()
	}

	respondSuccess(c, http.StatusOK, gin.H{
		"timestamp":           now,
		"markets_total":       total,
		"markets_by_status":   byStatus,
		"awaiting_resolution": awaiting,
		"open_interest":       openInterest,
		"total_volume":        volume,
		"lopsided_markets":    lopsided,
		"factory_balance":     factoryBalance,
		"ws_connections":      wsConnections,
	})
}

// riskIndicator returns GREEN/YELLOW/RED based on how far the YES price sits
// from even odds.
func riskIndicator(yesPrice int64) string {
	dominant := yesPrice
	if no := domain.PriceScale - yesPrice; no > dominant {
		dominant = no
	}
	switch {
	case dominant > 8500:
		return "RED"
	case dominant > 7000:
		return "YELLOW"
	default:
		return "GREEN"
	}
}
