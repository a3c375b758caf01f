package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/evetabi/yesno/internal/api/middleware"
	"github.com/evetabi/yesno/internal/domain"
	"github.com/evetabi/yesno/internal/service"
	"github.com/gin-gonic/gin"
)

// MarketHandler serves market creation and query endpoints.
type MarketHandler struct {
	marketSvc   *service.MarketService
	defaultPage int
}

// NewMarketHandler creates a MarketHandler. defaultPage is the list limit
// used when a request gives none.
func NewMarketHandler(marketSvc *service.MarketService, defaultPage int) *MarketHandler {
	if defaultPage <= 0 {
		defaultPage = 100
	}
	return &MarketHandler{marketSvc: marketSvc, defaultPage: defaultPage}
}

// CreateMarket godoc
// POST /api/markets [JWT]
// Body: {"question":"...","duration_days":7,"initial_liquidity":"1000000000000000000"}
// end_time (RFC 3339) may replace duration_days.
func (h *MarketHandler) CreateMarket(c *gin.Context) {
	var body struct {
		Question         string     `json:"question"          binding:"required"`
		DurationDays     int        `json:"duration_days"`
		EndTime          *time.Time `json:"end_time"`
		InitialLiquidity string     `json:"initial_liquidity" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	liquidity, err := parseAmount(body.InitialLiquidity)
	if err != nil {
		respondDomainError(c, domain.ErrLiquidityTooLow, "")
		return
	}

	market, err := h.marketSvc.CreateMarket(c.Request.Context(), domain.CreateMarketRequest{
		Creator:          middleware.GetAddress(c),
		Question:         body.Question,
		DurationDays:     body.DurationDays,
		EndTime:          body.EndTime,
		InitialLiquidity: liquidity,
	})
	if err != nil {
		respondDomainError(c, err, "could not create market")
		return
	}
	respondSuccess(c, http.StatusCreated, market.Info())
}

// GetMarket godoc
// GET /api/markets/:id
func (h *MarketHandler) GetMarket(c *gin.Context) {
	id, ok := parseAddress(c, "id")
	if !ok {
		return
	}
	info, err := h.marketSvc.GetMarketInfo(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err, "could not fetch market")
		return
	}
	respondSuccess(c, http.StatusOK, info)
}

// GetPrice godoc
// GET /api/markets/:id/price?outcome=yes
func (h *MarketHandler) GetPrice(c *gin.Context) {
	id, ok := parseAddress(c, "id")
	if !ok {
		return
	}
	outcome := c.DefaultQuery("outcome", "yes")
	yes, ok := parseOutcome(outcome)
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_OUTCOME", "outcome must be yes or no")
		return
	}
	price, err := h.marketSvc.GetPrice(c.Request.Context(), id, yes)
	if err != nil {
		respondDomainError(c, err, "could not fetch price")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"market_id": id,
		"outcome":   strings.ToLower(outcome),
		"price":     price,
		"scale":     domain.PriceScale,
	})
}

// GetPosition godoc
// GET /api/markets/:id/positions/:address
func (h *MarketHandler) GetPosition(c *gin.Context) {
	id, ok := parseAddress(c, "id")
	if !ok {
		return
	}
	owner, ok := parseAddress(c, "address")
	if !ok {
		return
	}
	pos, err := h.marketSvc.GetPosition(c.Request.Context(), id, owner)
	if err != nil {
		respondDomainError(c, err, "could not fetch position")
		return
	}
	respondSuccess(c, http.StatusOK, pos.View())
}

// GetWinnings godoc
// GET /api/markets/:id/winnings/:address
func (h *MarketHandler) GetWinnings(c *gin.Context) {
	id, ok := parseAddress(c, "id")
	if !ok {
		return
	}
	owner, ok := parseAddress(c, "address")
	if !ok {
		return
	}
	amount, err := h.marketSvc.CalculateWinnings(c.Request.Context(), id, owner)
	if err != nil {
		respondDomainError(c, err, "could not calculate winnings")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"market_id": id, "address": owner, "amount": amount})
}

// HasClaimed godoc
// GET /api/markets/:id/claimed/:address
func (h *MarketHandler) HasClaimed(c *gin.Context) {
	id, ok := parseAddress(c, "id")
	if !ok {
		return
	}
	owner, ok := parseAddress(c, "address")
	if !ok {
		return
	}
	claimed, err := h.marketSvc.HasClaimed(c.Request.Context(), id, owner)
	if err != nil {
		respondDomainError(c, err, "could not fetch claim status")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"market_id": id, "address": owner, "claimed": claimed})
}

// CountMarkets godoc
// GET /api/markets/count
func (h *MarketHandler) CountMarkets(c *gin.Context) {
	n, err := h.marketSvc.CountMarkets(c.Request.Context())
	if err != nil {
		respondDomainError(c, err, "could not count markets")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"count": n})
}

// ListMarkets godoc
// GET /api/markets?offset=0&limit=100[&ids=true]
// Returns registry entries [offset, offset+limit) clipped to the registry.
// With ids=true only the market ids are returned. meta.limit is the limit
// that was applied.
func (h *MarketHandler) ListMarkets(c *gin.Context) {
	offset, limit := parsePagination(c, h.defaultPage)
	ctx := c.Request.Context()

	total, err := h.marketSvc.CountMarkets(ctx)
	if err != nil {
		respondDomainError(c, err, "could not list markets")
		return
	}

	var items interface{}
	if c.Query("ids") == "true" {
		items, err = h.marketSvc.ListMarketIDs(ctx, offset, limit)
	} else {
		items, err = h.marketSvc.ListMarkets(ctx, offset, limit)
	}
	if err != nil {
		respondDomainError(c, err, "could not list markets")
		return
	}
	respondList(c, items, total, offset, limit)
}
