package handler

import (
	"net/http"

	"github.com/evetabi/yesno/internal/domain"
	"github.com/evetabi/yesno/internal/service"
	"github.com/gin-gonic/gin"
)

// MarketAdminHandler serves /admin/markets endpoints.
type MarketAdminHandler struct {
	marketSvc *service.MarketService
	tokenSvc  *service.TokenService
}

// NewMarketAdminHandler creates a MarketAdminHandler.
func NewMarketAdminHandler(marketSvc *service.MarketService, tokenSvc *service.TokenService) *MarketAdminHandler {
	return &MarketAdminHandler{marketSvc: marketSvc, tokenSvc: tokenSvc}
}

// List godoc
// GET /admin/markets?offset=0&limit=50
func (h *MarketAdminHandler) List(c *gin.Context) {
	offset, limit := adminPagination(c)
	ctx := c.Request.Context()

	total, err := h.marketSvc.CountMarkets(ctx)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	markets, err := h.marketSvc.ListMarkets(ctx, offset, limit)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, markets, total, offset, limit)
}

// Detail godoc
// GET /admin/markets/:id
// Returns the market view plus its custody balance and share totals, which
// the public API does not expose.
func (h *MarketAdminHandler) Detail(c *gin.Context) {
	id, ok := addressParam(c, "id")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	market, err := h.marketSvc.GetMarket(ctx, id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	custody, err := h.tokenSvc.BalanceOf(ctx, id)
	if err != nil {
		respondDomainError(c, err)
		return
	}

	// Claims drain custody once a market settles, so only active markets
	// must hold their whole pool.
	shortfall := market.Status == domain.StatusActive && market.TotalPool().GreaterThan(custody)

	respondSuccess(c, http.StatusOK, gin.H{
		"market":            market.Info(),
		"sequence":          market.Sequence,
		"initial_liquidity": market.InitialLiquidity,
		"total_yes_shares":  market.TotalYesShares,
		"total_no_shares":   market.TotalNoShares,
		"resolved_at":       market.ResolvedAt,
		"custody_balance":   custody,
		"custody_shortfall": shortfall,
	})
}
