package handler

import (
	"net/http"

	"github.com/evetabi/yesno/internal/api/middleware"
	"github.com/evetabi/yesno/internal/service"
	"github.com/gin-gonic/gin"
)

// BetHandler serves the mutating market endpoints: buy, resolve, invalidate
// and claim.
type BetHandler struct {
	marketSvc *service.MarketService
}

// NewBetHandler creates a BetHandler.
func NewBetHandler(marketSvc *service.MarketService) *BetHandler {
	return &BetHandler{marketSvc: marketSvc}
}

// BuyPosition godoc
// POST /api/markets/:id/buy [JWT]
// Body: {"outcome":"yes","amount":"500"}
func (h *BetHandler) BuyPosition(c *gin.Context) {
	id, ok := parseAddress(c, "id")
	if !ok {
		return
	}

	var body struct {
		Outcome string `json:"outcome" binding:"required"`
		Amount  string `json:"amount"  binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	yes, ok := parseOutcome(body.Outcome)
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_OUTCOME", "outcome must be yes or no")
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		respondDomainError(c, err, "")
		return
	}

	res, err := h.marketSvc.BuyPosition(c.Request.Context(), middleware.GetAddress(c), id, yes, amount)
	if err != nil {
		respondDomainError(c, err, "could not buy position")
		return
	}
	respondSuccess(c, http.StatusOK, res)
}

// ResolveMarket godoc
// POST /api/markets/:id/resolve [JWT]
// Body: {"outcome":"yes"}
func (h *BetHandler) ResolveMarket(c *gin.Context) {
	id, ok := parseAddress(c, "id")
	if !ok {
		return
	}

	var body struct {
		Outcome string `json:"outcome" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	yes, ok := parseOutcome(body.Outcome)
	if !ok {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_OUTCOME", "outcome must be yes or no")
		return
	}

	market, err := h.marketSvc.ResolveMarket(c.Request.Context(), middleware.GetAddress(c), id, yes)
	if err != nil {
		respondDomainError(c, err, "could not resolve market")
		return
	}
	respondSuccess(c, http.StatusOK, market.Info())
}

// MarkInvalid godoc
// POST /api/markets/:id/invalidate [JWT]
func (h *BetHandler) MarkInvalid(c *gin.Context) {
	id, ok := parseAddress(c, "id")
	if !ok {
		return
	}
	market, err := h.marketSvc.MarkInvalid(c.Request.Context(), middleware.GetAddress(c), id)
	if err != nil {
		respondDomainError(c, err, "could not invalidate market")
		return
	}
	respondSuccess(c, http.StatusOK, market.Info())
}

// ClaimWinnings godoc
// POST /api/markets/:id/claim [JWT]
func (h *BetHandler) ClaimWinnings(c *gin.Context) {
	id, ok := parseAddress(c, "id")
	if !ok {
		return
	}
	caller := middleware.GetAddress(c)
	amount, err := h.marketSvc.ClaimWinnings(c.Request.Context(), caller, id)
	if err != nil {
		respondDomainError(c, err, "could not claim winnings")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"market_id": id, "address": caller, "amount": amount})
}
