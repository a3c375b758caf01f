package handler

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/yesno/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// FinanceHandler serves /admin/ledger endpoints: minting settlement tokens
// and inspecting an account's balance and transfer journal.
type FinanceHandler struct {
	tokenSvc *service.TokenService
}

// NewFinanceHandler creates a FinanceHandler.
func NewFinanceHandler(tokenSvc *service.TokenService) *FinanceHandler {
	return &FinanceHandler{tokenSvc: tokenSvc}
}

// Mint godoc
// POST /admin/ledger/mint
// Body: {"address":"0x...","amount":"1000000000000000000"}
func (h *FinanceHandler) Mint(c *gin.Context) {
	var body struct {
		Address string `json:"address" binding:"required"`
		Amount  string `json:"amount"  binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	if !common.IsHexAddress(body.Address) {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ADDRESS", "invalid address")
		return
	}
	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "amount must be an integer string")
		return
	}

	to := common.HexToAddress(body.Address)
	ctx := c.Request.Context()
	if err = h.tokenSvc.Mint(ctx, to, amount); err != nil {
		respondDomainError(c, err)
		return
	}
	balance, err := h.tokenSvc.BalanceOf(ctx, to)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"address": to, "minted": amount, "balance": balance})
}

// Account godoc
// GET /admin/ledger/:address?offset=0&limit=50
func (h *FinanceHandler) Account(c *gin.Context) {
	addr, ok := addressParam(c, "address")
	if !ok {
		return
	}
	offset, limit := adminPagination(c)
	ctx := c.Request.Context()

	balance, err := h.tokenSvc.BalanceOf(ctx, addr)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	entries, err := h.tokenSvc.Journal(ctx, addr, limit, offset)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"address": addr,
		"balance": balance,
		"journal": entries,
	})
}
