package handler

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/yesno/internal/api/middleware"
	"github.com/evetabi/yesno/internal/service"
	"github.com/gin-gonic/gin"
)

// WalletHandler serves settlement-token balance, allowance and approval
// endpoints. The front-end approves the factory before createMarket and the
// market before buyPosition.
type WalletHandler struct {
	tokenSvc *service.TokenService
}

// NewWalletHandler creates a WalletHandler.
func NewWalletHandler(tokenSvc *service.TokenService) *WalletHandler {
	return &WalletHandler{tokenSvc: tokenSvc}
}

// GetBalance godoc
// GET /api/token/balance/:address
func (h *WalletHandler) GetBalance(c *gin.Context) {
	owner, ok := parseAddress(c, "address")
	if !ok {
		return
	}
	bal, err := h.tokenSvc.BalanceOf(c.Request.Context(), owner)
	if err != nil {
		respondDomainError(c, err, "could not fetch balance")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"address": owner, "balance": bal})
}

// GetAllowance godoc
// GET /api/token/allowance/:owner/:spender
func (h *WalletHandler) GetAllowance(c *gin.Context) {
	owner, ok := parseAddress(c, "owner")
	if !ok {
		return
	}
	spender, ok := parseAddress(c, "spender")
	if !ok {
		return
	}
	amt, err := h.tokenSvc.Allowance(c.Request.Context(), owner, spender)
	if err != nil {
		respondDomainError(c, err, "could not fetch allowance")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"owner": owner, "spender": spender, "allowance": amt})
}

// Approve godoc
// POST /api/token/approve [JWT]
// Body: {"spender":"0x...","amount":"1000"}
func (h *WalletHandler) Approve(c *gin.Context) {
	owner := middleware.GetAddress(c)

	var body struct {
		Spender string `json:"spender" binding:"required"`
		Amount  string `json:"amount"  binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	if !common.IsHexAddress(body.Spender) {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ADDRESS", "spender must be a 0x-prefixed hex address")
		return
	}
	amount, err := parseAmount(body.Amount)
	if err != nil {
		respondDomainError(c, err, "")
		return
	}

	spender := common.HexToAddress(body.Spender)
	if err := h.tokenSvc.Approve(c.Request.Context(), owner, spender, amount); err != nil {
		respondDomainError(c, err, "could not approve")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"owner": owner, "spender": spender, "allowance": amount})
}

// GetTransactions godoc
// GET /api/token/transactions?offset=0&limit=20 [JWT]
func (h *WalletHandler) GetTransactions(c *gin.Context) {
	addr := middleware.GetAddress(c)
	offset, limit := parsePagination(c, 20)

	entries, err := h.tokenSvc.Journal(c.Request.Context(), addr, limit, offset)
	if err != nil {
		respondDomainError(c, err, "could not fetch transactions")
		return
	}
	respondSuccess(c, http.StatusOK, entries)
}
