package handler

import (
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/yesno/internal/api/middleware"
	"github.com/evetabi/yesno/internal/service"
	"github.com/gin-gonic/gin"
)

// UserHandler handles wallet sign-in and profile endpoints.
type UserHandler struct {
	authSvc  *service.AuthService
	tokenSvc *service.TokenService
}

// NewUserHandler creates a UserHandler.
func NewUserHandler(authSvc *service.AuthService, tokenSvc *service.TokenService) *UserHandler {
	return &UserHandler{authSvc: authSvc, tokenSvc: tokenSvc}
}

// Challenge godoc
// POST /api/auth/challenge
// Body: {"address":"0x..."}
func (h *UserHandler) Challenge(c *gin.Context) {
	var body struct {
		Address string `json:"address" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	if !common.IsHexAddress(body.Address) {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ADDRESS", "address must be a 0x-prefixed hex address")
		return
	}

	resp, err := h.authSvc.Challenge(c.Request.Context(), common.HexToAddress(body.Address))
	if err != nil {
		respondDomainError(c, err, "could not issue challenge")
		return
	}
	respondSuccess(c, http.StatusOK, resp)
}

// Verify godoc
// POST /api/auth/verify
// Body: {"address":"0x...","signature":"0x..."}
func (h *UserHandler) Verify(c *gin.Context) {
	var body struct {
		Address   string `json:"address"   binding:"required"`
		Signature string `json:"signature" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	if !common.IsHexAddress(body.Address) {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ADDRESS", "address must be a 0x-prefixed hex address")
		return
	}

	resp, err := h.authSvc.Verify(c.Request.Context(), common.HexToAddress(body.Address), body.Signature)
	if err != nil {
		respondDomainError(c, err, "sign-in failed")
		return
	}
	respondSuccess(c, http.StatusOK, resp)
}

// Me godoc
// GET /api/me [JWT required]
func (h *UserHandler) Me(c *gin.Context) {
	addr := middleware.GetAddress(c)
	balance, err := h.tokenSvc.BalanceOf(c.Request.Context(), addr)
	if err != nil {
		respondDomainError(c, err, "could not fetch balance")
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{
		"address": addr,
		"role":    middleware.GetRole(c),
		"balance": balance,
	})
}
