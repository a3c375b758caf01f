package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/yesno/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Standard response helpers
// ──────────────────────────────────────────────────────────────────────────────

// respondSuccess writes {"success": true, "data": data} with the given status.
func respondSuccess(c *gin.Context, status int, data interface{}) {
	c.JSON(status, gin.H{
		"success": true,
		"data":    data,
	})
}

// respondError writes {"success": false, "error": msg, "code": code}.
func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"success": false,
		"error":   msg,
		"code":    code,
	})
}

// respondList writes {"success": true, "data": items, "meta": {...}}.
func respondList(c *gin.Context, items interface{}, total int64, offset, limit int) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    items,
		"meta": gin.H{
			"total":  total,
			"offset": offset,
			"limit":  limit,
		},
	})
}

// ──────────────────────────────────────────────────────────────────────────────
// Domain error → HTTP mapping
// ──────────────────────────────────────────────────────────────────────────────

var errorCodes = []struct {
	err    error
	status int
	code   string
}{
	{domain.ErrQuestionTooShort, http.StatusBadRequest, "ERR_QUESTION_TOO_SHORT"},
	{domain.ErrQuestionTooLong, http.StatusBadRequest, "ERR_QUESTION_TOO_LONG"},
	{domain.ErrInvalidDuration, http.StatusBadRequest, "ERR_INVALID_DURATION"},
	{domain.ErrLiquidityTooLow, http.StatusBadRequest, "ERR_LIQUIDITY_TOO_LOW"},
	{domain.ErrInvalidAmount, http.StatusBadRequest, "ERR_INVALID_AMOUNT"},
	{domain.ErrInvalidAddress, http.StatusBadRequest, "ERR_INVALID_ADDRESS"},

	{domain.ErrTokenInvalid, http.StatusUnauthorized, "ERR_TOKEN_INVALID"},
	{domain.ErrSignatureInvalid, http.StatusUnauthorized, "ERR_SIGNATURE_INVALID"},
	{domain.ErrChallengeExpired, http.StatusUnauthorized, "ERR_CHALLENGE_EXPIRED"},
	{domain.ErrNotResolver, http.StatusForbidden, "ERR_NOT_RESOLVER"},
	{domain.ErrUnauthorized, http.StatusForbidden, "ERR_UNAUTHORIZED"},
	{domain.ErrForbidden, http.StatusForbidden, "ERR_FORBIDDEN"},

	{domain.ErrMarketNotActive, http.StatusConflict, "ERR_MARKET_NOT_ACTIVE"},
	{domain.ErrBettingClosed, http.StatusConflict, "ERR_BETTING_CLOSED"},
	{domain.ErrMarketNotEnded, http.StatusConflict, "ERR_MARKET_NOT_ENDED"},
	{domain.ErrMarketNotSettled, http.StatusConflict, "ERR_MARKET_NOT_SETTLED"},
	{domain.ErrAlreadyClaimed, http.StatusConflict, "ERR_ALREADY_CLAIMED"},
	{domain.ErrNothingToClaim, http.StatusUnprocessableEntity, "ERR_NOTHING_TO_CLAIM"},

	{domain.ErrInsufficientFunds, http.StatusPaymentRequired, "ERR_INSUFFICIENT_FUNDS"},
	{domain.ErrInsufficientAllowance, http.StatusPaymentRequired, "ERR_INSUFFICIENT_ALLOWANCE"},
	{domain.ErrTransferFailed, http.StatusPaymentRequired, "ERR_TRANSFER_FAILED"},

	{domain.ErrMarketNotFound, http.StatusNotFound, "ERR_MARKET_NOT_FOUND"},
}

// respondDomainError maps err onto the status/code table above. Anything
// unknown becomes a 500 with fallback as the message so internals never leak.
func respondDomainError(c *gin.Context, err error, fallback string) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			respondError(c, e.status, e.code, e.err.Error())
			return
		}
	}
	_ = c.Error(err)
	respondError(c, http.StatusInternalServerError, "ERR_INTERNAL", fallback)
}

// ── request parsing helpers ──────────────────────────────────────────────────

// parseAddress reads a hex address path parameter. It writes the 400 response
// itself and returns ok=false on failure.
func parseAddress(c *gin.Context, param string) (common.Address, bool) {
	raw := c.Param(param)
	if !common.IsHexAddress(raw) {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_ADDRESS", param+" must be a 0x-prefixed hex address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

// parseAmount parses a base-unit integer string.
func parseAmount(raw string) (decimal.Decimal, error) {
	amt, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, domain.ErrInvalidAmount
	}
	return amt, nil
}

// parseOutcome maps "yes"/"no" (any case) to the side flag.
func parseOutcome(raw string) (yes bool, ok bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "yes", "true":
		return true, true
	case "no", "false":
		return false, true
	}
	return false, false
}

// parsePagination reads ?offset=&limit=. A missing limit becomes defaultLimit;
// an explicit limit is passed through unchanged. Malformed values fall back to the
// defaults; the service clips anything out of range.
func parsePagination(c *gin.Context, defaultLimit int) (offset, limit int) {
	offset, err := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if err != nil || offset < 0 {
		offset = 0
	}
	raw, ok := c.GetQuery("limit")
	if !ok {
		return offset, defaultLimit
	}
	limit, err = strconv.Atoi(raw)
	if err != nil || limit < 0 {
		limit = defaultLimit
	}
	return offset, limit
}
