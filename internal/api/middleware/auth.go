package middleware

import (
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/evetabi/yesno/internal/domain"
	"github.com/evetabi/yesno/internal/service"
	"github.com/gin-gonic/gin"
)

// ContextKey constants for gin.Context values set by middleware.
const (
	CtxAddress = "address"
	CtxRole    = "role"
)

// TokenParser is satisfied by *service.AuthService.
type TokenParser interface {
	ParseAccessToken(tokenString string) (*service.AppClaims, error)
}

// ──────────────────────────────────────────────────────────────────────────────
// JWTMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// JWTMiddleware validates the Bearer token in the Authorization header.
// On success it stores the wallet address (common.Address) and role (string)
// in the gin context.
func JWTMiddleware(auth TokenParser) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" || !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   domain.ErrUnauthorized.Error(),
				"code":    "ERR_UNAUTHORIZED",
			})
			return
		}

		claims, err := auth.ParseAccessToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil || !common.IsHexAddress(claims.Subject) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   domain.ErrTokenInvalid.Error(),
				"code":    "ERR_TOKEN_INVALID",
			})
			return
		}

		c.Set(CtxAddress, common.HexToAddress(claims.Subject))
		c.Set(CtxRole, claims.Role)
		c.Next()
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// RoleMiddleware
// ──────────────────────────────────────────────────────────────────────────────

// RoleMiddleware ensures the authenticated wallet has one of the allowed roles.
// Must be placed after JWTMiddleware in the chain.
func RoleMiddleware(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		if !allowed[GetRole(c)] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   domain.ErrForbidden.Error(),
				"code":    "ERR_FORBIDDEN",
			})
			return
		}
		c.Next()
	}
}

// AdminMiddleware allows only the admin role.
func AdminMiddleware() gin.HandlerFunc {
	return RoleMiddleware(service.RoleAdmin)
}

// ──────────────────────────────────────────────────────────────────────────────
// Helpers: extract caller identity from context (for use in handlers)
// ──────────────────────────────────────────────────────────────────────────────

// GetAddress retrieves the authenticated wallet from the gin context.
// Returns the zero address if the middleware was not applied.
func GetAddress(c *gin.Context) common.Address {
	v, exists := c.Get(CtxAddress)
	if !exists {
		return common.Address{}
	}
	addr, _ := v.(common.Address)
	return addr
}

// GetRole retrieves the authenticated caller's role string from the gin context.
func GetRole(c *gin.Context) string {
	v, _ := c.Get(CtxRole)
	r, _ := v.(string)
	return r
}
