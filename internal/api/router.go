package api

import (
	"log/slog"
	"net/http"

	"github.com/evetabi/yesno/internal/api/handler"
	"github.com/evetabi/yesno/internal/api/middleware"
	"github.com/evetabi/yesno/internal/config"
	"github.com/evetabi/yesno/internal/service"
	"github.com/evetabi/yesno/internal/ws"
	"github.com/gin-gonic/gin"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	AuthSvc   *service.AuthService
	MarketSvc *service.MarketService
	TokenSvc  *service.TokenService
	Hub       *ws.Hub            // optional
	Limiter   middleware.Limiter // optional; defaults to an in-process token bucket
	Cfg       *config.Config
	Logger    *slog.Logger
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── Handlers ─────────────────────────────────────────────────────────────
	userH := handler.NewUserHandler(deps.AuthSvc, deps.TokenSvc)
	marketH := handler.NewMarketHandler(deps.MarketSvc, deps.Cfg.Market.DefaultPageSize)
	betH := handler.NewBetHandler(deps.MarketSvc)
	walletH := handler.NewWalletHandler(deps.TokenSvc)

	// ── JWT middleware (shared) ───────────────────────────────────────────────
	jwtMW := middleware.JWTMiddleware(deps.AuthSvc)

	// ── Rate limiter (mutating and auth endpoints) ────────────────────────────
	limiter := deps.Limiter
	if limiter == nil {
		limiter = middleware.NewTokenBucket(deps.Cfg.Server.RateLimitPerMinute)
	}
	rl := middleware.RateLimitMiddleware(limiter, deps.Logger)

	api := r.Group("/api")
	{
		// ── Auth (public, rate limited) ──────────────────────────────────────
		auth := api.Group("/auth")
		auth.Use(rl)
		{
			auth.POST("/challenge", userH.Challenge)
			auth.POST("/verify", userH.Verify)
		}

		// ── Markets (public reads) ───────────────────────────────────────────
		markets := api.Group("/markets")
		{
			markets.GET("", marketH.ListMarkets)
			markets.GET("/count", marketH.CountMarkets)
			markets.GET("/:id", marketH.GetMarket)
			markets.GET("/:id/price", marketH.GetPrice)
			markets.GET("/:id/positions/:address", marketH.GetPosition)
			markets.GET("/:id/winnings/:address", marketH.GetWinnings)
			markets.GET("/:id/claimed/:address", marketH.HasClaimed)
		}

		// ── Token (public reads) ─────────────────────────────────────────────
		token := api.Group("/token")
		{
			token.GET("/balance/:address", walletH.GetBalance)
			token.GET("/allowance/:owner/:spender", walletH.GetAllowance)
		}

		// ── Authenticated routes ──────────────────────────────────────────────
		authed := api.Group("")
		authed.Use(jwtMW, rl)
		{
			authed.GET("/me", userH.Me)

			authed.POST("/markets", marketH.CreateMarket)
			authed.POST("/markets/:id/buy", betH.BuyPosition)
			authed.POST("/markets/:id/resolve", betH.ResolveMarket)
			authed.POST("/markets/:id/invalidate", betH.MarkInvalid)
			authed.POST("/markets/:id/claim", betH.ClaimWinnings)

			authed.POST("/token/approve", walletH.Approve)
			authed.GET("/token/transactions", walletH.GetTransactions)
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// With no configured origins every origin is allowed.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.Server.AllowedOrigins))
	for _, o := range cfg.Server.AllowedOrigins {
		allowed[o] = true
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		switch {
		case len(allowed) == 0 || allowed["*"]:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
