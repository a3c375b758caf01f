package backoffice

import (
	"net/http"
	"strings"

	"github.com/evetabi/yesno/internal/api/middleware"
	"github.com/evetabi/yesno/internal/backoffice/handler"
	"github.com/evetabi/yesno/internal/config"
	"github.com/evetabi/yesno/internal/service"
	"github.com/gin-gonic/gin"
)

// BackofficeDeps bundles every dependency needed for the admin router.
type BackofficeDeps struct {
	AuthSvc   *service.AuthService
	MarketSvc *service.MarketService
	TokenSvc  *service.TokenService
	Hub       handler.ConnCounter // optional
	Cfg       *config.Config
}

// SetupBackofficeRouter creates the admin Gin engine served on the
// back-office port.
func SetupBackofficeRouter(deps BackofficeDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(ipWhitelistMiddleware(deps.Cfg.Server.BackofficeAllowedIPs))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	dashH := handler.NewDashboardHandler(deps.MarketSvc, deps.TokenSvc, deps.Hub)
	marketH := handler.NewMarketAdminHandler(deps.MarketSvc, deps.TokenSvc)
	financeH := handler.NewFinanceHandler(deps.TokenSvc)

	admin := r.Group("/admin")
	admin.Use(middleware.JWTMiddleware(deps.AuthSvc), middleware.AdminMiddleware())
	{
		admin.GET("/dashboard", dashH.Dashboard)

		// Markets
		m := admin.Group("/markets")
		{
			m.GET("", marketH.List)
			m.GET("/:id", marketH.Detail)
		}

		// Ledger
		l := admin.Group("/ledger")
		{
			l.POST("/mint", financeH.Mint)
			l.GET("/:address", financeH.Account)
		}
	}

	return r
}

// ── IP whitelist middleware ───────────────────────────────────────────────────

// ipWhitelistMiddleware blocks requests from IPs not in the allowlist.
// allowedIPs is a comma-separated string; empty means allow all.
func ipWhitelistMiddleware(allowedIPs string) gin.HandlerFunc {
	if allowedIPs == "" {
		return func(c *gin.Context) { c.Next() } // dev mode: no restriction
	}

	allowed := make(map[string]bool)
	for _, ip := range strings.Split(allowedIPs, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			allowed[ip] = true
		}
	}

	return func(c *gin.Context) {
		if !allowed[c.ClientIP()] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "access denied: your IP is not whitelisted",
				"code":    "ERR_IP_NOT_ALLOWED",
			})
			return
		}
		c.Next()
	}
}
