package router // package router registers the HTTP routes of the kiosk server

import (
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/kiosk-session-server/internal/config"
	"github.com/iliyamo/kiosk-session-server/internal/handler"
	"github.com/iliyamo/kiosk-session-server/internal/metrics"
	"github.com/iliyamo/kiosk-session-server/internal/middleware"
	"github.com/iliyamo/kiosk-session-server/internal/utils"
)

// RegisterRoutes registers the unauthenticated operational endpoints.
func RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", handler.Health)
	e.GET("/metrics", echo.WrapHandler(metrics.Handler()))
}

// Handlers bundles everything the kiosk and admin routes dispatch to.
type Handlers struct {
	Kiosks   *handler.KioskHandler
	Animals  *handler.AnimalHandler
	Channel  *handler.ChannelHandler
	Tickets  *handler.TicketHandler
	Webhooks *handler.WebhookHandler
	Sessions *handler.SessionHandler
}

// RegisterKiosk registers the routes used by kiosks, visitors' phones and
// the payment gateway.  Token issuance is rate limited and the catalog is
// served through the Redis response cache.
func RegisterKiosk(e *echo.Echo, h Handlers, rdb *redis.Client, rl config.RateLimitConfig, cc config.CacheConfig) {
	e.POST("/v1/kiosks/:id/generate-token", h.Kiosks.GenerateToken, middleware.NewTokenBucket(rl, rdb))
	e.GET("/v1/kiosks/ws", h.Channel.Connect)
	e.GET("/v1/animals", h.Animals.List, middleware.NewRedisCache(cc, rdb))

	e.GET("/v1/tickets/:id", h.Tickets.Get)
	e.GET("/v1/tickets/:id/pdf", h.Tickets.PDF)

	e.POST("/v1/payments/webhook", h.Webhooks.Payment)
}

// RegisterAdmin registers operator endpoints.  Every route requires an
// admin token.
func RegisterAdmin(e *echo.Echo, h Handlers, jwtSecret string) {
	admin := []echo.MiddlewareFunc{middleware.JWTAuth(jwtSecret), middleware.RequireRole(utils.RoleAdmin)}

	e.GET("/v1/kiosks", h.Kiosks.List, admin...)
	e.POST("/v1/kiosks/:id/revoke-tokens", h.Kiosks.RevokeTokens, admin...)

	g := e.Group("/v1/sessions", admin...)
	g.GET("", h.Sessions.List)
	g.GET("/:id", h.Sessions.Get)
	g.POST("/:id/cancel", h.Sessions.Cancel)
}

// RegisterSandbox registers the fake payment page of the sandbox provider.
func RegisterSandbox(e *echo.Echo, h Handlers) {
	e.GET("/sandbox/pay/:attempt", h.Webhooks.SandboxPay)
	e.POST("/sandbox/pay/:attempt", h.Webhooks.SandboxPay)
}
