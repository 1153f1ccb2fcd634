package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/relaychat/relay-api/internal/config"
	"github.com/relaychat/relay-api/internal/handler"
	"github.com/relaychat/relay-api/internal/observability"
	"github.com/relaychat/relay-api/internal/realtime"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	MessageHandler      *handler.MessageHandler
	ConversationHandler *handler.ConversationHandler
	RealtimeHandler     *handler.RealtimeHandler
	RealtimeRouter      *realtime.Router
	JWTMiddleware       fiber.Handler
	SendRateLimit       fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg, deps.RealtimeRouter))
	app.Get("/metrics", observability.MetricsHandler())

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	if deps.MessageHandler != nil {
		messages := api.Group("/messages", jwtMiddleware)
		// The send limit applies to the POST route only; history reads and
		// reaction calls are not subject to the send budget.
		deps.MessageHandler.Register(messages, deps.SendRateLimit)
	}

	if deps.ConversationHandler != nil {
		conversations := api.Group("/conversations", jwtMiddleware)
		deps.ConversationHandler.Register(conversations)
	}

	if deps.RealtimeHandler != nil {
		realtimeGroup := api.Group("/realtime", jwtMiddleware)
		deps.RealtimeHandler.Register(realtimeGroup)

		presence := api.Group("/presence", jwtMiddleware)
		deps.RealtimeHandler.RegisterPresence(presence)
	}
}
