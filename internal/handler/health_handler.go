package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/relaychat/relay-api/internal/config"
	"github.com/relaychat/relay-api/internal/realtime"
	"github.com/relaychat/relay-api/internal/utils"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
	Connections int       `json:"connections"`
}

// HealthCheck returns a handler that reports application health information.
func HealthCheck(cfg config.Config, router *realtime.Router) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
		}
		if router != nil {
			payload.Connections = router.ConnectionCount()
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}
