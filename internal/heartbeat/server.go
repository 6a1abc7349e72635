// Package heartbeat runs the optional diagnostics HTTP server: liveness,
// readiness against the store and bus, and the Prometheus exposition.
package heartbeat

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

// Pinger checks a dependency; the bus satisfies it directly.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server is the diagnostic HTTP surface. It decides nothing; it reports.
type Server struct {
	app  *fiber.App
	addr string
}

// New builds the fiber app with /healthz, /readyz and /metrics.
func New(addr string, db *gorm.DB, busPing Pinger) *Server {
	app := fiber.New(fiber.Config{DisableStartupMessage: true})

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/readyz", func(c *fiber.Ctx) error {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Context())
		}
		if err != nil {
			return c.Status(fiber.StatusServiceUnavailable).
				JSON(fiber.Map{"status": "degraded", "database": err.Error()})
		}
		if err := busPing.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).
				JSON(fiber.Map{"status": "degraded", "bus": err.Error()})
		}
		return c.JSON(fiber.Map{"status": "ready"})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	return &Server{app: app, addr: addr}
}

// Run serves until Shutdown is called.
func (s *Server) Run() {
	log.Info().Str("addr", s.addr).Msg("heartbeat server started")
	if err := s.app.Listen(s.addr); err != nil {
		log.Error().Err(err).Msg("heartbeat server exited")
	}
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() {
	if err := s.app.Shutdown(); err != nil {
		log.Error().Err(err).Msg("heartbeat shutdown failed")
	}
}
