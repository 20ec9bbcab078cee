package api

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"

	"github.com/ewancrowle/quill/internal/config"
	"github.com/ewancrowle/quill/internal/congestion"
	"github.com/ewancrowle/quill/internal/transport"
)

type Server struct {
	app      *fiber.App
	cfg      *config.Config
	cc       *congestion.Controller
	endpoint *transport.Endpoint
}

func NewServer(cfg *config.Config, cc *congestion.Controller, endpoint *transport.Endpoint) *Server {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	if cfg.API.LogRequests {
		app.Use(logger.New())
	}

	s := &Server{
		app:      app,
		cfg:      cfg,
		cc:       cc,
		endpoint: endpoint,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.app.Get("/stats", s.handleStats)
	s.app.Get("/config", s.handleConfig)
}

func (s *Server) Start() error {
	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.API.Port))
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"congestion": s.cc.Snapshot(),
		"endpoint":   s.endpoint.Counters(),
	})
}

func (s *Server) handleConfig(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"transport": s.cfg.Transport,
	})
}
