package handlers

import (
	"net/http"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/gofiber/template/html/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pelusa-v/firechat/internal/log"
)

// NewApp wires the routes. engine renders the page; static serves /static.
func NewApp(h *Handlers, engine *html.Engine, static http.FileSystem) *fiber.App {
	app := fiber.New(fiber.Config{
		Views:                 engine,
		DisableStartupMessage: true,
	})
	app.Use(log.FiberMiddleware(h.Logger))

	app.Use("/static", filesystem.New(filesystem.Config{Root: static}))

	app.Use("/api/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals(localLogger, log.Ctx(c.UserContext()))
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get(WidgetPath, websocket.New(h.WidgetHandler))
	app.Get("/api/clients", h.ShowClientsHandler) // ?exclude=nameOrId

	app.Get("/healthz", h.HealthHandler)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Get("/", h.IndexHandler)
	return app
}
