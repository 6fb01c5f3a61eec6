package handlers

import (
	"context"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/pelusa-v/firechat/internal/chat"
	"github.com/pelusa-v/firechat/internal/domain"
	"github.com/pelusa-v/firechat/internal/log"
	"github.com/pelusa-v/firechat/internal/store"
	"github.com/pelusa-v/firechat/internal/view"
)

// WidgetPath is the websocket endpoint the page connects to.
const WidgetPath = "/api/ws/widget"

// Options configure the widget endpoints.
type Options struct {
	Title          string
	Policy         view.Policy
	WelcomeMessage string
	WelcomeDelay   time.Duration
	SendBuffer     int
	PingInterval   time.Duration
}

type Handlers struct {
	Manager  *chat.Manager
	Store    store.Store
	Renderer chat.Renderer
	Options  Options
	Logger   zerolog.Logger
}

// localLogger is the fiber local holding the request logger, carried into
// the websocket handler by the upgrade.
const localLogger = "logger"

// WidgetHandler GET /api/ws/widget?name=&sid=
// sid is the session ID from an earlier connection of the same page.
func (h *Handlers) WidgetHandler(c *websocket.Conn) {
	session := domain.ResumeSession(c.Query("sid"), c.Query("name"))
	base := h.Logger
	if l, ok := c.Locals(localLogger).(zerolog.Logger); ok {
		base = l
	}
	logger := base.With().
		Str(log.FieldSessionID, session.ID).
		Str(log.FieldUserName, session.Name).
		Logger()

	client := chat.NewClient(session.ID, session.Name, c, h.Options.SendBuffer, logger)
	if !h.Manager.Register(client) {
		client.Close()
		return
	}
	defer h.Manager.Unregister(client)
	logger.Info().Msg("widget connected")

	ctrl := chat.NewController(session, h.Store, h.Renderer, client, chat.Options{
		Policy:         h.Options.Policy,
		WelcomeMessage: h.Options.WelcomeMessage,
		WelcomeDelay:   h.Options.WelcomeDelay,
	}, logger)

	ctx, cancel := context.WithCancel(log.WithLogger(context.Background(), logger))
	defer cancel()

	ran := make(chan struct{})
	go func() {
		defer close(ran)
		defer client.Close()
		if err := ctrl.Run(ctx); err != nil {
			logger.Error().Err(err).Msg("widget stopped")
		}
	}()
	go client.WritePump(h.Options.PingInterval)

	client.ReadPump(func(ev chat.Event) bool { return ctrl.Dispatch(ctx, ev) })
	cancel()
	<-ran
	// c is released to the pool once this returns.
	<-client.Written()
	logger.Info().Msg("widget disconnected")
}

// ShowClientsHandler GET /api/clients?exclude=nameOrId
func (h *Handlers) ShowClientsHandler(c *fiber.Ctx) error {
	ex := c.Query("exclude")
	clients := h.Manager.ListClients(ex)
	l := log.Ctx(c.UserContext())
	l.Debug().Str("exclude", ex).Int("count", len(clients)).Msg("list clients")
	return c.JSON(clients)
}

// IndexHandler GET /
func (h *Handlers) IndexHandler(c *fiber.Ctx) error {
	return c.Render("index", fiber.Map{
		"Title":  h.Options.Title,
		"WSPath": WidgetPath,
	})
}

// HealthHandler GET /healthz
func (h *Handlers) HealthHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "ok",
		"widgets": h.Manager.Count(),
	})
}
