package view

import (
	"bytes"
	"fmt"
	"time"

	"github.com/gofiber/template/html/v2"

	"github.com/pelusa-v/firechat/internal/domain"
)

// Template names inside the engine.
const (
	messageTemplate = "message"
	onlineTemplate  = "online"
)

// Renderer turns nodes and the online list into HTML fragments using the same
// template engine that renders the page.
type Renderer struct {
	engine     *html.Engine
	timeLayout string
	now        func() time.Time
}

// NewRenderer loads the engine's templates. timeLayout is a Go time layout;
// empty means "15:04".
func NewRenderer(engine *html.Engine, timeLayout string) (*Renderer, error) {
	if err := engine.Load(); err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	if timeLayout == "" {
		timeLayout = "15:04"
	}
	return &Renderer{engine: engine, timeLayout: timeLayout, now: time.Now}, nil
}

// FormatTime formats a message timestamp. A timestamp the store has not
// assigned yet shows the current time.
func (r *Renderer) FormatTime(ts *time.Time) string {
	if ts == nil {
		return r.now().Format(r.timeLayout)
	}
	return ts.Local().Format(r.timeLayout)
}

// Message renders a single message node.
func (r *Renderer) Message(n *Node) (string, error) {
	var buf bytes.Buffer
	if err := r.engine.Render(&buf, messageTemplate, n); err != nil {
		return "", fmt.Errorf("render message %s: %w", n.ID, err)
	}
	return buf.String(), nil
}

type onlineData struct {
	Users []domain.Presence
}

// Online renders the online-user panel body.
func (r *Renderer) Online(users []domain.Presence) (string, error) {
	var buf bytes.Buffer
	if err := r.engine.Render(&buf, onlineTemplate, onlineData{Users: users}); err != nil {
		return "", fmt.Errorf("render online users: %w", err)
	}
	return buf.String(), nil
}
