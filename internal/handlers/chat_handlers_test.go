package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelusa-v/firechat/internal/chat"
	"github.com/pelusa-v/firechat/internal/store"
	"github.com/pelusa-v/firechat/internal/view"
	"github.com/pelusa-v/firechat/web"
)

const (
	waitFor = time.Second
	tick    = 5 * time.Millisecond
)

type idleConn struct{ closed chan struct{} }

func (c *idleConn) ReadMessage() (int, []byte, error) {
	<-c.closed
	return 0, nil, errors.New("closed")
}

func (c *idleConn) WriteMessage(int, []byte) error { return nil }

func (c *idleConn) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

// syncBuffer is a log sink shared by handler goroutines and the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// lines returns the decoded log lines carrying msg.
func (b *syncBuffer) lines(t *testing.T, msg string) []map[string]any {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []map[string]any
	for _, raw := range bytes.Split(b.buf.Bytes(), []byte("\n")) {
		if len(raw) == 0 {
			continue
		}
		var line map[string]any
		require.NoError(t, json.Unmarshal(raw, &line))
		if line["message"] == msg {
			out = append(out, line)
		}
	}
	return out
}

func newTestApp(t *testing.T) (*fiber.App, *chat.Manager) {
	t.Helper()
	return newTestAppWithLogger(t, zerolog.Nop())
}

func newTestAppWithLogger(t *testing.T, logger zerolog.Logger) (*fiber.App, *chat.Manager) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	manager := chat.NewManager(zerolog.Nop())
	go manager.Start(ctx)
	t.Cleanup(func() {
		cancel()
		<-manager.Done()
	})

	engine := web.Engine()
	renderer, err := view.NewRenderer(engine, "")
	require.NoError(t, err)

	st := store.NewMemory()
	t.Cleanup(func() { st.Close() })

	h := &Handlers{
		Manager:  manager,
		Store:    st,
		Renderer: renderer,
		Options:  Options{Title: "Support chat", Policy: view.Append, SendBuffer: 8},
		Logger:   logger,
	}
	return NewApp(h, engine, web.Static()), manager
}

func get(t *testing.T, app *fiber.App, path string) (int, string) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestIndexHandler(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := get(t, app, "/")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, "<title>Support chat</title>")
	assert.Contains(t, body, WidgetPath)
}

func TestStaticAssets(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := get(t, app, "/static/widget.js")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, "WebSocket")

	status, _ = get(t, app, "/static/missing.js")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestWidgetHandler_RequiresUpgrade(t *testing.T) {
	app, _ := newTestApp(t)

	status, _ := get(t, app, WidgetPath+"?name=ann")
	assert.Equal(t, fiber.StatusUpgradeRequired, status)
}

func TestShowClientsHandler(t *testing.T) {
	app, manager := newTestApp(t)

	for _, c := range []struct{ id, name string }{{"u2", "bob"}, {"u1", "ann"}} {
		client := chat.NewClient(c.id, c.name, &idleConn{closed: make(chan struct{})}, 1, zerolog.Nop())
		require.True(t, manager.Register(client))
	}
	require.Eventually(t, func() bool { return manager.Count() == 2 }, waitFor, tick)

	tests := []struct {
		path string
		want []chat.ClientJson
	}{
		{"/api/clients", []chat.ClientJson{{Id: "u1", Name: "ann"}, {Id: "u2", Name: "bob"}}},
		{"/api/clients?exclude=u1", []chat.ClientJson{{Id: "u2", Name: "bob"}}},
		{"/api/clients?exclude=bob", []chat.ClientJson{{Id: "u1", Name: "ann"}}},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			status, body := get(t, app, tt.path)
			require.Equal(t, fiber.StatusOK, status)

			var got []chat.ClientJson
			require.NoError(t, json.Unmarshal([]byte(body), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

// TestShowClientsHandler_RequestLogger tests that the handler logs through
// the request-scoped logger.
func TestShowClientsHandler_RequestLogger(t *testing.T) {
	buf := &syncBuffer{}
	app, _ := newTestAppWithLogger(t, zerolog.New(buf))

	req := httptest.NewRequest("GET", "/api/clients?exclude=ann", nil)
	req.Header.Set("X-Request-ID", "req-7")
	resp, err := app.Test(req)
	require.NoError(t, err)
	resp.Body.Close()

	lines := buf.lines(t, "list clients")
	require.Len(t, lines, 1)
	assert.Equal(t, "req-7", lines[0]["request_id"])
	assert.Equal(t, "ann", lines[0]["exclude"])
}

// serve runs app on a loopback listener and returns its websocket base URL.
func serve(t *testing.T, app *fiber.App) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go app.Listener(ln)
	t.Cleanup(func() { _ = app.ShutdownWithTimeout(time.Second) })
	return "ws://" + ln.Addr().String()
}

func dial(t *testing.T, base string, query url.Values) *fws.Conn {
	t.Helper()
	conn, _, err := fws.DefaultDialer.Dial(base+WidgetPath+"?"+query.Encode(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads patches until one of kind arrives.
func readUntil(t *testing.T, conn *fws.Conn, kind view.PatchKind) view.Patch {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	for {
		var p view.Patch
		require.NoError(t, conn.ReadJSON(&p))
		if p.Kind == kind {
			return p
		}
	}
}

// TestWidgetHandler_Reconnect tests that a page reconnecting with its session
// ID keeps its identity and can still edit the messages it sent.
func TestWidgetHandler_Reconnect(t *testing.T) {
	buf := &syncBuffer{}
	app, manager := newTestAppWithLogger(t, zerolog.New(buf))
	base := serve(t, app)

	first := dial(t, base, url.Values{"name": {"ann"}})
	session := readUntil(t, first, view.PatchSession)
	assert.Equal(t, "ann", session.Name)

	require.NoError(t, first.WriteJSON(chat.Event{Type: chat.EventSend, Text: "mine"}))
	id := readUntil(t, first, view.PatchInsert).ID
	require.NotEmpty(t, id)

	require.NoError(t, first.Close())
	require.Eventually(t, func() bool {
		return manager.Count() == 0 && len(buf.lines(t, "widget disconnected")) == 1
	}, waitFor, tick)

	again := dial(t, base, url.Values{"name": {"ann"}, "sid": {session.ID}})
	resumed := readUntil(t, again, view.PatchSession)
	assert.Equal(t, session.ID, resumed.ID)
	assert.Equal(t, id, readUntil(t, again, view.PatchInsert).ID)

	require.NoError(t, again.WriteJSON(chat.Event{Type: chat.EventEdit, ID: id}))
	modal := readUntil(t, again, view.PatchEditModal)
	assert.Equal(t, id, modal.ID)
	assert.Equal(t, "mine", modal.Text)

	connected := buf.lines(t, "widget connected")
	require.Len(t, connected, 2)
	for _, line := range connected {
		assert.Equal(t, session.ID, line["session_id"])
		assert.NotEmpty(t, line["request_id"])
	}

	t.Run("forged session id is replaced", func(t *testing.T) {
		other := dial(t, base, url.Values{"name": {"bob"}, "sid": {"user_not-a-uuid"}})
		got := readUntil(t, other, view.PatchSession)
		assert.NotEqual(t, "user_not-a-uuid", got.ID)
		assert.NotEqual(t, session.ID, got.ID)
	})
}

func TestHealthHandler(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := get(t, app, "/healthz")
	assert.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"status":"ok","widgets":0}`, body)
}

func TestMetricsEndpoint(t *testing.T) {
	app, _ := newTestApp(t)

	status, body := get(t, app, "/metrics")
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, "firechat_widgets_connected")
}
