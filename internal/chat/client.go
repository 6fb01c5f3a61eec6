package chat

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"

	"github.com/pelusa-v/firechat/internal/log"
	"github.com/pelusa-v/firechat/internal/view"
)

// Client is one connected widget. It implements view.Sink.
type Client struct {
	Id   string
	Name string
	Conn ConnLike
	Send chan []byte

	logger    zerolog.Logger
	closed    chan struct{}
	written   chan struct{}
	closeOnce sync.Once
}

type ConnLike interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(int, []byte) error
	Close() error
}

func NewClient(id, name string, conn ConnLike, buffer int, logger zerolog.Logger) *Client {
	if buffer <= 0 {
		buffer = 64
	}
	return &Client{
		Id:      id,
		Name:    name,
		Conn:    conn,
		Send:    make(chan []byte, buffer),
		logger:  logger,
		closed:  make(chan struct{}),
		written: make(chan struct{}),
	}
}

// Push queues a patch for the browser. A client that falls behind by a full
// buffer is disconnected; the widget reloads its state on reconnect.
func (c *Client) Push(p view.Patch) {
	data, err := json.Marshal(&p)
	if err != nil {
		c.logger.Error().Err(err).Str("patch", string(p.Kind)).Msg("marshal patch")
		return
	}
	select {
	case <-c.closed:
	case c.Send <- data:
	default:
		c.logger.Warn().Str(log.FieldSessionID, c.Id).Msg("send buffer full, closing widget")
		c.Close()
	}
}

// ReadPump decodes events until the connection fails or the client is closed.
func (c *Client) ReadPump(dispatch func(Event) bool) {
	defer c.Close()
	for {
		_, data, err := c.Conn.ReadMessage()
		if err != nil {
			return
		}
		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			c.logger.Debug().Err(err).Msg("malformed widget event")
			continue
		}
		if !dispatch(ev) {
			return
		}
	}
}

// WritePump writes queued patches and keepalive pings until the client is
// closed or a write fails. It is started at most once per client.
func (c *Client) WritePump(pingInterval time.Duration) {
	defer close(c.written)
	var ping <-chan time.Time
	if pingInterval > 0 {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}
	defer c.Close()

	for {
		select {
		case <-c.closed:
			return
		case data := <-c.Send:
			if err := c.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug().Err(err).Msg("write patch")
				return
			}
		case <-ping:
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close closes the connection once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		_ = c.Conn.Close()
	})
}

// Done is closed once the client is closed.
func (c *Client) Done() <-chan struct{} { return c.closed }

// Written is closed once WritePump has returned and no longer touches Conn.
func (c *Client) Written() <-chan struct{} { return c.written }
