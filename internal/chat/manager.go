package chat

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/pelusa-v/firechat/internal/log"
	"github.com/pelusa-v/firechat/internal/metrics"
)

// Manager tracks the connected widgets of this process.
type Manager struct {
	mu      sync.RWMutex
	Clients map[string]*Client // id -> client

	RegisterChan   chan *Client
	UnregisterChan chan *Client

	logger zerolog.Logger
	done   chan struct{}
}

func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		Clients:        map[string]*Client{},
		RegisterChan:   make(chan *Client),
		UnregisterChan: make(chan *Client),
		logger:         logger,
		done:           make(chan struct{}),
	}
}

// Register adds a client. It reports false once the manager has stopped.
func (m *Manager) Register(c *Client) bool {
	select {
	case m.RegisterChan <- c:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) Unregister(c *Client) {
	select {
	case m.UnregisterChan <- c:
	case <-m.done:
	}
}

// Done is closed when Start returns.
func (m *Manager) Done() <-chan struct{} { return m.done }

func (m *Manager) ListClients(exclude string) []ClientJson {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]ClientJson, 0, len(m.Clients))
	for id, c := range m.Clients {
		if exclude != "" && (exclude == id || exclude == c.Name) {
			continue
		}
		out = append(out, ClientJson{Id: id, Name: c.Name})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].Id < out[j].Id
	})
	return out
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Clients)
}

// Start runs the registration loop until ctx ends, then closes every client.
func (m *Manager) Start(ctx context.Context) error {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			for id, c := range m.Clients {
				c.Close()
				delete(m.Clients, id)
			}
			m.mu.Unlock()
			metrics.Widgets.Set(0)
			return nil

		case client := <-m.RegisterChan:
			m.mu.Lock()
			m.Clients[client.Id] = client
			n := len(m.Clients)
			m.mu.Unlock()
			metrics.Widgets.Set(float64(n))
			m.logger.Info().Str(log.FieldSessionID, client.Id).Str(log.FieldUserName, client.Name).Msg("widget joined")

		case client := <-m.UnregisterChan:
			m.mu.Lock()
			if _, ok := m.Clients[client.Id]; !ok {
				m.mu.Unlock()
				continue
			}
			delete(m.Clients, client.Id)
			n := len(m.Clients)
			m.mu.Unlock()
			metrics.Widgets.Set(float64(n))
			m.logger.Info().Str(log.FieldSessionID, client.Id).Str(log.FieldUserName, client.Name).Msg("widget left")
		}
	}
}
