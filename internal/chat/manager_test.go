package chat

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pelusa-v/firechat/internal/view"
)

func startManager(t *testing.T) (*Manager, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(zerolog.Nop())
	go m.Start(ctx)
	t.Cleanup(func() {
		cancel()
		<-m.Done()
	})
	return m, cancel
}

func TestManager_RegisterAndList(t *testing.T) {
	m, _ := startManager(t)

	ann := NewClient("u1", "ann", newFakeConn(), 4, zerolog.Nop())
	bob := NewClient("u2", "bob", newFakeConn(), 4, zerolog.Nop())
	require.True(t, m.Register(bob))
	require.True(t, m.Register(ann))
	require.Eventually(t, func() bool { return m.Count() == 2 }, waitFor, tick)

	assert.Equal(t, []ClientJson{{Id: "u1", Name: "ann"}, {Id: "u2", Name: "bob"}}, m.ListClients(""))
	assert.Equal(t, []ClientJson{{Id: "u2", Name: "bob"}}, m.ListClients("ann"))
	assert.Equal(t, []ClientJson{{Id: "u1", Name: "ann"}}, m.ListClients("u2"))

	m.Unregister(ann)
	m.Unregister(ann)
	require.Eventually(t, func() bool { return m.Count() == 1 }, waitFor, tick)
}

func TestManager_ShutdownClosesClients(t *testing.T) {
	m, cancel := startManager(t)

	conn := newFakeConn()
	c := NewClient("u1", "ann", conn, 4, zerolog.Nop())
	require.True(t, m.Register(c))

	cancel()
	<-m.Done()

	select {
	case <-c.Done():
	case <-time.After(waitFor):
		t.Fatal("client not closed")
	}
	assert.Zero(t, m.Count())
	assert.False(t, m.Register(NewClient("u2", "bob", newFakeConn(), 4, zerolog.Nop())))
}

func TestClient_Pumps(t *testing.T) {
	conn := newFakeConn()
	c := NewClient("u1", "ann", conn, 4, zerolog.Nop())
	go c.WritePump(0)

	c.Push(view.Patch{Kind: view.PatchAlert, Text: "boom"})
	require.Eventually(t, func() bool { return len(conn.frames()) == 1 }, waitFor, tick)

	var got view.Patch
	require.NoError(t, json.Unmarshal(conn.frames()[0], &got))
	assert.Equal(t, view.Patch{Kind: view.PatchAlert, Text: "boom"}, got)

	conn.in <- []byte(`not json`)
	conn.in <- []byte(`{"type":"send","text":"hi"}`)
	conn.in <- []byte(`{"type":"confirm_delete","id":"m1","confirmed":true}`)

	var events []Event
	c.ReadPump(func(ev Event) bool {
		events = append(events, ev)
		return len(events) < 2
	})

	assert.Equal(t, []Event{
		{Type: EventSend, Text: "hi"},
		{Type: EventConfirmDelete, ID: "m1", Confirmed: true},
	}, events)

	select {
	case <-c.Done():
	default:
		t.Fatal("ReadPump must close the client")
	}
}

// TestClient_Written tests that Written closes only after WritePump returns.
func TestClient_Written(t *testing.T) {
	c := NewClient("u1", "ann", newFakeConn(), 4, zerolog.Nop())

	select {
	case <-c.Written():
		t.Fatal("Written closed before WritePump ran")
	default:
	}

	go c.WritePump(0)
	c.Close()

	select {
	case <-c.Written():
	case <-time.After(waitFor):
		t.Fatal("WritePump did not return after Close")
	}
}

func TestClient_PingAndOverflow(t *testing.T) {
	conn := newFakeConn()
	c := NewClient("u1", "ann", conn, 1, zerolog.Nop())

	// No writer: the second patch overflows the buffer.
	c.Push(view.Patch{Kind: view.PatchScroll})
	c.Push(view.Patch{Kind: view.PatchScroll})

	select {
	case <-c.Done():
	default:
		t.Fatal("overflow must close the client")
	}

	conn2 := newFakeConn()
	c2 := NewClient("u2", "bob", conn2, 1, zerolog.Nop())
	go c2.WritePump(5 * time.Millisecond)
	defer c2.Close()

	require.Eventually(t, func() bool {
		conn2.mu.Lock()
		defer conn2.mu.Unlock()
		return len(conn2.types) > 0 && conn2.types[0] == websocket.PingMessage
	}, waitFor, tick)
}
