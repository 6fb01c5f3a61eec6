package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pelusa-v/firechat/internal/domain"
	"github.com/pelusa-v/firechat/internal/store"
	"github.com/pelusa-v/firechat/internal/view"
)

// patchLog is a thread-safe view.Sink.
type patchLog struct {
	mu      sync.Mutex
	patches []view.Patch
}

func (l *patchLog) Push(p view.Patch) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.patches = append(l.patches, p)
}

func (l *patchLog) all() []view.Patch {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]view.Patch, len(l.patches))
	copy(out, l.patches)
	return out
}

func (l *patchLog) kinds() []view.PatchKind {
	var out []view.PatchKind
	for _, p := range l.all() {
		out = append(out, p.Kind)
	}
	return out
}

func (l *patchLog) last(kind view.PatchKind) (view.Patch, bool) {
	all := l.all()
	for i := len(all) - 1; i >= 0; i-- {
		if all[i].Kind == kind {
			return all[i], true
		}
	}
	return view.Patch{}, false
}

func (l *patchLog) count(kind view.PatchKind) int {
	n := 0
	for _, p := range l.all() {
		if p.Kind == kind {
			n++
		}
	}
	return n
}

func (l *patchLog) reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.patches = nil
}

// fakeRenderer renders nodes as plain strings.
type fakeRenderer struct {
	failFor string
}

func (r fakeRenderer) Message(n *view.Node) (string, error) {
	if n.ID == r.failFor {
		return "", errors.New("render failed")
	}
	return fmt.Sprintf("%s|%s|%s", n.ID, n.Sender, n.Text), nil
}

func (fakeRenderer) Online(users []domain.Presence) (string, error) {
	if len(users) == 0 {
		return "none", nil
	}
	out := ""
	for _, u := range users {
		out += u.UserName + ";"
	}
	return out, nil
}

func (fakeRenderer) FormatTime(ts *time.Time) string {
	if ts == nil {
		return "now"
	}
	return ts.UTC().Format("15:04")
}

// flakyStore fails the mutations named in fail and counts every call.
type flakyStore struct {
	store.Store

	fail    map[string]bool
	adds    atomic.Int32
	updates atomic.Int32
	deletes atomic.Int32
}

func (s *flakyStore) AddMessage(ctx context.Context, msg domain.NewMessage) (string, error) {
	s.adds.Add(1)
	if s.fail["add"] {
		return "", errors.New("unavailable")
	}
	return s.Store.AddMessage(ctx, msg)
}

func (s *flakyStore) UpdateMessage(ctx context.Context, id, text string) error {
	s.updates.Add(1)
	if s.fail["update"] {
		return errors.New("unavailable")
	}
	return s.Store.UpdateMessage(ctx, id, text)
}

func (s *flakyStore) DeleteMessage(ctx context.Context, id string) error {
	s.deletes.Add(1)
	if s.fail["delete"] {
		return errors.New("unavailable")
	}
	return s.Store.DeleteMessage(ctx, id)
}

// fakeConn is a ConnLike fed from a channel.
type fakeConn struct {
	in      chan []byte
	mu      sync.Mutex
	written [][]byte
	types   []int
	closed  chan struct{}
	once    sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 8), closed: make(chan struct{})}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case data := <-c.in:
		return 1, data, nil
	case <-c.closed:
		return 0, nil, errors.New("closed")
	}
}

func (c *fakeConn) WriteMessage(t int, data []byte) error {
	select {
	case <-c.closed:
		return errors.New("closed")
	default:
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, data)
	c.types = append(c.types, t)
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) frames() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.written))
	copy(out, c.written)
	return out
}
