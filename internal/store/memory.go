package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/pelusa-v/firechat/internal/domain"
)

// Memory is an in-process Store. Every widget connected to the same process
// shares its documents, which makes it suitable for development and tests.
type Memory struct {
	mu     sync.Mutex
	now    func() time.Time
	docs   map[string]domain.Message
	status map[string]domain.Presence
	closed bool

	msgFeeds      map[*feed[domain.Change]]struct{}
	presenceFeeds map[*feed[[]domain.Presence]]struct{}
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		now:           time.Now,
		docs:          make(map[string]domain.Message),
		status:        make(map[string]domain.Presence),
		msgFeeds:      make(map[*feed[domain.Change]]struct{}),
		presenceFeeds: make(map[*feed[[]domain.Presence]]struct{}),
	}
}

func (s *Memory) AddMessage(_ context.Context, msg domain.NewMessage) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrClosed
	}

	ts := s.now()
	m := domain.Message{
		ID:        ulid.Make().String(),
		Text:      msg.Text,
		UserID:    msg.UserID,
		UserName:  msg.UserName,
		Timestamp: &ts,
	}
	s.docs[m.ID] = m
	s.broadcast(domain.AddedChange(copyMessage(m)))
	return m.ID, nil
}

func (s *Memory) UpdateMessage(_ context.Context, id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	m, ok := s.docs[id]
	if !ok {
		return fmt.Errorf("update message %s: %w", id, ErrNotFound)
	}
	ts := s.now()
	m.Text = text
	m.Edited = true
	m.Timestamp = &ts
	s.docs[id] = m
	s.broadcast(domain.ModifiedChange(copyMessage(m)))
	return nil
}

func (s *Memory) DeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	if _, ok := s.docs[id]; !ok {
		return nil
	}
	delete(s.docs, id)
	s.broadcast(domain.RemovedChange(id))
	return nil
}

func (s *Memory) SetPresence(_ context.Context, p domain.Presence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	p.LastChanged = s.now()
	s.status[p.UserID] = p
	online := s.onlineLocked()
	for f := range s.presenceFeeds {
		f.push(online)
	}
	return nil
}

func (s *Memory) WatchMessages(ctx context.Context, onChange ChangeFunc, _ ErrorFunc) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	f := newFeed(func(batch []domain.Change) { onChange(batch) })
	initial := make([]domain.Change, 0, len(s.docs))
	for _, m := range s.orderedLocked() {
		initial = append(initial, domain.AddedChange(m))
	}
	f.push(initial...)
	s.msgFeeds[f] = struct{}{}
	f.start(ctx)

	return &memorySub{stop: func() {
		s.mu.Lock()
		delete(s.msgFeeds, f)
		s.mu.Unlock()
		f.Stop()
	}}, nil
}

func (s *Memory) WatchPresence(ctx context.Context, onChange PresenceFunc, _ ErrorFunc) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	// Only the latest set matters when several are pending.
	f := newFeed(func(batch [][]domain.Presence) { onChange(batch[len(batch)-1]) })
	f.push(s.onlineLocked())
	s.presenceFeeds[f] = struct{}{}
	f.start(ctx)

	return &memorySub{stop: func() {
		s.mu.Lock()
		delete(s.presenceFeeds, f)
		s.mu.Unlock()
		f.Stop()
	}}, nil
}

// Close stops every subscription.
func (s *Memory) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	msgFeeds, presenceFeeds := s.msgFeeds, s.presenceFeeds
	s.msgFeeds = map[*feed[domain.Change]]struct{}{}
	s.presenceFeeds = map[*feed[[]domain.Presence]]struct{}{}
	s.mu.Unlock()

	for f := range msgFeeds {
		f.Stop()
	}
	for f := range presenceFeeds {
		f.Stop()
	}
	return nil
}

func (s *Memory) broadcast(ch domain.Change) {
	for f := range s.msgFeeds {
		f.push(ch)
	}
}

func (s *Memory) orderedLocked() []domain.Message {
	out := make([]domain.Message, 0, len(s.docs))
	for _, m := range s.docs {
		out = append(out, copyMessage(m))
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].Timestamp, out[j].Timestamp
		if !ti.Equal(*tj) {
			return ti.Before(*tj)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Memory) onlineLocked() []domain.Presence {
	out := make([]domain.Presence, 0, len(s.status))
	for _, p := range s.status {
		if p.State == domain.StateOnline {
			out = append(out, p)
		}
	}
	sortPresence(out)
	return out
}

func sortPresence(ps []domain.Presence) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].UserName != ps[j].UserName {
			return ps[i].UserName < ps[j].UserName
		}
		return ps[i].UserID < ps[j].UserID
	})
}

func copyMessage(m domain.Message) domain.Message {
	if m.Timestamp != nil {
		ts := *m.Timestamp
		m.Timestamp = &ts
	}
	return m
}

type memorySub struct {
	stop func()
}

func (s *memorySub) Stop() { s.stop() }
