package store

import (
	"context"
	"errors"

	"github.com/pelusa-v/firechat/internal/domain"
)

var (
	// ErrNotFound is returned when updating a message that does not exist.
	ErrNotFound = errors.New("store: document not found")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("store: closed")
	// ErrFeedResumed is reported through ErrorFunc when a change feed
	// reconnected and its state was reloaded from the store.
	ErrFeedResumed = errors.New("store: change feed reconnected")
)

// ChangeFunc receives one batch of message changes, in feed order.
type ChangeFunc func(batch []domain.Change)

// PresenceFunc receives the full set of online users after every change to
// the status collection.
type PresenceFunc func(online []domain.Presence)

// ErrorFunc receives subscription transport errors. The subscription stays
// registered and resumes on its own.
type ErrorFunc func(err error)

// Subscription is a registered listener. Stop unregisters it; no callback is
// invoked after Stop returns. Stop is safe to call more than once.
type Subscription interface {
	Stop()
}

// Store is the document database the widget reads from and writes to.
type Store interface {
	// AddMessage creates a message with a server-assigned ID and timestamp
	// and edited=false.
	AddMessage(ctx context.Context, msg domain.NewMessage) (string, error)

	// UpdateMessage replaces the text, sets edited=true and moves the
	// timestamp to the server's current time.
	UpdateMessage(ctx context.Context, id, text string) error

	// DeleteMessage removes a message. Deleting a missing message is not an
	// error.
	DeleteMessage(ctx context.Context, id string) error

	// SetPresence merges a status record keyed by user ID. LastChanged is
	// assigned by the store.
	SetPresence(ctx context.Context, p domain.Presence) error

	// WatchMessages delivers the message collection ordered by timestamp.
	// The first batch holds the current documents as Added changes.
	WatchMessages(ctx context.Context, onChange ChangeFunc, onError ErrorFunc) (Subscription, error)

	// WatchPresence delivers the users whose state is online.
	WatchPresence(ctx context.Context, onChange PresenceFunc, onError ErrorFunc) (Subscription, error)

	Close() error
}

// Collections names the two collections a store works on.
type Collections struct {
	Messages string
	Status   string
}

func (c Collections) withDefaults() Collections {
	if c.Messages == "" {
		c.Messages = "messages"
	}
	if c.Status == "" {
		c.Status = "status"
	}
	return c
}
