package domain

import (
	"fmt"
	"math/rand"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Session is the local identity of one widget page. It is generated when the
// page first connects and never persisted or verified.
type Session struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// NewSession creates a session with a fresh ID. An empty name is replaced by
// a random "User N" name.
func NewSession(name string) Session {
	name = strings.TrimSpace(name)
	if name == "" {
		name = fmt.Sprintf("User %d", rand.Intn(1000))
	}
	return Session{ID: sessionPrefix + uuid.NewString(), Name: name}
}

const sessionPrefix = "user_"

// ResumeSession keeps the ID a widget was given on an earlier connection of
// the same page, so its own messages stay editable after a reconnect. An
// empty or malformed id falls back to NewSession.
func ResumeSession(id, name string) Session {
	raw, ok := strings.CutPrefix(id, sessionPrefix)
	if !ok || uuid.Validate(raw) != nil {
		return NewSession(name)
	}
	s := NewSession(name)
	s.ID = id
	return s
}

// Avatar is the upper-cased first letter of the display name.
func (s Session) Avatar() string {
	for _, r := range s.Name {
		return string(unicode.ToUpper(r))
	}
	return "?"
}

// Presence states.
const (
	StateOnline  = "online"
	StateOffline = "offline"
)

// Presence is a per-user status record in the status collection.
type Presence struct {
	UserID      string    `json:"userId"`
	UserName    string    `json:"userName"`
	State       string    `json:"state"`
	LastChanged time.Time `json:"lastChanged"`
}

// Presence returns the record announcing s in the given state.
func (s Session) Presence(state string) Presence {
	return Presence{UserID: s.ID, UserName: s.Name, State: state}
}
