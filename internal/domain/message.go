package domain

import "time"

// Message is a chat message document as read from the store. Timestamp is
// nil until the store has assigned it.
type Message struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	UserID    string     `json:"userId"`
	UserName  string     `json:"userName"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
	Edited    bool       `json:"edited"`
}

// NewMessage holds the client-supplied fields of a message to create.
// The store assigns the ID and the timestamp.
type NewMessage struct {
	Text     string
	UserID   string
	UserName string
}

// ChangeKind tags a Change.
type ChangeKind int

const (
	Added ChangeKind = iota + 1
	Modified
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one entry of a change feed batch. Message is the zero value for
// Removed changes; ID is always set.
type Change struct {
	Kind    ChangeKind
	ID      string
	Message Message
}

// AddedChange, ModifiedChange and RemovedChange build Change values.
func AddedChange(m Message) Change { return Change{Kind: Added, ID: m.ID, Message: m} }

func ModifiedChange(m Message) Change { return Change{Kind: Modified, ID: m.ID, Message: m} }

func RemovedChange(id string) Change { return Change{Kind: Removed, ID: id} }
