package chat

// EventType names a browser-to-server widget event.
type EventType string

const (
	EventSend          EventType = "send"
	EventEdit          EventType = "edit"
	EventSaveEdit      EventType = "save_edit"
	EventCancelEdit    EventType = "cancel_edit"
	EventDelete        EventType = "delete"
	EventConfirmDelete EventType = "confirm_delete"
)

// Event is one user action sent by the widget.
type Event struct {
	Type      EventType `json:"type"`
	ID        string    `json:"id,omitempty"`   // message the action targets
	Text      string    `json:"text,omitempty"` // send / save_edit
	Confirmed bool      `json:"confirmed,omitempty"`
}

// ClientJson is the public view of a connected widget.
type ClientJson struct {
	Id   string `json:"id"`
	Name string `json:"name"`
}
