package view

// PatchKind names a browser-side DOM operation.
type PatchKind string

const (
	PatchSession    PatchKind = "session"
	PatchInsert     PatchKind = "insert"
	PatchUpdate     PatchKind = "update"
	PatchRemove     PatchKind = "remove"
	PatchScroll     PatchKind = "scroll"
	PatchOnline     PatchKind = "online"
	PatchEditModal  PatchKind = "edit_modal"
	PatchCloseModal PatchKind = "close_modal"
	PatchConfirm    PatchKind = "confirm"
	PatchAlert      PatchKind = "alert"
	PatchClearInput PatchKind = "clear_input"
)

// Patch is one server-to-browser frame. Fields not used by a kind are omitted.
type Patch struct {
	Kind     PatchKind `json:"kind"`
	ID       string    `json:"id,omitempty"`
	HTML     string    `json:"html,omitempty"`
	Position Policy    `json:"position,omitempty"`
	Text     string    `json:"text,omitempty"`
	Time     string    `json:"time,omitempty"`
	Edited   bool      `json:"edited,omitempty"`
	Name     string    `json:"name,omitempty"`
	Avatar   string    `json:"avatar,omitempty"`
}

// Sink receives patches in the order they must be applied.
type Sink interface {
	Push(p Patch)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(p Patch)

func (f SinkFunc) Push(p Patch) { f(p) }
