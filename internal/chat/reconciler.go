package chat

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/pelusa-v/firechat/internal/domain"
	"github.com/pelusa-v/firechat/internal/log"
	"github.com/pelusa-v/firechat/internal/metrics"
	"github.com/pelusa-v/firechat/internal/view"
)

// Renderer produces the HTML fragments a widget is patched with.
type Renderer interface {
	Message(n *view.Node) (string, error)
	Online(users []domain.Presence) (string, error)
	FormatTime(ts *time.Time) string
}

// Reconciler applies change feed batches to a widget's rendered list. It is
// not safe for concurrent use; one goroutine owns it.
type Reconciler struct {
	session  domain.Session
	list     *view.List
	nodes    map[string]*view.Node
	renderer Renderer
	sink     view.Sink
	bind     func(id string) *view.Actions
	logger   zerolog.Logger
}

// NewReconciler creates a reconciler rendering for session into list and
// pushing every mutation to sink.
func NewReconciler(session domain.Session, list *view.List, renderer Renderer, sink view.Sink, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		session:  session,
		list:     list,
		nodes:    make(map[string]*view.Node),
		renderer: renderer,
		sink:     sink,
		bind:     func(string) *view.Actions { return &view.Actions{} },
		logger:   logger,
	}
}

// BindActions sets the factory for the controls attached to the session's
// own messages. It is called once per inserted node.
func (r *Reconciler) BindActions(fn func(id string) *view.Actions) {
	r.bind = fn
}

// Node returns the node registered for id.
func (r *Reconciler) Node(id string) (*view.Node, bool) {
	n, ok := r.nodes[id]
	return n, ok
}

// Len is the number of nodes on display.
func (r *Reconciler) Len() int { return r.list.Len() }

// Apply processes a batch in order. Added for a known ID and Modified or
// Removed for an unknown ID are no-ops.
func (r *Reconciler) Apply(batch []domain.Change) {
	changed := false
	for _, ch := range batch {
		var applied bool
		switch ch.Kind {
		case domain.Added:
			applied = r.add(ch.Message)
		case domain.Modified:
			applied = r.modify(ch.Message)
		case domain.Removed:
			applied = r.remove(ch.ID)
		default:
			r.logger.Warn().Str(log.FieldMessageID, ch.ID).Int(log.FieldChange, int(ch.Kind)).Msg("unknown change kind")
			continue
		}

		outcome := "noop"
		if applied {
			outcome = "applied"
			changed = true
		}
		metrics.ChangesApplied.WithLabelValues(ch.Kind.String(), outcome).Inc()
	}

	if changed {
		r.sink.Push(view.Patch{Kind: view.PatchScroll})
	}
}

func (r *Reconciler) add(m domain.Message) bool {
	if _, ok := r.nodes[m.ID]; ok {
		return false
	}

	own := m.UserID == r.session.ID
	n := &view.Node{
		ID:     m.ID,
		Sender: m.UserName,
		Own:    own,
		Text:   m.Text,
		Time:   r.renderer.FormatTime(m.Timestamp),
		Edited: m.Edited,
	}
	if own {
		n.Actions = r.bind(m.ID)
	}

	html, err := r.renderer.Message(n)
	if err != nil {
		r.logger.Error().Err(err).Str(log.FieldMessageID, m.ID).Msg("render message")
		return false
	}

	r.list.Insert(n)
	r.nodes[m.ID] = n
	r.sink.Push(view.Patch{Kind: view.PatchInsert, ID: m.ID, HTML: html, Position: r.list.Policy()})
	return true
}

func (r *Reconciler) modify(m domain.Message) bool {
	n, ok := r.nodes[m.ID]
	if !ok {
		return false
	}

	ts := r.renderer.FormatTime(m.Timestamp)
	if n.Text == m.Text && n.Time == ts && n.Edited == m.Edited {
		return false
	}
	n.Text = m.Text
	n.Time = ts
	n.Edited = m.Edited

	r.sink.Push(view.Patch{Kind: view.PatchUpdate, ID: m.ID, Text: n.Text, Time: n.Time, Edited: n.Edited})
	return true
}

func (r *Reconciler) remove(id string) bool {
	n, ok := r.nodes[id]
	if !ok {
		return false
	}
	r.list.Remove(n)
	delete(r.nodes, id)
	r.sink.Push(view.Patch{Kind: view.PatchRemove, ID: id})
	return true
}
