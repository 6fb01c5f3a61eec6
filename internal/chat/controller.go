package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pelusa-v/firechat/internal/domain"
	"github.com/pelusa-v/firechat/internal/log"
	"github.com/pelusa-v/firechat/internal/metrics"
	"github.com/pelusa-v/firechat/internal/store"
	"github.com/pelusa-v/firechat/internal/view"
)

const confirmDeleteText = "Are you sure you want to delete this message?"

// welcomeID is the ID of the local greeting; it never exists in the store.
const welcomeID = "welcome"

// UIState is the local state of one widget.
type UIState struct {
	Session         domain.Session
	EditingID       string
	PendingDeleteID string
}

// Options tune a controller.
type Options struct {
	Policy         view.Policy
	WelcomeMessage string
	WelcomeDelay   time.Duration
}

type requestResult struct {
	op  requestOp
	id  string
	err error
}

// Controller runs one widget: it owns the reconciler and the UI state, and
// serialises feed batches, user events and request completions through a
// single loop.
type Controller struct {
	store    store.Store
	renderer Renderer
	sink     view.Sink
	rec      *Reconciler
	state    UIState
	opts     Options
	logger   zerolog.Logger

	events  chan Event
	batches chan []domain.Change
	online  chan []domain.Presence
	results chan requestResult
	done    chan struct{}
}

// NewController creates a controller for session. Patches go to sink.
func NewController(session domain.Session, st store.Store, renderer Renderer, sink view.Sink, opts Options, logger zerolog.Logger) *Controller {
	if opts.Policy == "" {
		opts.Policy = view.Append
	}
	c := &Controller{
		store:    st,
		renderer: renderer,
		sink:     sink,
		state:    UIState{Session: session},
		opts:     opts,
		logger:   logger,
		events:   make(chan Event),
		batches:  make(chan []domain.Change),
		online:   make(chan []domain.Presence),
		results:  make(chan requestResult),
		done:     make(chan struct{}),
	}
	c.rec = NewReconciler(session, view.NewList(opts.Policy), renderer, sink, logger)
	c.rec.BindActions(c.actions)
	return c
}

// Dispatch hands a user event to the loop. It reports false when the
// controller is no longer running.
func (c *Controller) Dispatch(ctx context.Context, ev Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Run subscribes to the store and processes events until ctx ends.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	msgSub, err := c.store.WatchMessages(ctx, func(batch []domain.Change) {
		select {
		case c.batches <- batch:
		case <-ctx.Done():
		}
	}, c.feedError("messages"))
	if err != nil {
		return fmt.Errorf("watch messages: %w", err)
	}

	presenceSub, err := c.store.WatchPresence(ctx, func(online []domain.Presence) {
		select {
		case c.online <- online:
		case <-ctx.Done():
		}
	}, c.feedError("presence"))
	if err != nil {
		cancel()
		msgSub.Stop()
		return fmt.Errorf("watch presence: %w", err)
	}

	// Unsubscribe before announcing offline; the callbacks above return
	// once ctx is cancelled.
	defer func() {
		cancel()
		msgSub.Stop()
		presenceSub.Stop()
		c.announce(context.WithoutCancel(ctx), domain.StateOffline)
	}()

	session := c.state.Session
	c.sink.Push(view.Patch{Kind: view.PatchSession, ID: session.ID, Name: session.Name, Avatar: session.Avatar()})
	c.announce(ctx, domain.StateOnline)

	var welcome <-chan time.Time
	if c.opts.WelcomeMessage != "" {
		timer := time.NewTimer(c.opts.WelcomeDelay)
		defer timer.Stop()
		welcome = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch := <-c.batches:
			c.rec.Apply(batch)
			c.logger.Debug().Int("changes", len(batch)).Int("shown", c.rec.Len()).Msg("applied batch")
		case online := <-c.online:
			c.showOnline(online)
		case ev := <-c.events:
			c.handle(ctx, ev)
		case res := <-c.results:
			c.complete(res)
		case <-welcome:
			welcome = nil
			c.showWelcome()
		}
	}
}

func (c *Controller) feedError(feed string) store.ErrorFunc {
	return func(err error) {
		if errors.Is(err, store.ErrFeedResumed) {
			c.logger.Info().Str("feed", feed).Msg("feed reconnected, state reloaded")
			return
		}
		metrics.SubscriptionErrors.WithLabelValues(feed).Inc()
		c.logger.Warn().Err(err).Str("feed", feed).Msg("subscription error, waiting for the feed to resume")
	}
}

func (c *Controller) announce(ctx context.Context, state string) {
	if err := c.store.SetPresence(ctx, c.state.Session.Presence(state)); err != nil {
		c.logger.Error().Err(err).Str("state", state).Msg("update presence")
	}
}

func (c *Controller) showOnline(online []domain.Presence) {
	others := make([]domain.Presence, 0, len(online))
	for _, p := range online {
		if p.UserID != c.state.Session.ID {
			others = append(others, p)
		}
	}
	html, err := c.renderer.Online(others)
	if err != nil {
		c.logger.Error().Err(err).Msg("render online users")
		return
	}
	c.sink.Push(view.Patch{Kind: view.PatchOnline, HTML: html})
}

func (c *Controller) showWelcome() {
	now := time.Now()
	c.rec.Apply([]domain.Change{domain.AddedChange(domain.Message{
		ID:        welcomeID,
		Text:      c.opts.WelcomeMessage,
		UserID:    "system",
		UserName:  "System",
		Timestamp: &now,
	})})
}

// actions binds the edit and delete controls of the session's own message.
// They run on the loop goroutine.
func (c *Controller) actions(id string) *view.Actions {
	return &view.Actions{
		Edit:   func() { c.state = c.openEdit(c.state, id) },
		Delete: func() { c.state = c.requestDelete(c.state, id) },
	}
}

func (c *Controller) handle(ctx context.Context, ev Event) {
	switch ev.Type {
	case EventSend:
		c.send(ctx, ev.Text)
	case EventEdit, EventDelete:
		n, ok := c.rec.Node(ev.ID)
		if !ok || n.Actions == nil {
			c.logger.Debug().Str(log.FieldMessageID, ev.ID).Str("event", string(ev.Type)).Msg("no action bound for message")
			return
		}
		if ev.Type == EventEdit {
			n.Actions.Edit()
		} else {
			n.Actions.Delete()
		}
	case EventSaveEdit:
		c.state = c.saveEdit(ctx, c.state, ev.Text)
	case EventCancelEdit:
		c.state = c.closeEdit(c.state)
	case EventConfirmDelete:
		c.state = c.confirmDelete(ctx, c.state, ev.ID, ev.Confirmed)
	default:
		c.logger.Debug().Str("event", string(ev.Type)).Msg("unknown widget event")
	}
}

func (c *Controller) send(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		c.logger.Debug().Err(ErrEmptyText).Msg("send ignored")
		return
	}
	msg := domain.NewMessage{Text: text, UserID: c.state.Session.ID, UserName: c.state.Session.Name}
	c.issue(ctx, opAdd, "", func(ctx context.Context) error {
		_, err := c.store.AddMessage(ctx, msg)
		return err
	})
}

func (c *Controller) openEdit(st UIState, id string) UIState {
	n, ok := c.rec.Node(id)
	if !ok {
		return st
	}
	st.EditingID = id
	c.sink.Push(view.Patch{Kind: view.PatchEditModal, ID: id, Text: n.Text})
	return st
}

func (c *Controller) closeEdit(st UIState) UIState {
	st.EditingID = ""
	c.sink.Push(view.Patch{Kind: view.PatchCloseModal})
	return st
}

// saveEdit issues the update; the modal stays open until the request
// completes so a failure can be retried by the user.
func (c *Controller) saveEdit(ctx context.Context, st UIState, text string) UIState {
	id := st.EditingID
	n, ok := c.rec.Node(id)
	if id == "" || !ok {
		return c.closeEdit(st)
	}

	text, err := editText(text, n.Text)
	if err != nil {
		c.logger.Debug().Err(err).Str(log.FieldMessageID, id).Msg("edit ignored")
		return c.closeEdit(st)
	}

	c.issue(ctx, opUpdate, id, func(ctx context.Context) error {
		return c.store.UpdateMessage(ctx, id, text)
	})
	return st
}

func (c *Controller) requestDelete(st UIState, id string) UIState {
	st.PendingDeleteID = id
	c.sink.Push(view.Patch{Kind: view.PatchConfirm, ID: id, Text: confirmDeleteText})
	return st
}

func (c *Controller) confirmDelete(ctx context.Context, st UIState, id string, confirmed bool) UIState {
	pending := st.PendingDeleteID
	st.PendingDeleteID = ""
	if !confirmed || pending == "" || id != pending {
		return st
	}

	c.issue(ctx, opDelete, id, func(ctx context.Context) error {
		return c.store.DeleteMessage(ctx, id)
	})
	return st
}

// issue runs a store request in the background. The request outlives the
// widget; its result is reported to the loop while the widget is running.
func (c *Controller) issue(ctx context.Context, op requestOp, id string, do func(context.Context) error) {
	reqCtx := context.WithoutCancel(ctx)
	go func() {
		err := do(reqCtx)
		if err != nil {
			err = &RequestError{Op: string(op), ID: id, Err: err}
		}
		select {
		case c.results <- requestResult{op: op, id: id, err: err}:
		case <-ctx.Done():
			metrics.Requests.WithLabelValues(string(op), metrics.Result(err)).Inc()
			if err != nil {
				c.logger.Error().Err(err).Str(log.FieldOp, string(op)).Msg("request failed after widget closed")
			}
		}
	}()
}

func (c *Controller) complete(res requestResult) {
	metrics.Requests.WithLabelValues(string(res.op), metrics.Result(res.err)).Inc()

	if res.err != nil {
		evt := c.logger.Error()
		if errors.Is(res.err, store.ErrNotFound) {
			evt = c.logger.Warn()
		}
		evt.Err(res.err).Str(log.FieldOp, string(res.op)).Str(log.FieldMessageID, res.id).Msg("request failed")
		c.sink.Push(view.Patch{Kind: view.PatchAlert, Text: res.op.alert()})
		return
	}

	switch res.op {
	case opAdd:
		c.sink.Push(view.Patch{Kind: view.PatchClearInput})
	case opUpdate:
		if c.state.EditingID == res.id {
			c.state = c.closeEdit(c.state)
		}
	}
}
