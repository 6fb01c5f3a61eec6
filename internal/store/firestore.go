package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/pelusa-v/firechat/internal/domain"
)

// FirestoreConfig holds Cloud Firestore connection configuration. When the
// FIRESTORE_EMULATOR_HOST environment variable is set the client talks to the
// emulator instead.
type FirestoreConfig struct {
	ProjectID       string
	CredentialsFile string
	RetryMin        time.Duration
	RetryMax        time.Duration
}

// Firestore is a Store backed by Cloud Firestore snapshot listeners.
type Firestore struct {
	client   *firestore.Client
	cols     Collections
	retryMin time.Duration
	retryMax time.Duration
}

// NewFirestore creates a Firestore client for the configured project.
func NewFirestore(ctx context.Context, cfg FirestoreConfig, cols Collections) (*Firestore, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firestore: project id is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	s := &Firestore{
		client:   client,
		cols:     cols.withDefaults(),
		retryMin: cfg.RetryMin,
		retryMax: cfg.RetryMax,
	}
	if s.retryMin <= 0 {
		s.retryMin = time.Second
	}
	if s.retryMax < s.retryMin {
		s.retryMax = 30 * time.Second
	}
	return s, nil
}

type firestoreMessage struct {
	Text      string     `firestore:"text"`
	UserID    string     `firestore:"userId"`
	UserName  string     `firestore:"userName"`
	Timestamp *time.Time `firestore:"timestamp"`
	Edited    bool       `firestore:"edited"`
}

type firestorePresence struct {
	UserID      string    `firestore:"userId"`
	UserName    string    `firestore:"userName"`
	State       string    `firestore:"state"`
	LastChanged time.Time `firestore:"lastChanged"`
}

func (s *Firestore) messages() *firestore.CollectionRef {
	return s.client.Collection(s.cols.Messages)
}

func (s *Firestore) AddMessage(ctx context.Context, msg domain.NewMessage) (string, error) {
	ref, _, err := s.messages().Add(ctx, map[string]interface{}{
		"text":      msg.Text,
		"userId":    msg.UserID,
		"userName":  msg.UserName,
		"timestamp": firestore.ServerTimestamp,
		"edited":    false,
	})
	if err != nil {
		return "", fmt.Errorf("add message: %w", err)
	}
	return ref.ID, nil
}

func (s *Firestore) UpdateMessage(ctx context.Context, id, text string) error {
	_, err := s.messages().Doc(id).Update(ctx, []firestore.Update{
		{Path: "text", Value: text},
		{Path: "edited", Value: true},
		{Path: "timestamp", Value: firestore.ServerTimestamp},
	})
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("update message %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("update message %s: %w", id, err)
	}
	return nil
}

func (s *Firestore) DeleteMessage(ctx context.Context, id string) error {
	if _, err := s.messages().Doc(id).Delete(ctx); err != nil {
		return fmt.Errorf("delete message %s: %w", id, err)
	}
	return nil
}

func (s *Firestore) SetPresence(ctx context.Context, p domain.Presence) error {
	_, err := s.client.Collection(s.cols.Status).Doc(p.UserID).Set(ctx, map[string]interface{}{
		"state":       p.State,
		"lastChanged": firestore.ServerTimestamp,
		"userId":      p.UserID,
		"userName":    p.UserName,
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("set presence %s: %w", p.UserID, err)
	}
	return nil
}

// WatchMessages keeps the state it delivered. The first snapshot of every
// (re-)opened listener is diffed against it, so deletes and edits made while
// the stream was down are still delivered.
func (s *Firestore) WatchMessages(ctx context.Context, onChange ChangeFunc, onError ErrorFunc) (Subscription, error) {
	q := s.messages().OrderBy("timestamp", firestore.Asc)
	known := docSet{}
	return s.listen(ctx, q, func(snap *firestore.QuerySnapshot, opened bool) error {
		var batch []domain.Change
		if opened {
			docs, err := snap.Documents.GetAll()
			if err != nil {
				return err
			}
			fresh := make([]domain.Message, 0, len(docs))
			for _, doc := range docs {
				m, err := decodeMessage(doc)
				if err != nil {
					return err
				}
				fresh = append(fresh, m)
			}
			batch = known.resync(fresh)
		} else {
			batch = make([]domain.Change, 0, len(snap.Changes))
			for _, ch := range snap.Changes {
				c, err := decodeChange(ch)
				if err != nil {
					return err
				}
				batch = append(batch, c)
			}
			known.apply(batch)
		}
		if len(batch) > 0 {
			onChange(batch)
		}
		return nil
	}, onError), nil
}

func (s *Firestore) WatchPresence(ctx context.Context, onChange PresenceFunc, onError ErrorFunc) (Subscription, error) {
	q := s.client.Collection(s.cols.Status).Where("state", "==", domain.StateOnline)
	return s.listen(ctx, q, func(snap *firestore.QuerySnapshot, _ bool) error {
		docs, err := snap.Documents.GetAll()
		if err != nil {
			return err
		}
		online := make([]domain.Presence, 0, len(docs))
		for _, doc := range docs {
			var p firestorePresence
			if err := doc.DataTo(&p); err != nil {
				return fmt.Errorf("decode presence %s: %w", doc.Ref.ID, err)
			}
			online = append(online, domain.Presence{
				UserID:      p.UserID,
				UserName:    p.UserName,
				State:       p.State,
				LastChanged: p.LastChanged,
			})
		}
		sortPresence(online)
		onChange(online)
		return nil
	}, onError), nil
}

func decodeChange(ch firestore.DocumentChange) (domain.Change, error) {
	if ch.Kind == firestore.DocumentRemoved {
		return domain.RemovedChange(ch.Doc.Ref.ID), nil
	}

	m, err := decodeMessage(ch.Doc)
	if err != nil {
		return domain.Change{}, err
	}

	switch ch.Kind {
	case firestore.DocumentAdded:
		return domain.AddedChange(m), nil
	case firestore.DocumentModified:
		return domain.ModifiedChange(m), nil
	default:
		return domain.Change{}, fmt.Errorf("unknown change kind %v for %s", ch.Kind, m.ID)
	}
}

func decodeMessage(doc *firestore.DocumentSnapshot) (domain.Message, error) {
	var fm firestoreMessage
	if err := doc.DataTo(&fm); err != nil {
		return domain.Message{}, fmt.Errorf("decode message %s: %w", doc.Ref.ID, err)
	}
	return domain.Message{
		ID:        doc.Ref.ID,
		Text:      fm.Text,
		UserID:    fm.UserID,
		UserName:  fm.UserName,
		Timestamp: fm.Timestamp,
		Edited:    fm.Edited,
	}, nil
}

// listen runs a snapshot listener and re-opens it with exponential backoff
// when the stream fails. handle sees opened=true for the first snapshot of
// each opened stream, which carries the full result set.
func (s *Firestore) listen(ctx context.Context, q firestore.Query, handle func(snap *firestore.QuerySnapshot, opened bool) error, onError ErrorFunc) Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &listenerSub{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(sub.done)
		backoff := s.retryMin
		for {
			it := q.Snapshots(ctx)
			opened := true
			for {
				snap, err := it.Next()
				if err == nil {
					backoff = s.retryMin
					err = handle(snap, opened)
					opened = false
				}
				if err != nil {
					it.Stop()
					if ctx.Err() != nil {
						return
					}
					onError(err)
					break
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff = min(backoff*2, s.retryMax)
		}
	}()
	return sub
}

func (s *Firestore) Close() error {
	return s.client.Close()
}
